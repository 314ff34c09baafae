package directory

import (
	"context"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainOfDN(t *testing.T) {
	tests := []struct {
		name string
		dn   string
		want string
	}{
		{"user dn", "CN=alice,OU=People,DC=corp,DC=example", "corp.example"},
		{"nested ou", "CN=Ops,OU=Groups,OU=IT,DC=emea,DC=corp,DC=example", "emea.corp.example"},
		{"case folding", "cn=x,dc=CORP,dc=Example", "corp.example"},
		{"no domain components", "CN=alice,OU=People", ""},
		{"empty", "", ""},
		{"escaped comma in rdn", `CN=Doe\, Jane,DC=corp,DC=example`, "corp.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DomainOfDN(tt.dn))
		})
	}
}

func TestBaseDNForDomain(t *testing.T) {
	assert.Equal(t, "DC=corp,DC=example", BaseDNForDomain("corp.example"))
	assert.Equal(t, "DC=example", BaseDNForDomain("example"))
	assert.Equal(t, "", BaseDNForDomain(""))
}

func TestRootNamingContext(t *testing.T) {
	conn := &fakeConn{handler: func(req *SearchRequest) ([]*ldap.Entry, error) {
		assert.Equal(t, "", req.BaseDN)
		assert.Equal(t, ScopeBaseObject, req.Scope)
		return []*ldap.Entry{
			ldap.NewEntry("", map[string][]string{
				"defaultNamingContext": {"DC=corp,DC=example"},
			}),
		}, nil
	}}

	base, err := RootNamingContext(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "DC=corp,DC=example", base)

	empty := &fakeConn{handler: func(*SearchRequest) ([]*ldap.Entry, error) {
		return nil, nil
	}}
	base, err = RootNamingContext(context.Background(), empty)
	require.NoError(t, err)
	assert.Equal(t, "", base)
}
