package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    *ServerInfo
		wantErr bool
	}{
		{
			name: "ldaps with port",
			url:  "ldaps://dc1.corp.example:636",
			want: &ServerInfo{Host: "dc1.corp.example", Port: 636, UseTLS: true, Weight: 100, Source: "config"},
		},
		{
			name: "ldap default port",
			url:  "ldap://dc1.corp.example",
			want: &ServerInfo{Host: "dc1.corp.example", Port: 389, UseTLS: false, Weight: 100, Source: "config"},
		},
		{
			name: "ldaps default port",
			url:  "ldaps://dc1.corp.example",
			want: &ServerInfo{Host: "dc1.corp.example", Port: 636, UseTLS: true, Weight: 100, Source: "config"},
		},
		{
			name: "custom global catalog port",
			url:  "ldaps://gc.corp.example:3269",
			want: &ServerInfo{Host: "gc.corp.example", Port: 3269, UseTLS: true, Weight: 100, Source: "config"},
		},
		{
			name: "ipv6 literal with port",
			url:  "ldaps://[::1]:636",
			want: &ServerInfo{Host: "::1", Port: 636, UseTLS: true, Weight: 100, Source: "config"},
		},
		{
			name: "ipv6 literal default port",
			url:  "ldap://[2001:db8::1]",
			want: &ServerInfo{Host: "2001:db8::1", Port: 389, UseTLS: false, Weight: 100, Source: "config"},
		},
		{name: "empty", url: "", wantErr: true},
		{name: "unsupported scheme", url: "http://dc1.corp.example", wantErr: true},
		{name: "bad port", url: "ldap://dc1.corp.example:nope", wantErr: true},
		{name: "unterminated ipv6 literal", url: "ldap://[::1", wantErr: true},
		{name: "ipv6 literal bad port", url: "ldaps://[::1]:nope", wantErr: true},
		{name: "ipv6 literal trailing junk", url: "ldaps://[::1]x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServerURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortServers(t *testing.T) {
	servers := []*ServerInfo{
		{Host: "c", Priority: 10, Weight: 50},
		{Host: "a", Priority: 0, Weight: 10},
		{Host: "b", Priority: 0, Weight: 90},
	}
	sortServers(servers)

	hosts := []string{servers[0].Host, servers[1].Host, servers[2].Host}
	assert.Equal(t, []string{"b", "a", "c"}, hosts,
		"lower priority wins, heavier weight wins within a priority band")
}

func TestFallbackServers(t *testing.T) {
	domain := fallbackServers("corp.example", false)
	require.Len(t, domain, 2)
	assert.Equal(t, LDAPSPort, domain[0].Port)
	assert.True(t, domain[0].UseTLS)
	assert.Equal(t, LDAPPort, domain[1].Port)

	gc := fallbackServers("corp.example", true)
	require.Len(t, gc, 2)
	assert.Equal(t, GlobalCatalogTLSPort, gc[0].Port)
	assert.Equal(t, GlobalCatalogPort, gc[1].Port)
}

func TestServerInfoValidate(t *testing.T) {
	valid := &ServerInfo{Host: "dc1", Port: 636, Weight: 100}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		server *ServerInfo
	}{
		{"nil", nil},
		{"empty host", &ServerInfo{Port: 636}},
		{"zero port", &ServerInfo{Host: "dc1"}},
		{"port overflow", &ServerInfo{Host: "dc1", Port: 70000}},
		{"negative priority", &ServerInfo{Host: "dc1", Port: 636, Priority: -1}},
		{"negative weight", &ServerInfo{Host: "dc1", Port: 636, Weight: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.server.Validate())
		})
	}
}

func TestServerURL(t *testing.T) {
	assert.Equal(t, "ldaps://dc1:636", (&ServerInfo{Host: "dc1", Port: 636, UseTLS: true}).URL())
	assert.Equal(t, "ldap://dc1:389", (&ServerInfo{Host: "dc1", Port: 389}).URL())
	assert.Equal(t, "ldaps://[::1]:636", (&ServerInfo{Host: "::1", Port: 636, UseTLS: true}).URL())
}
