package directory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueries(t *testing.T, overrides *SchemaOverrides) *Queries {
	t.Helper()
	queries, err := NewQueries(NewSchema(overrides))
	require.NoError(t, err)
	return queries
}

func TestFilterEscaping(t *testing.T) {
	queries := newTestQueries(t, nil)

	tests := []struct {
		name  string
		input string
	}{
		{"wildcard", "admin*"},
		{"parens", "alice)(objectClass=*"},
		{"backslash", `corp\alice`},
		{"nul byte", "alice\x00"},
		{"full injection attempt", "*)(uid=*))(|(uid=*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := queries.UserByAccountName(tt.input)

			// The raw metacharacters must not survive into the filter;
			// only their hex escapes may appear after the attribute
			// equality.
			value := strings.TrimPrefix(filter, "(&(sAMAccountName=")
			value, _, _ = strings.Cut(value, ")(objectClass=")
			assert.NotContains(t, value, "*")
			assert.NotContains(t, value, "(")
			assert.NotContains(t, value, ")")
			assert.NotContains(t, value, "\x00")
		})
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	assert.Equal(t, `\2a\28\29\5c`, Escape(`*()\`))
	assert.Equal(t, "plain", Escape("plain"))
}

func TestUserOrGroupBifurcation(t *testing.T) {
	t.Run("shared attribute yields one disjunctive clause", func(t *testing.T) {
		queries := newTestQueries(t, nil)
		filters := queries.UserOrGroupByAccountName("ops")
		require.Len(t, filters, 1)
		assert.Equal(t, "(&(sAMAccountName=ops)(|(objectClass=user)(objectClass=group)))", filters[0])
	})

	t.Run("distinct attributes yield two class-scoped clauses", func(t *testing.T) {
		queries := newTestQueries(t, &SchemaOverrides{
			Attributes: map[ObjectClass]map[AttributeID]string{
				ClassGroup: {AttrAccountName: "cn"},
			},
		})
		filters := queries.UserOrGroupByAccountName("ops")
		require.Len(t, filters, 2)
		assert.Equal(t, "(&(sAMAccountName=ops)(objectClass=user))", filters[0])
		assert.Equal(t, "(&(cn=ops)(objectClass=group))", filters[1])
	})
}

func TestQueryTemplates(t *testing.T) {
	queries := newTestQueries(t, nil)

	assert.Equal(t, "(&(userPrincipalName=alice@corp.example)(objectClass=user))",
		queries.UserByUPN("alice@corp.example"))
	assert.Equal(t, "(&(objectClass=user)(userAccountControl:1.2.840.113556.1.4.803:=2))",
		queries.AllDisabledUsers())
	assert.Equal(t, "(&(objectClass=user)(lockoutTime>=1))",
		queries.AllLockedUsers())
	assert.Equal(t, "(&(objectClass=group)(member:1.2.840.113556.1.4.1941:=CN=a,DC=x))",
		queries.NestedParentGroups("CN=a,DC=x"))
}

func TestGroupsByDNBatching(t *testing.T) {
	queries := newTestQueries(t, nil)

	single := queries.GroupsByDN([]string{"CN=a,DC=x"})
	assert.Equal(t, "(&(objectClass=group)(distinguishedName=CN=a,DC=x))", single)

	batch := queries.GroupsByDN([]string{"CN=a,DC=x", "CN=b,DC=x"})
	assert.Equal(t, "(&(objectClass=group)(|(distinguishedName=CN=a,DC=x)(distinguishedName=CN=b,DC=x)))", batch)
}

func TestSchemaUnmappedAttributeFails(t *testing.T) {
	schema := NewSchema(nil)

	_, err := schema.Attribute(ClassDomain, AttrTokenGroups)
	require.Error(t, err)
	assert.True(t, IsSchema(err))
}

func TestSchemaOverridesApply(t *testing.T) {
	schema := NewSchema(&SchemaOverrides{
		Attributes: map[ObjectClass]map[AttributeID]string{
			ClassUser: {AttrAccountName: "uid"},
		},
		Classes: map[ObjectClass]string{
			ClassUser: "inetOrgPerson",
		},
	})

	name, err := schema.Attribute(ClassUser, AttrAccountName)
	require.NoError(t, err)
	assert.Equal(t, "uid", name)

	class, err := schema.Class(ClassUser)
	require.NoError(t, err)
	assert.Equal(t, "inetOrgPerson", class)
}
