package directory

import (
	"context"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/directory-resolver/sid"
)

var testTrusts = StaticTrustProvider{
	{DomainName: "corp.example", DomainNetBiosName: "CORP", InForest: true, Inbound: true, Outbound: true, IsRoot: true},
	{DomainName: "emea.example", DomainNetBiosName: "EMEA", InForest: true, Inbound: true, Outbound: true},
	{DomainName: "partner.example", DomainNetBiosName: "PARTNER", Inbound: true, Outbound: true},
}

type okAuthenticator struct {
	calls int
}

func (a *okAuthenticator) Authenticate(context.Context, string, string) error {
	a.calls++
	return nil
}

func userEntry(dn, account, sidText string, memberOf ...string) *ldap.Entry {
	return ldap.NewEntry(dn, map[string][]string{
		"sAMAccountName":     {account},
		"displayName":        {account + " Display"},
		"objectSid":          {string(sid.MustParse(sidText).Encode())},
		"userAccountControl": {"512"},
		"memberOf":           memberOf,
	})
}

func newTestProvider(t *testing.T, conn Conn, opts ...Option) (*Provider, *okAuthenticator) {
	t.Helper()
	cfg := &Config{
		Domain: "corp.example",
		Connection: ConnectionConfig{
			Username: "svc@corp.example",
			Password: "secret",
		},
	}
	return newTestProviderWithConfig(t, cfg, conn, opts...)
}

func newTestProviderWithConfig(t *testing.T, cfg *Config, conn Conn, opts ...Option) (*Provider, *okAuthenticator) {
	t.Helper()
	auth := &okAuthenticator{}
	base := []Option{
		WithDiscoverer(&fakeDiscoverer{rounds: [][]*ServerInfo{{serverNamed("dc1.corp.example")}}}),
		WithDialFunc(fakeDial(conn)),
		WithTrustProvider(testTrusts),
		WithAuthenticator(auth),
	}
	provider, err := NewProvider(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(provider.Close)
	return provider, auth
}

func TestAuthenticateThenServeFromCache(t *testing.T) {
	alice := userEntry("CN=alice,DC=corp,DC=example", "alice",
		"S-1-5-21-1-2-3-500", "CN=G1,DC=corp,DC=example")
	g1 := groupEntry("CN=G1,DC=corp,DC=example", "G1", typeSecurityGlobal, "S-1-5-21-1-2-3-1101")

	conn := &fakeConn{}
	conn.handler = func(req *SearchRequest) ([]*ldap.Entry, error) {
		switch {
		case filterContains(req, "(sAMAccountName=alice)"):
			return []*ldap.Entry{alice}, nil
		case filterContains(req, "(distinguishedName=CN=G1,DC=corp,DC=example)"):
			return []*ldap.Entry{g1}, nil
		default:
			return nil, nil
		}
	}
	provider, auth := newTestProvider(t, conn)
	ctx := context.Background()

	info, err := provider.Authenticate(ctx, PrincipalID{Name: "alice", Domain: "corp.example"}, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, "alice", info.SamAccountName)
	assert.Equal(t, "S-1-5-21-1-2-3-500", info.UserSid)
	require.Len(t, info.ResolvedGroupNames, 1)
	assert.Equal(t, GroupName{
		AccountName:   "G1",
		DomainFQDN:    "corp.example",
		DomainNetBios: "CORP",
		SID:           "S-1-5-21-1-2-3-1101",
	}, info.ResolvedGroupNames[0])

	cached, ok := provider.CachedAccount("alice@corp.example")
	require.True(t, ok)
	assert.Same(t, info, cached)

	// A subsequent group fetch is served from the cache: no additional
	// directory round trips.
	before := len(conn.searches)
	groups, err := provider.ResolveGroups(ctx, PrincipalID{Name: "alice", Domain: "corp.example"})
	require.NoError(t, err)
	assert.Equal(t, info.ResolvedGroupNames, groups)
	assert.Equal(t, before, len(conn.searches))
}

func TestAuthenticateCachesAliasSpelling(t *testing.T) {
	alice := userEntry("CN=alice,DC=corp,DC=example", "alice", "S-1-5-21-1-2-3-500")

	conn := &fakeConn{}
	conn.handler = func(req *SearchRequest) ([]*ldap.Entry, error) {
		if filterContains(req, "(sAMAccountName=alice)") {
			return []*ldap.Entry{alice}, nil
		}
		return nil, nil
	}
	provider, _ := newTestProvider(t, conn)

	// Login uses the NetBIOS alias; normalization maps it to the DNS name
	// before any query, and the cache serves both spellings afterwards.
	_, err := provider.Authenticate(context.Background(), PrincipalID{Name: "alice", Domain: "CORP"}, "hunter2")
	require.NoError(t, err)

	_, ok := provider.CachedAccount("alice@corp.example")
	assert.True(t, ok)
	_, ok = provider.CachedAccount("alice@CORP")
	assert.True(t, ok)
}

func TestFindUserByObjectIDGlobalCatalogFallback(t *testing.T) {
	bobSid := "S-1-5-21-7-7-7-700"
	bob := userEntry("CN=bob,DC=emea,DC=example", "bob", bobSid)
	raw := sid.MustParse(bobSid).Encode()

	conn := &fakeConn{}
	conn.handler = func(req *SearchRequest) ([]*ldap.Entry, error) {
		if !filterContains(req, escapeBinary(raw)) {
			return nil, nil
		}
		// Present only forest-wide: the home naming context misses, the
		// GC search with its minimal base DN hits.
		if req.BaseDN == "" {
			return []*ldap.Entry{bob}, nil
		}
		return nil, nil
	}
	provider, _ := newTestProvider(t, conn)

	user, err := provider.FindUserByObjectID(context.Background(), bobSid)
	require.NoError(t, err)
	assert.Equal(t, PrincipalID{Name: "bob", Domain: "emea.example"}, user.ID)
	require.NotNil(t, user.Alias)
	assert.Equal(t, PrincipalID{Name: "bob", Domain: "EMEA"}, *user.Alias)
	assert.Equal(t, bobSid, user.ObjectSid)
}

func TestFindUserByObjectIDRejectsMalformedID(t *testing.T) {
	provider, _ := newTestProvider(t, &fakeConn{handler: func(*SearchRequest) ([]*ldap.Entry, error) {
		return nil, nil
	}})

	_, err := provider.FindUserByObjectID(context.Background(), "not-an-identifier")
	require.Error(t, err)
	assert.True(t, IsSchema(err))
}

type staticFallback struct {
	user *PersonUser
}

func (f *staticFallback) LookupUser(context.Context, PrincipalID) (*PersonUser, error) {
	return f.user, nil
}

func (f *staticFallback) LookupGroup(context.Context, PrincipalID) (*Group, error) {
	return nil, &Error{Op: "native_lookup", Kind: KindNotFound}
}

func TestFindUserNativeFallback(t *testing.T) {
	conn := &fakeConn{handler: func(*SearchRequest) ([]*ldap.Entry, error) {
		return nil, nil
	}}
	local := &PersonUser{ID: PrincipalID{Name: "svc-local", Domain: "host"}}
	provider, _ := newTestProvider(t, conn, WithAccountFallback(&staticFallback{user: local}))

	user, err := provider.FindUser(context.Background(), PrincipalID{Name: "svc-local", Domain: "host"})
	require.NoError(t, err)
	assert.Same(t, local, user)
}

func TestFindUserAmbiguousMatch(t *testing.T) {
	dup1 := userEntry("CN=alice,OU=A,DC=corp,DC=example", "alice", "S-1-5-21-1-2-3-500")
	dup2 := userEntry("CN=alice,OU=B,DC=corp,DC=example", "alice", "S-1-5-21-1-2-3-501")

	conn := &fakeConn{handler: func(req *SearchRequest) ([]*ldap.Entry, error) {
		if filterContains(req, "(sAMAccountName=alice)") && req.BaseDN != "" {
			return []*ldap.Entry{dup1, dup2}, nil
		}
		return nil, nil
	}}
	provider, _ := newTestProvider(t, conn)

	_, err := provider.FindUser(context.Background(), PrincipalID{Name: "alice", Domain: "corp.example"})
	require.Error(t, err)
	assert.True(t, IsAmbiguous(err))
}

func TestFindPrincipalsByCriteriaSplit(t *testing.T) {
	users := []*ldap.Entry{
		userEntry("CN=ua,DC=corp,DC=example", "ua", "S-1-5-21-1-2-3-601"),
		userEntry("CN=ub,DC=corp,DC=example", "ub", "S-1-5-21-1-2-3-602"),
		userEntry("CN=uc,DC=corp,DC=example", "uc", "S-1-5-21-1-2-3-603"),
	}
	groups := []*ldap.Entry{
		groupEntry("CN=ga,DC=corp,DC=example", "ga", typeSecurityGlobal, "S-1-5-21-1-2-3-701"),
	}

	conn := &fakeConn{handler: func(req *SearchRequest) ([]*ldap.Entry, error) {
		switch {
		case filterContains(req, "(objectClass=user)"):
			return users, nil
		case filterContains(req, "(objectClass=group)"):
			return groups, nil
		}
		return nil, nil
	}}
	provider, _ := newTestProvider(t, conn)

	// Limit 4 splits 2/2; the group bucket under-fills by one, so users
	// absorb the spare slot.
	foundUsers, foundGroups, err := provider.FindPrincipalsByCriteria(context.Background(), "a", 4)
	require.NoError(t, err)
	assert.Len(t, foundUsers, 3)
	assert.Len(t, foundGroups, 1)
	assert.Equal(t, "ua", foundUsers[0].ID.Name, "results are ordered by account name")
}

func TestDisabledUsersSizeLimitNotRetried(t *testing.T) {
	conn := &fakeConn{handler: func(req *SearchRequest) ([]*ldap.Entry, error) {
		return nil, ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errNetwork{})
	}}
	provider, _ := newTestProvider(t, conn)

	_, err := provider.DisabledUsers(context.Background(), 100)
	require.Error(t, err)
	assert.True(t, IsSizeLimit(err))
	assert.Len(t, conn.searches, 1, "a size-limit truncation is re-raised without a home-domain retry")
}

func TestDisabledUsersHomeDomainRetryOnGenericFailure(t *testing.T) {
	disabled := userEntry("CN=off,DC=corp,DC=example", "off", "S-1-5-21-1-2-3-800")

	conn := &fakeConn{}
	conn.handler = func(req *SearchRequest) ([]*ldap.Entry, error) {
		if req.BaseDN == "" {
			return nil, ldap.NewError(ldap.LDAPResultOperationsError, errNetwork{})
		}
		return []*ldap.Entry{disabled}, nil
	}
	provider, _ := newTestProvider(t, conn)

	users, err := provider.DisabledUsers(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "off", users[0].ID.Name)
}

func TestResolveGroupsForeignSecurityPrincipalExpansion(t *testing.T) {
	extSid := "S-1-5-21-55-55-55-900"
	ext := userEntry("CN=ext,DC=partner,DC=example", "ext", extSid)
	fsp := ldap.NewEntry("CN="+extSid+",CN=ForeignSecurityPrincipals,DC=corp,DC=example", map[string][]string{
		"memberOf": {"CN=ExtAccess,DC=corp,DC=example"},
	})
	extAccess := groupEntry("CN=ExtAccess,DC=corp,DC=example", "ExtAccess",
		typeSecurityDomainLocal, "S-1-5-21-1-2-3-1300")

	conn := &fakeConn{}
	conn.handler = func(req *SearchRequest) ([]*ldap.Entry, error) {
		switch {
		case filterContains(req, "(sAMAccountName=ext)"):
			return []*ldap.Entry{ext}, nil
		case filterContains(req, "objectClass=foreignSecurityPrincipal") && filterContains(req, "(cn="+extSid+")"):
			return []*ldap.Entry{fsp}, nil
		case filterContains(req, "(distinguishedName=CN=ExtAccess,DC=corp,DC=example)"):
			return []*ldap.Entry{extAccess}, nil
		default:
			return nil, nil
		}
	}

	cfg := &Config{
		Domain: "corp.example",
		Connection: ConnectionConfig{
			Username: "svc@corp.example",
			Password: "secret",
		},
		ForestTrustGroups:                true,
		ResolveForeignSecurityPrincipals: true,
	}
	provider, _ := newTestProviderWithConfig(t, cfg, conn)

	// The principal lives outside the forest; its memberships in the home
	// domain exist only through the FSP placeholder named after its SID.
	groups, err := provider.ResolveGroups(context.Background(), PrincipalID{Name: "ext", Domain: "partner.example"})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, GroupName{
		AccountName:   "ExtAccess",
		DomainFQDN:    "corp.example",
		DomainNetBios: "CORP",
		SID:           "S-1-5-21-1-2-3-1300",
	}, groups[0], "a home-domain domain-local group granted via the placeholder survives exclusion")
}

func TestResolveGroupsForeignExpansionFailureIsBestEffort(t *testing.T) {
	ext := userEntry("CN=ext,DC=partner,DC=example", "ext", "S-1-5-21-55-55-55-901",
		"CN=PG,DC=partner,DC=example")
	pg := groupEntry("CN=PG,DC=partner,DC=example", "PG", typeSecurityGlobal, "S-1-5-21-55-55-55-1400")

	conn := &fakeConn{}
	conn.handler = func(req *SearchRequest) ([]*ldap.Entry, error) {
		switch {
		case filterContains(req, "(sAMAccountName=ext)"):
			return []*ldap.Entry{ext}, nil
		case filterContains(req, "(distinguishedName=CN=PG,DC=partner,DC=example)"):
			return []*ldap.Entry{pg}, nil
		case filterContains(req, "objectClass=foreignSecurityPrincipal"):
			return nil, ldap.NewError(ldap.LDAPResultOperationsError, errNetwork{})
		default:
			return nil, nil
		}
	}

	cfg := &Config{
		Domain: "corp.example",
		Connection: ConnectionConfig{
			Username: "svc@corp.example",
			Password: "secret",
		},
		ForestTrustGroups:                true,
		ResolveForeignSecurityPrincipals: true,
	}
	provider, _ := newTestProviderWithConfig(t, cfg, conn)

	// A failing placeholder lookup must not discard the memberships already
	// resolved from the principal's own domain.
	groups, err := provider.ResolveGroups(context.Background(), PrincipalID{Name: "ext", Domain: "partner.example"})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "PG", groups[0].AccountName)
}

func TestResolveGroupsTokenGroupsMergesGlobalCatalogRead(t *testing.T) {
	homeSid := sid.MustParse("S-1-5-21-1-2-3-1101").Encode()
	forestSid := sid.MustParse("S-1-5-21-4-4-4-1201").Encode()

	alice := userEntry("CN=alice,DC=corp,DC=example", "alice", "S-1-5-21-1-2-3-500")
	g1 := groupEntry("CN=G1,DC=corp,DC=example", "G1", typeSecurityGlobal, "S-1-5-21-1-2-3-1101")
	gf := groupEntry("CN=GF,DC=emea,DC=example", "GF", typeSecurityUniversal, "S-1-5-21-4-4-4-1201")

	tokenReads := 0
	conn := &fakeConn{}
	conn.handler = func(req *SearchRequest) ([]*ldap.Entry, error) {
		if req.BaseDN == "CN=alice,DC=corp,DC=example" && req.Scope == ScopeBaseObject {
			tokenReads++
			values := []string{string(homeSid)}
			if tokenReads > 1 {
				// The Global Catalog materializes the forest-wide
				// closure, including the cross-domain grant.
				values = append(values, string(forestSid))
			}
			return []*ldap.Entry{
				ldap.NewEntry(req.BaseDN, map[string][]string{"tokenGroups": values}),
			}, nil
		}

		var matched []*ldap.Entry
		switch {
		case filterContains(req, "(sAMAccountName=alice)"):
			matched = append(matched, alice)
		default:
			if filterContains(req, escapeBinary(homeSid)) {
				matched = append(matched, g1)
			}
			if filterContains(req, escapeBinary(forestSid)) {
				matched = append(matched, gf)
			}
		}
		return matched, nil
	}

	cfg := &Config{
		Domain: "corp.example",
		Connection: ConnectionConfig{
			Username: "svc@corp.example",
			Password: "secret",
		},
		UseTokenGroups:    true,
		ForestTrustGroups: true,
	}
	provider, _ := newTestProviderWithConfig(t, cfg, conn)

	groups, err := provider.ResolveGroups(context.Background(), PrincipalID{Name: "alice", Domain: "corp.example"})
	require.NoError(t, err)

	assert.Equal(t, 2, tokenReads, "home read plus one Global Catalog re-read")
	sids := make(map[string]string, len(groups))
	for _, g := range groups {
		sids[g.SID] = g.DomainNetBios
	}
	assert.Equal(t, map[string]string{
		"S-1-5-21-1-2-3-1101": "CORP",
		"S-1-5-21-4-4-4-1201": "EMEA",
	}, sids, "SIDs from both reads resolve, deduplicated on the overlap")
}

func TestMaxPasswordAgeMemoized(t *testing.T) {
	conn := &fakeConn{}
	conn.handler = func(req *SearchRequest) ([]*ldap.Entry, error) {
		// 42 days in negative 100-nanosecond intervals.
		return []*ldap.Entry{
			ldap.NewEntry("DC=corp,DC=example", map[string][]string{
				"maxPwdAge": {"-36288000000000"},
			}),
		}, nil
	}
	provider, _ := newTestProvider(t, conn)
	ctx := context.Background()

	age, err := provider.MaxPasswordAge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42*24*60*60, int(age.Seconds()))

	before := len(conn.searches)
	_, err = provider.MaxPasswordAge(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, len(conn.searches), "policy is computed once and memoized")
}
