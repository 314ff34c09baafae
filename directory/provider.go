package directory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/isometry/directory-resolver/sid"
)

// Authenticator verifies a principal's password. The production
// implementation performs a simple bind as the principal; tests substitute
// fakes.
type Authenticator interface {
	Authenticate(ctx context.Context, upn, password string) error
}

// AccountFallback is the native account adapter consulted when the
// directory path fails or the object lives outside any directory-visible
// domain, such as local OS accounts.
type AccountFallback interface {
	LookupUser(ctx context.Context, id PrincipalID) (*PersonUser, error)
	LookupGroup(ctx context.Context, id PrincipalID) (*Group, error)
}

// Provider is the directory resolution facade. All operations are
// synchronous and safe for concurrent use; deadlines are enforced by the
// caller's context, not internally.
type Provider struct {
	cfg     *Config
	logger  *zap.Logger
	schema  *Schema
	queries *Queries
	mapper  *entryMapper
	pool    *Pool
	dcCache *DcInfoCache

	trust    TrustProvider
	auth     Authenticator
	fallback AccountFallback

	accounts   *AccountCache
	groupNames *GroupNameCache
	policy     policyCache
}

// Option customizes provider construction, mainly to substitute fakes in
// tests.
type Option func(*providerDeps)

type providerDeps struct {
	logger     *zap.Logger
	discoverer Discoverer
	dial       DialFunc
	dcCache    *DcInfoCache
	trust      TrustProvider
	auth       Authenticator
	fallback   AccountFallback
}

// WithLogger installs a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *providerDeps) { d.logger = logger }
}

// WithDiscoverer replaces SRV-based controller discovery.
func WithDiscoverer(discoverer Discoverer) Option {
	return func(d *providerDeps) { d.discoverer = discoverer }
}

// WithDialFunc replaces the production connection dialer.
func WithDialFunc(dial DialFunc) Option {
	return func(d *providerDeps) { d.dial = dial }
}

// WithDcInfoCache shares an externally owned controller cache.
func WithDcInfoCache(cache *DcInfoCache) Option {
	return func(d *providerDeps) { d.dcCache = cache }
}

// WithTrustProvider replaces the directory-backed trust metadata source.
func WithTrustProvider(trust TrustProvider) Option {
	return func(d *providerDeps) { d.trust = trust }
}

// WithAuthenticator replaces the password verification capability.
func WithAuthenticator(auth Authenticator) Option {
	return func(d *providerDeps) { d.auth = auth }
}

// WithAccountFallback installs a native account adapter.
func WithAccountFallback(fallback AccountFallback) Option {
	return func(d *providerDeps) { d.fallback = fallback }
}

// NewProvider validates the configuration and assembles the engine.
func NewProvider(cfg *Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var deps providerDeps
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.logger == nil {
		deps.logger = zap.NewNop()
	}
	if deps.discoverer == nil {
		deps.discoverer = NewSRVDiscovery(deps.logger)
	}
	if deps.dcCache == nil {
		deps.dcCache = NewDcInfoCache()
	}

	schema := NewSchema(&cfg.SchemaOverrides)
	queries, err := NewQueries(schema)
	if err != nil {
		return nil, err
	}
	mapper, err := newEntryMapper(schema, cfg.Domain)
	if err != nil {
		return nil, err
	}
	groupNames, err := NewGroupNameCache(cfg.GroupNameCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create group name cache")
	}

	pool := NewPool(cfg, deps.discoverer, deps.dcCache, deps.dial, deps.logger)

	p := &Provider{
		cfg:        cfg,
		logger:     deps.logger,
		schema:     schema,
		queries:    queries,
		mapper:     mapper,
		pool:       pool,
		dcCache:    deps.dcCache,
		trust:      deps.trust,
		auth:       deps.auth,
		fallback:   deps.fallback,
		accounts:   NewAccountCache(cfg.AccountCacheSize),
		groupNames: groupNames,
	}
	if p.trust == nil {
		p.trust = NewLDAPTrustProvider(pool, cfg.Domain, deps.logger)
	}
	if p.auth == nil {
		p.auth = &BindAuthenticator{pool: pool}
	}
	return p, nil
}

// Close releases pooled connections.
func (p *Provider) Close() {
	p.pool.Close()
}

// PoolStats exposes connection pool counters.
func (p *Provider) PoolStats() PoolStats {
	return p.pool.Stats()
}

// normalize resolves a NetBIOS alias to the canonical DNS domain using
// trust metadata. Required before any query or cache lookup keyed by UPN.
func (p *Provider) normalize(ctx context.Context, id PrincipalID) (PrincipalID, Trusts, error) {
	relations, err := p.trust.Trusts(ctx)
	if err != nil {
		return PrincipalID{}, nil, err
	}
	trusts := Trusts(relations)
	id.Domain = strings.ToLower(trusts.ResolveAlias(id.Domain))
	return id, trusts, nil
}

// withConn borrows a connection, runs fn, and releases or discards based on
// the failure kind. The release is guaranteed on every path.
func (p *Provider) withConn(ctx context.Context, domain string, gc bool, fn func(conn Conn) error) error {
	handle, err := p.pool.Borrow(ctx, domain, gc)
	if err != nil {
		return err
	}
	err = fn(handle)
	if err != nil && IsConnectivity(err) {
		handle.Discard()
	} else {
		handle.Release()
	}
	return err
}

// searchOne runs a filter expected to match exactly one entry. Zero matches
// is a not-found condition, several an ambiguity; the engine never silently
// picks one of several matches.
func (p *Provider) searchOne(ctx context.Context, domain string, gc bool, baseDN, filter, principal string, attrs []string) (*ldap.Entry, error) {
	var entry *ldap.Entry
	err := p.withConn(ctx, domain, gc, func(conn Conn) error {
		result, err := conn.Search(ctx, &SearchRequest{
			BaseDN:     baseDN,
			Scope:      ScopeWholeSubtree,
			Filter:     filter,
			Attributes: attrs,
		})
		if err != nil {
			return err
		}
		switch len(result.Entries) {
		case 0:
			return notFoundf("search", principal, "no matching entry")
		case 1:
			entry = result.Entries[0]
			return nil
		default:
			return ambiguousf("search", principal, "%d entries matched, expected one", len(result.Entries))
		}
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (p *Provider) userAttributes() []string {
	return []string{
		p.mapper.userAccount, p.mapper.userDisplay, p.mapper.userDesc,
		p.mapper.userSid, p.mapper.userUAC, p.mapper.userLockout,
	}
}

func (p *Provider) groupAttributes() []string {
	return []string{p.mapper.groupAccount, p.mapper.groupDesc, p.mapper.groupSid}
}

// Authenticate verifies the principal's password and populates the account
// cache under both the supplied and the normalized UPN spellings, so a
// later lookup by either form hits.
func (p *Provider) Authenticate(ctx context.Context, id PrincipalID, password string) (*UserInfoEx, error) {
	supplied := id.UPN()
	normalized, _, err := p.normalize(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := p.auth.Authenticate(ctx, normalized.UPN(), password); err != nil {
		return nil, wrapAuth(normalized.UPN(), err)
	}

	user, err := p.FindUser(ctx, normalized)
	if err != nil {
		return nil, err
	}
	groups, err := p.ResolveGroups(ctx, normalized)
	if err != nil {
		return nil, err
	}

	info := &UserInfoEx{
		SamAccountName:     user.ID.Name,
		UPN:                normalized.UPN(),
		ResolvedGroupNames: groups,
		UserSid:            user.ObjectSid,
	}
	p.accounts.Put(normalized.UPN(), info)
	if !strings.EqualFold(supplied, normalized.UPN()) {
		p.accounts.Put(supplied, info)
	}
	p.logger.Debug("principal authenticated",
		zap.String("upn", normalized.UPN()),
		zap.Int("group_count", len(groups)))
	return info, nil
}

func wrapAuth(principal string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	kind := classify(err)
	if kind == KindUnknown {
		kind = KindAuthentication
	}
	return &Error{Op: "authenticate", Kind: kind, Principal: principal, Cause: err}
}

// CachedAccount serves a prior authentication's account info from the
// cache; ok is false when the session has no entry for the UPN.
func (p *Provider) CachedAccount(upn string) (*UserInfoEx, bool) {
	return p.accounts.Get(upn)
}

// FindUser resolves a user principal. The primary path searches the
// principal's own domain; on failure a Global Catalog search and then the
// native fallback adapter are tried, and only if every path fails does an
// error surface.
func (p *Provider) FindUser(ctx context.Context, id PrincipalID) (*PersonUser, error) {
	normalized, trusts, err := p.normalize(ctx, id)
	if err != nil {
		return nil, err
	}

	filter := p.queries.UserByAccountName(normalized.Name)
	entry, primaryErr := p.searchOne(ctx, normalized.Domain, false,
		BaseDNForDomain(normalized.Domain), filter, normalized.UPN(), p.userAttributes())
	if primaryErr != nil {
		entry, err = p.searchOne(ctx, p.cfg.Domain, true, "", filter, normalized.UPN(), p.userAttributes())
		if err != nil {
			if p.fallback != nil {
				if user, fbErr := p.fallback.LookupUser(ctx, normalized); fbErr == nil {
					return user, nil
				}
			}
			return nil, primaryErr
		}
	}

	user := p.mapper.user(entry, trusts)
	return &user, nil
}

// FindGroup resolves a group principal, with the same fallback chain as
// FindUser.
func (p *Provider) FindGroup(ctx context.Context, id PrincipalID) (*Group, error) {
	normalized, trusts, err := p.normalize(ctx, id)
	if err != nil {
		return nil, err
	}

	filter := p.queries.GroupByAccountName(normalized.Name)
	entry, primaryErr := p.searchOne(ctx, normalized.Domain, false,
		BaseDNForDomain(normalized.Domain), filter, normalized.UPN(), p.groupAttributes())
	if primaryErr != nil {
		entry, err = p.searchOne(ctx, p.cfg.Domain, true, "", filter, normalized.UPN(), p.groupAttributes())
		if err != nil {
			if p.fallback != nil {
				if group, fbErr := p.fallback.LookupGroup(ctx, normalized); fbErr == nil {
					return group, nil
				}
			}
			return nil, primaryErr
		}
	}

	group := p.mapper.group(entry, trusts)
	return &group, nil
}

// FindUserByObjectID resolves a principal by textual SID or GUID. The home
// domain's non-GC endpoint is tried first for its richer attribute set; any
// failure falls back to a forest-wide Global Catalog search with a minimal
// base DN.
func (p *Provider) FindUserByObjectID(ctx context.Context, objectID string) (*PersonUser, error) {
	filter, err := p.objectIDFilter(objectID)
	if err != nil {
		return nil, err
	}
	relations, err := p.trust.Trusts(ctx)
	if err != nil {
		return nil, err
	}
	trusts := Trusts(relations)

	entry, homeErr := p.searchOne(ctx, p.cfg.Domain, false,
		BaseDNForDomain(p.cfg.Domain), filter, objectID, p.userAttributes())
	if homeErr != nil {
		entry, err = p.searchOne(ctx, p.cfg.Domain, true, "", filter, objectID, p.userAttributes())
		if err != nil {
			return nil, err
		}
	}

	user := p.mapper.user(entry, trusts)
	return &user, nil
}

func (p *Provider) objectIDFilter(objectID string) (string, error) {
	if IsGUID(objectID) {
		raw, err := GUIDToBytes(objectID)
		if err != nil {
			return "", schemaErrf("find_by_object_id", "invalid GUID: %v", err)
		}
		return p.queries.AnyByGUID(raw), nil
	}
	parsed, err := sid.Parse(objectID)
	if err != nil {
		return "", schemaErrf("find_by_object_id", "object id %q is neither SID nor GUID", objectID)
	}
	return p.queries.AnyBySid(parsed.Encode()), nil
}

// FindPrincipalsByCriteria searches users and groups by free text. The
// result limit splits deterministically between the buckets: users get the
// larger half, and spare capacity from an under-filled bucket flows to the
// other. Results are ordered by account name.
func (p *Provider) FindPrincipalsByCriteria(ctx context.Context, criteria string, limit int) ([]PersonUser, []Group, error) {
	if limit <= 0 {
		return nil, nil, schemaErrf("find_by_criteria", "limit must be positive, got %d", limit)
	}
	relations, err := p.trust.Trusts(ctx)
	if err != nil {
		return nil, nil, err
	}
	trusts := Trusts(relations)

	var userEntries, groupEntries []*ldap.Entry
	err = p.withConn(ctx, p.cfg.Domain, false, func(conn Conn) error {
		var err error
		userEntries, err = pagedSearch(ctx, conn, &SearchRequest{
			BaseDN:     BaseDNForDomain(p.cfg.Domain),
			Scope:      ScopeWholeSubtree,
			Filter:     p.queries.UsersByCriteria(criteria),
			Attributes: p.userAttributes(),
			SizeLimit:  limit,
		}, p.cfg.PageSize)
		if err != nil {
			return err
		}
		groupEntries, err = pagedSearch(ctx, conn, &SearchRequest{
			BaseDN:     BaseDNForDomain(p.cfg.Domain),
			Scope:      ScopeWholeSubtree,
			Filter:     p.queries.GroupsByCriteria(criteria),
			Attributes: p.groupAttributes(),
			SizeLimit:  limit,
		}, p.cfg.PageSize)
		return err
	})
	if err != nil {
		return nil, nil, wrapLDAP("find_by_criteria", err)
	}

	sortEntries(userEntries, p.mapper.userAccount)
	sortEntries(groupEntries, p.mapper.groupAccount)

	userQuota := (limit + 1) / 2
	groupQuota := limit - userQuota
	if len(userEntries) < userQuota {
		groupQuota += userQuota - len(userEntries)
	} else if len(groupEntries) < groupQuota {
		userQuota += groupQuota - len(groupEntries)
	}

	users := make([]PersonUser, 0, min(userQuota, len(userEntries)))
	for _, entry := range userEntries[:min(userQuota, len(userEntries))] {
		users = append(users, p.mapper.user(entry, trusts))
	}
	groups := make([]Group, 0, min(groupQuota, len(groupEntries)))
	for _, entry := range groupEntries[:min(groupQuota, len(groupEntries))] {
		groups = append(groups, p.mapper.group(entry, trusts))
	}
	return users, groups, nil
}

func sortEntries(entries []*ldap.Entry, accountAttr string) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].GetAttributeValue(accountAttr) < entries[j].GetAttributeValue(accountAttr)
	})
}

// ParentGroups lists the groups a principal is a direct member of.
func (p *Provider) ParentGroups(ctx context.Context, id PrincipalID) ([]Group, error) {
	return p.parentGroups(ctx, id, p.queries.ParentGroups)
}

// NestedParentGroups lists every group a principal belongs to transitively,
// using the server-side chain matching rule in one query.
func (p *Provider) NestedParentGroups(ctx context.Context, id PrincipalID) ([]Group, error) {
	return p.parentGroups(ctx, id, p.queries.NestedParentGroups)
}

func (p *Provider) parentGroups(ctx context.Context, id PrincipalID, filterFor func(dn string) string) ([]Group, error) {
	normalized, trusts, err := p.normalize(ctx, id)
	if err != nil {
		return nil, err
	}

	// The subject may be a user or a group; the template bifurcates on
	// whether the two classes share the account-name attribute.
	var entry *ldap.Entry
	for _, filter := range p.queries.UserOrGroupByAccountName(normalized.Name) {
		found, err := p.searchOne(ctx, normalized.Domain, false,
			BaseDNForDomain(normalized.Domain), filter,
			normalized.UPN(), []string{p.mapper.userAccount})
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if entry != nil {
			return nil, ambiguousf("parent_groups", normalized.UPN(), "name matches both a user and a group")
		}
		entry = found
	}
	if entry == nil {
		return nil, notFoundf("parent_groups", normalized.UPN(), "no matching entry")
	}

	var groups []Group
	err = p.withConn(ctx, normalized.Domain, false, func(conn Conn) error {
		entries, err := pagedSearch(ctx, conn, &SearchRequest{
			BaseDN:     BaseDNForDomain(normalized.Domain),
			Scope:      ScopeWholeSubtree,
			Filter:     filterFor(entry.DN),
			Attributes: p.groupAttributes(),
		}, p.cfg.PageSize)
		if err != nil {
			return err
		}
		for _, e := range entries {
			groups = append(groups, p.mapper.group(e, trusts))
		}
		return nil
	})
	if err != nil {
		return nil, wrapLDAP("parent_groups", err)
	}
	return groups, nil
}

// ResolveGroups enumerates the principal's effective security groups using
// the configured strategy. A cached authentication serves the group list
// without a directory round trip.
func (p *Provider) ResolveGroups(ctx context.Context, id PrincipalID) ([]GroupName, error) {
	normalized, trusts, err := p.normalize(ctx, id)
	if err != nil {
		return nil, err
	}
	if info, ok := p.accounts.Get(normalized.UPN()); ok {
		return info.ResolvedGroupNames, nil
	}

	entry, err := p.searchOne(ctx, normalized.Domain, false,
		BaseDNForDomain(normalized.Domain), p.queries.UserByAccountName(normalized.Name),
		normalized.UPN(), p.resolutionAttributes())
	if err != nil {
		return nil, err
	}

	strategy, err := p.buildStrategy(ctx, normalized, entry)
	if err != nil {
		return nil, err
	}
	found, err := runGroupSearch(ctx, p.pool, strategy, p.mapper.groupSid, p.cfg.PageSize, false, p.logger)
	if err != nil {
		return nil, err
	}

	if p.cfg.ForestTrustGroups && p.cfg.ResolveForeignSecurityPrincipals && !trusts.InForest(normalized.Domain) {
		extra, err := p.foreignExpansion(ctx, entry, found)
		if err != nil {
			p.logger.Warn("foreign security principal expansion failed",
				zap.String("upn", normalized.UPN()),
				zap.Error(err))
		} else {
			found = append(found, extra...)
		}
	}

	return p.groupNamesOf(found, trusts), nil
}

func (p *Provider) resolutionAttributes() []string {
	attrs := p.userAttributes()
	memberOf, err := p.schema.Attribute(ClassUser, AttrMemberOf)
	if err == nil {
		attrs = append(attrs, memberOf)
	}
	primaryGroup, err := p.schema.Attribute(ClassUser, AttrPrimaryGroupID)
	if err == nil {
		attrs = append(attrs, primaryGroup)
	}
	return attrs
}

// buildStrategy assembles the configured expansion strategy, seeded from
// the principal's entry.
func (p *Provider) buildStrategy(ctx context.Context, id PrincipalID, entry *ldap.Entry) (GroupSearchStrategy, error) {
	if p.cfg.UseTokenGroups {
		rawSids, err := p.readTokenGroups(ctx, id.Domain, entry.DN, false)
		if err != nil {
			return nil, err
		}
		if p.cfg.ForestTrustGroups {
			// The Global Catalog materializes the forest-wide closure;
			// the domain read alone misses SIDs granted through other
			// domains. The re-read is best effort.
			gcSids, err := p.readTokenGroups(ctx, p.cfg.Domain, entry.DN, true)
			if err != nil {
				p.logger.Warn("global catalog token groups read failed",
					zap.String("upn", id.UPN()),
					zap.Error(err))
			} else {
				rawSids = append(rawSids, gcSids...)
			}
		}
		return NewTokenGroupsStrategy(p.queries, id.Domain, rawSids, p.cfg.MaxFilterClauses, p.cfg.ForestTrustGroups)
	}

	memberOfAttr, err := p.schema.Attribute(ClassUser, AttrMemberOf)
	if err != nil {
		return nil, err
	}
	seeds := entry.GetAttributeValues(memberOfAttr)

	if p.cfg.IncludePrimaryGroup {
		primaryDN, err := p.primaryGroupDN(ctx, id.Domain, entry)
		if err != nil {
			p.logger.Warn("primary group resolution failed",
				zap.String("upn", id.UPN()),
				zap.Error(err))
		} else if primaryDN != "" {
			seeds = append(seeds, primaryDN)
		}
	}
	return NewMemberOfStrategy(p.queries, id.Domain, seeds, p.cfg.MaxFilterClauses)
}

// readTokenGroups fetches the constructed tokenGroups attribute, which the
// directory only materializes on a base-scope read of the object itself.
func (p *Provider) readTokenGroups(ctx context.Context, domain, userDN string, gc bool) ([][]byte, error) {
	tokenGroupsAttr, err := p.schema.Attribute(ClassUser, AttrTokenGroups)
	if err != nil {
		return nil, err
	}
	var raw [][]byte
	err = p.withConn(ctx, domain, gc, func(conn Conn) error {
		result, err := conn.Search(ctx, &SearchRequest{
			BaseDN:     userDN,
			Scope:      ScopeBaseObject,
			Filter:     "(objectClass=*)",
			Attributes: []string{tokenGroupsAttr},
		})
		if err != nil {
			return err
		}
		if len(result.Entries) == 0 {
			return notFoundf("token_groups", "", "object %s not found", userDN)
		}
		raw = result.Entries[0].GetRawAttributeValues(tokenGroupsAttr)
		return nil
	})
	if err != nil {
		return nil, wrapLDAP("token_groups", err)
	}
	return raw, nil
}

// primaryGroupDN derives the primary group's SID from the user's SID and
// primaryGroupID, then resolves it to a DN with one lookup. The directory
// omits the primary group from the member-of backlink.
func (p *Provider) primaryGroupDN(ctx context.Context, domain string, entry *ldap.Entry) (string, error) {
	primaryAttr, err := p.schema.Attribute(ClassUser, AttrPrimaryGroupID)
	if err != nil {
		return "", err
	}
	ridText := entry.GetAttributeValue(primaryAttr)
	if ridText == "" {
		return "", nil
	}
	rid, err := strconv.ParseInt(ridText, 10, 64)
	if err != nil {
		return "", schemaErrf("primary_group", "malformed primary group id %q", ridText)
	}

	raw := entry.GetRawAttributeValue(p.mapper.userSid)
	userSid, err := sid.Decode(raw)
	if err != nil {
		return "", schemaErrf("primary_group", "malformed user SID: %v", err)
	}
	groupSid, err := userSid.WithRid(rid)
	if err != nil {
		return "", schemaErrf("primary_group", "invalid primary group rid %d: %v", rid, err)
	}

	group, err := p.searchOne(ctx, domain, false, BaseDNForDomain(domain),
		p.queries.GroupBySid(groupSid.Encode()), groupSid.String(), []string{p.mapper.groupAccount})
	if err != nil {
		return "", err
	}
	return group.DN, nil
}

// foreignExpansion re-enters member-of expansion seeded from the groups
// containing the foreign-security-principal placeholders of the user's SID
// and already-found group SIDs.
func (p *Provider) foreignExpansion(ctx context.Context, entry *ldap.Entry, found []FoundGroup) ([]FoundGroup, error) {
	sidTexts := make([]string, 0, len(found)+1)
	if text := sidTextOf(entry, p.mapper.userSid); text != "" {
		sidTexts = append(sidTexts, text)
	}
	for _, g := range found {
		if g.SidText != "" {
			sidTexts = append(sidTexts, g.SidText)
		}
	}

	seeds, err := foreignGroupSeeds(ctx, p.pool, p.queries, p.cfg.Domain, sidTexts, p.cfg.MaxFilterClauses, p.logger)
	if err != nil || len(seeds) == 0 {
		return nil, err
	}

	strategy, err := NewMemberOfStrategy(p.queries, p.cfg.Domain, seeds, p.cfg.MaxFilterClauses)
	if err != nil {
		return nil, err
	}
	return runGroupSearch(ctx, p.pool, strategy, p.mapper.groupSid, p.cfg.PageSize, false, p.logger)
}

// groupNamesOf maps accepted expansion results to naming tuples. NetBIOS
// resolution is best effort per group: a group whose domain has no known
// alias still appears, with the conventional first-label alias.
func (p *Provider) groupNamesOf(found []FoundGroup, trusts Trusts) []GroupName {
	names := make([]GroupName, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, g := range found {
		if g.SidText != "" && seen[g.SidText] {
			continue
		}
		seen[g.SidText] = true

		if g.SidText != "" {
			if cached, ok := p.groupNames.Get(g.SidText); ok {
				names = append(names, cached)
				continue
			}
		}

		account := g.Entry.GetAttributeValue(p.mapper.groupAccount)
		if account == "" {
			p.logger.Debug("skipping group without account name", zap.String("dn", g.Entry.DN))
			continue
		}
		netbios := trusts.NetBiosOf(g.Domain)
		if netbios == "" {
			netbios = netBiosGuess(g.Domain)
		}
		name := GroupName{
			AccountName:   account,
			DomainFQDN:    g.Domain,
			DomainNetBios: netbios,
			SID:           g.SidText,
		}
		if g.SidText != "" {
			p.groupNames.Put(g.SidText, name)
		}
		names = append(names, name)
	}
	return names
}

// FindUsersInGroup enumerates a group's direct user members through ranged
// member retrieval, resolving each window's DNs via the Global Catalog.
// limit zero falls back to the configured maximum.
func (p *Provider) FindUsersInGroup(ctx context.Context, id PrincipalID, limit int) ([]PersonUser, error) {
	entries, trusts, err := p.membersOfGroup(ctx, id, limit, p.queries.UsersByDN, p.userAttributes())
	if err != nil {
		return nil, err
	}
	users := make([]PersonUser, 0, len(entries))
	for _, entry := range entries {
		users = append(users, p.mapper.user(entry, trusts))
	}
	return users, nil
}

// FindGroupsInGroup enumerates a group's direct group members.
func (p *Provider) FindGroupsInGroup(ctx context.Context, id PrincipalID, limit int) ([]Group, error) {
	entries, trusts, err := p.membersOfGroup(ctx, id, limit, p.queries.GroupsByDN, p.groupAttributes())
	if err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(entries))
	for _, entry := range entries {
		groups = append(groups, p.mapper.group(entry, trusts))
	}
	return groups, nil
}

func (p *Provider) membersOfGroup(ctx context.Context, id PrincipalID, limit int, filterFor func([]string) string, attrs []string) ([]*ldap.Entry, Trusts, error) {
	normalized, trusts, err := p.normalize(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = p.cfg.MaxGroupMembers
	}

	group, err := p.searchOne(ctx, normalized.Domain, false,
		BaseDNForDomain(normalized.Domain), p.queries.GroupByAccountName(normalized.Name),
		normalized.UPN(), []string{p.mapper.groupAccount})
	if err != nil {
		return nil, nil, err
	}

	memberAttr, err := p.schema.Attribute(ClassGroup, AttrMember)
	if err != nil {
		return nil, nil, err
	}

	var memberDNs []string
	err = p.withConn(ctx, normalized.Domain, false, func(conn Conn) error {
		var err error
		memberDNs, err = rangedValues(ctx, conn, group.DN, memberAttr, p.cfg.RangeStep, limit)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if len(memberDNs) == 0 {
		return nil, trusts, nil
	}

	var entries []*ldap.Entry
	err = p.withConn(ctx, p.cfg.Domain, true, func(conn Conn) error {
		for start := 0; start < len(memberDNs); start += p.cfg.MaxFilterClauses {
			end := min(start+p.cfg.MaxFilterClauses, len(memberDNs))
			batch, err := pagedSearch(ctx, conn, &SearchRequest{
				Scope:      ScopeWholeSubtree,
				Filter:     filterFor(memberDNs[start:end]),
				Attributes: attrs,
			}, p.cfg.PageSize)
			if err != nil {
				return err
			}
			entries = append(entries, batch...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, wrapLDAP("group_members", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, trusts, nil
}

// DisabledUsers enumerates disabled accounts forest-wide. The Global
// Catalog is tried first; a generic failure retries against the home
// domain, but a size-limit signal re-raises immediately since retrying
// would repeat the truncation.
func (p *Provider) DisabledUsers(ctx context.Context, limit int) ([]PersonUser, error) {
	return p.accountStateSearch(ctx, p.queries.AllDisabledUsers(), limit)
}

// LockedUsers enumerates locked-out accounts forest-wide, with the same
// fallback behavior as DisabledUsers.
func (p *Provider) LockedUsers(ctx context.Context, limit int) ([]PersonUser, error) {
	return p.accountStateSearch(ctx, p.queries.AllLockedUsers(), limit)
}

func (p *Provider) accountStateSearch(ctx context.Context, filter string, limit int) ([]PersonUser, error) {
	relations, err := p.trust.Trusts(ctx)
	if err != nil {
		return nil, err
	}
	trusts := Trusts(relations)

	entries, gcErr := p.stateSearchOn(ctx, true, "", filter, limit)
	if gcErr != nil {
		if IsSizeLimit(gcErr) {
			return nil, gcErr
		}
		entries, err = p.stateSearchOn(ctx, false, BaseDNForDomain(p.cfg.Domain), filter, limit)
		if err != nil {
			if IsSizeLimit(err) {
				return nil, err
			}
			return nil, gcErr
		}
	}

	users := make([]PersonUser, 0, len(entries))
	for _, entry := range entries {
		users = append(users, p.mapper.user(entry, trusts))
	}
	return users, nil
}

func (p *Provider) stateSearchOn(ctx context.Context, gc bool, baseDN, filter string, limit int) ([]*ldap.Entry, error) {
	var entries []*ldap.Entry
	err := p.withConn(ctx, p.cfg.Domain, gc, func(conn Conn) error {
		var err error
		entries, err = pagedSearch(ctx, conn, &SearchRequest{
			BaseDN:     baseDN,
			Scope:      ScopeWholeSubtree,
			Filter:     filter,
			Attributes: p.userAttributes(),
			SizeLimit:  limit,
		}, p.cfg.PageSize)
		return err
	})
	if err != nil {
		return nil, wrapLDAP("account_state_search", err)
	}
	return entries, nil
}

// MaxPasswordAge reports the domain's default maximum password age. The
// value is computed once per provider and memoized.
func (p *Provider) MaxPasswordAge(ctx context.Context) (time.Duration, error) {
	policy, err := p.policy.get(func() (*DomainPolicy, error) {
		return p.fetchDomainPolicy(ctx)
	})
	if err != nil {
		return 0, err
	}
	return policy.MaxPasswordAge, nil
}

// fetchDomainPolicy reads maxPwdAge from the domain head. The directory
// stores it as a negative count of 100-nanosecond intervals.
func (p *Provider) fetchDomainPolicy(ctx context.Context) (*DomainPolicy, error) {
	maxPwdAgeAttr, err := p.schema.Attribute(ClassDomain, AttrMaxPwdAge)
	if err != nil {
		return nil, err
	}

	var policy DomainPolicy
	err = p.withConn(ctx, p.cfg.Domain, false, func(conn Conn) error {
		result, err := conn.Search(ctx, &SearchRequest{
			BaseDN:     BaseDNForDomain(p.cfg.Domain),
			Scope:      ScopeBaseObject,
			Filter:     p.queries.DomainPolicy(),
			Attributes: []string{maxPwdAgeAttr},
		})
		if err != nil {
			return err
		}
		if len(result.Entries) == 0 {
			return notFoundf("domain_policy", "", "domain head object not found")
		}
		raw := result.Entries[0].GetAttributeValue(maxPwdAgeAttr)
		if raw == "" {
			return nil
		}
		intervals, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return schemaErrf("domain_policy", "malformed maxPwdAge %q", raw)
		}
		policy.MaxPasswordAge = time.Duration(-intervals) * 100 * time.Nanosecond
		return nil
	})
	if err != nil {
		return nil, wrapLDAP("domain_policy", err)
	}
	return &policy, nil
}

// BindAuthenticator verifies passwords with a simple bind as the principal
// on a dedicated connection, leaving pooled service-account connections
// untouched.
type BindAuthenticator struct {
	pool *Pool
	dial DialFunc
}

func (a *BindAuthenticator) Authenticate(ctx context.Context, upn, password string) error {
	if password == "" {
		return &Error{Op: "authenticate", Kind: KindAuthentication, Principal: upn,
			Cause: errors.New("empty password rejected")}
	}
	_, domain, found := strings.Cut(upn, "@")
	if !found {
		return &Error{Op: "authenticate", Kind: KindAuthentication, Principal: upn,
			Cause: errors.New("principal has no domain part")}
	}

	info, err := a.pool.controllers(ctx, poolKey{domain: strings.ToLower(domain)}, false)
	if err != nil {
		return err
	}

	bindCfg := a.pool.config.Connection
	bindCfg.Username = upn
	bindCfg.Password = password
	bindCfg.AuthMethod = AuthSimple

	dial := a.dial
	if dial == nil {
		dial = a.pool.dial
	}

	var lastErr error
	for _, server := range info.Servers {
		_, closeFn, err := dial(ctx, server, &bindCfg)
		if err == nil {
			closeFn()
			return nil
		}
		lastErr = err
		if !IsConnectivity(err) {
			break
		}
	}
	return wrapAuth(upn, lastErr)
}
