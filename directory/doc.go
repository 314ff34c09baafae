/*
Package directory resolves authentication principals against an
Active-Directory-compatible directory service: users, groups, their
memberships, and account state, across a multi-domain forest with trust
relationships.

# Architecture Overview

The package is organized into several core components:

  - Provider: the resolution facade all operations go through
  - Schema/Queries: abstract attribute mapping and pre-built, injection-safe
    filter templates
  - Pool: pooled, failover-aware connections keyed by (domain, global catalog)
  - Strategies: the two group-membership expansion algorithms
  - Caches: account, group-name, and domain-controller caches

# Connection Management

Controllers are located through DNS SRV records (_ldaps._tcp, _ldap._tcp,
_gc._tcp) with explicit URL pinning for the home domain. Discovery results
are cached; a confirmed connectivity failure evicts the cached entry and
triggers exactly one forced rediscovery before the failure surfaces.
Connections bind with a simple bind or Kerberos GSSAPI.

# Group Membership

Two strategies implement the GroupSearchStrategy contract:

  - MemberOfStrategy walks the member-of backlink graph breadth first,
    batching group DNs into OR-filters grouped by domain, and optionally
    folds in the primary group the directory omits from the backlink.
  - TokenGroupsStrategy reads the precomputed tokenGroups SID list in one
    base-scope lookup and only resolves SIDs to group objects.

Both apply the same exclusions: well-known SIDs, distribution groups, and
domain-local groups from foreign domains. A foreign-security-principal
extension re-seeds expansion for out-of-forest principals.

# Error Handling

Failures carry an explicit kind (connectivity, authentication, not-found,
ambiguous, size-limit, schema) that decides retry and fallback behavior.
Size-limit truncations are never retried; schema faults are fatal.

# Thread Safety

A Provider is safe for concurrent use. Expansion state is local to each
call; shared caches are internally synchronized. Operations do not enforce
deadlines internally; wrap calls with a context deadline as needed.

# Example Usage

	cfg := &directory.Config{
		Domain: "corp.example",
		Connection: directory.ConnectionConfig{
			Username: "svc-resolver@corp.example",
			Password: "password",
		},
	}
	provider, err := directory.NewProvider(cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	info, err := provider.Authenticate(ctx, directory.PrincipalID{
		Name:   "alice",
		Domain: "corp.example",
	}, password)
	if err != nil {
		return err
	}
	for _, group := range info.ResolvedGroupNames {
		fmt.Println(group.DomainNetBios + "\\" + group.AccountName)
	}
*/
package directory
