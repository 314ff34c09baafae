package directory

import (
	"context"

	"go.uber.org/zap"
)

// foreignGroupSeeds locates the foreign-security-principal placeholders a
// trusting domain created for the given SIDs and returns the DNs of the
// groups containing those placeholders. The result re-seeds a member-of
// expansion so cross-forest memberships resolve.
//
// FSP containers name each placeholder after the SID text, so the lookup
// is a cn match under the trusting domain's naming context.
func foreignGroupSeeds(ctx context.Context, pool *Pool, queries *Queries, domain string, sidTexts []string, clauseLimit int, logger *zap.Logger) ([]string, error) {
	if len(sidTexts) == 0 {
		return nil, nil
	}

	memberOfAttr, err := queries.Schema().Attribute(ClassUser, AttrMemberOf)
	if err != nil {
		return nil, err
	}

	handle, err := pool.Borrow(ctx, domain, false)
	if err != nil {
		return nil, err
	}

	var seeds []string
	searchErr := func() error {
		for start := 0; start < len(sidTexts); start += clauseLimit {
			end := min(start+clauseLimit, len(sidTexts))
			result, err := handle.Search(ctx, &SearchRequest{
				BaseDN:     BaseDNForDomain(domain),
				Scope:      ScopeWholeSubtree,
				Filter:     queries.ForeignSecurityPrincipals(sidTexts[start:end]),
				Attributes: []string{memberOfAttr},
			})
			if err != nil {
				return err
			}
			for _, entry := range result.Entries {
				seeds = append(seeds, entry.GetAttributeValues(memberOfAttr)...)
			}
		}
		return nil
	}()

	if searchErr != nil {
		if IsConnectivity(searchErr) {
			handle.Discard()
		} else {
			handle.Release()
		}
		return nil, wrapLDAP("foreign_security_principals", searchErr)
	}
	handle.Release()

	logger.Debug("foreign security principal seeds resolved",
		zap.String("domain", domain),
		zap.Int("sid_count", len(sidTexts)),
		zap.Int("seed_count", len(seeds)))
	return seeds, nil
}
