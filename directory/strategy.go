package directory

import (
	"context"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/isometry/directory-resolver/sid"
)

// GroupSearchStrategy drives one group-membership expansion. The two
// implementations differ in how they batch filters and whether found groups
// propagate further work; the selection is fixed per identity source and
// never changes mid-call. Strategy state is local to one resolution call
// and needs no locking.
type GroupSearchStrategy interface {
	// FiltersByDomain returns the next round of filters, grouped by the
	// domain whose controllers should execute them. An empty map means the
	// round produced no work.
	FiltersByDomain() map[string][]string

	// SearchAttributes lists the attributes each round requests.
	SearchAttributes(includeDescription bool) []string

	// OnEntryFound feeds a returned group back into the strategy so it can
	// schedule follow-up work.
	OnEntryFound(entry *ldap.Entry)

	// HasMoreWork reports whether another round is pending.
	HasMoreWork() bool

	// ExcludeGroup reports whether a returned group must be dropped from
	// the results. Exclusion does not stop propagation.
	ExcludeGroup(entry *ldap.Entry, sidText string) bool

	// UsesGlobalCatalog routes the strategy's searches to GC endpoints.
	UsesGlobalCatalog() bool

	// HomeDomain is the joined domain the principal was resolved in.
	HomeDomain() string
}

// FoundGroup is one accepted result of a group expansion.
type FoundGroup struct {
	Entry   *ldap.Entry
	SidText string
	Domain  string
}

// runGroupSearch executes a strategy to completion: each round's filters
// run as paged searches against the strategy's chosen endpoints, every
// returned entry is offered back to the strategy for propagation, and
// non-excluded entries accumulate as results. Results deduplicate on DN.
func runGroupSearch(ctx context.Context, pool *Pool, strategy GroupSearchStrategy, sidAttr string, pageSize uint32, includeDescription bool, logger *zap.Logger) ([]FoundGroup, error) {
	attributes := strategy.SearchAttributes(includeDescription)
	seen := make(map[string]bool)
	var results []FoundGroup

	for strategy.HasMoreWork() {
		byDomain := strategy.FiltersByDomain()
		if len(byDomain) == 0 {
			break
		}

		for domain, filters := range byDomain {
			if domain == "" {
				domain = strategy.HomeDomain()
			}
			handle, err := pool.Borrow(ctx, domain, strategy.UsesGlobalCatalog())
			if err != nil {
				return nil, err
			}

			searchErr := func() error {
				for _, filter := range filters {
					entries, err := pagedSearch(ctx, handle, &SearchRequest{
						BaseDN:     BaseDNForDomain(domain),
						Scope:      ScopeWholeSubtree,
						Filter:     filter,
						Attributes: attributes,
					}, pageSize)
					if err != nil {
						return err
					}
					for _, entry := range entries {
						strategy.OnEntryFound(entry)
						if seen[entry.DN] {
							continue
						}
						seen[entry.DN] = true

						sidText := sidTextOf(entry, sidAttr)
						if strategy.ExcludeGroup(entry, sidText) {
							logger.Debug("group excluded from expansion",
								zap.String("dn", entry.DN),
								zap.String("sid", sidText))
							continue
						}
						results = append(results, FoundGroup{
							Entry:   entry,
							SidText: sidText,
							Domain:  DomainOfDN(entry.DN),
						})
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
				return nil, wrapLDAP("group_search", searchErr)
			}
			handle.Release()
		}
	}
	return results, nil
}

// pagedSearch drains a paged search into one slice.
func pagedSearch(ctx context.Context, conn Conn, req *SearchRequest, pageSize uint32) ([]*ldap.Entry, error) {
	var entries []*ldap.Entry
	var cookie []byte
	for {
		page, next, err := conn.SearchPage(ctx, req, pageSize, cookie)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page.Entries...)
		if len(next) == 0 {
			return entries, nil
		}
		cookie = next
	}
}

// sidTextOf decodes an entry's raw SID attribute into its textual form, or
// "" when absent or malformed.
func sidTextOf(entry *ldap.Entry, sidAttr string) string {
	raw := entry.GetRawAttributeValue(sidAttr)
	if len(raw) == 0 {
		return ""
	}
	decoded, err := sid.Decode(raw)
	if err != nil {
		return ""
	}
	return decoded.String()
}
