package directory

import (
	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/directory-resolver/sid"
)

// TokenGroupsStrategy resolves the flat SID list the directory precomputed
// in the principal's tokenGroups attribute. There is no graph traversal:
// one seeding read yields every transitive SID, and the rounds only turn
// SIDs into group objects. Batches use SID-equality clauses.
type TokenGroupsStrategy struct {
	queries     *Queries
	attrs       strategyAttrs
	home        string
	clauseLimit int
	useGC       bool

	pending [][]byte
	seeded  map[string]bool
}

// NewTokenGroupsStrategy seeds the expansion with the raw SIDs read from
// the principal's tokenGroups attribute. useGC routes the resolution
// searches to Global Catalog endpoints for forest-wide coverage.
func NewTokenGroupsStrategy(queries *Queries, home string, rawSids [][]byte, clauseLimit int, useGC bool) (*TokenGroupsStrategy, error) {
	attrs, err := resolveStrategyAttrs(queries.Schema())
	if err != nil {
		return nil, err
	}
	s := &TokenGroupsStrategy{
		queries:     queries,
		attrs:       attrs,
		home:        home,
		clauseLimit: clauseLimit,
		useGC:       useGC,
		seeded:      make(map[string]bool),
	}
	for _, raw := range rawSids {
		decoded, err := sid.Decode(raw)
		if err != nil {
			// A malformed SID in tokenGroups is a directory anomaly;
			// skip it rather than fail the whole expansion.
			continue
		}
		text := decoded.String()
		if s.seeded[text] {
			continue
		}
		s.seeded[text] = true
		s.pending = append(s.pending, raw)
	}
	return s, nil
}

// FiltersByDomain batches all pending SIDs against the home domain; the
// Global Catalog flag decides forest-wide visibility, not the routing
// domain.
func (s *TokenGroupsStrategy) FiltersByDomain() map[string][]string {
	if len(s.pending) == 0 {
		return nil
	}
	var filters []string
	for start := 0; start < len(s.pending); start += s.clauseLimit {
		end := min(start+s.clauseLimit, len(s.pending))
		filters = append(filters, s.queries.GroupsBySid(s.pending[start:end]))
	}
	s.pending = nil
	return map[string][]string{s.home: filters}
}

func (s *TokenGroupsStrategy) SearchAttributes(includeDescription bool) []string {
	attrs := []string{s.attrs.accountName, s.attrs.groupType, s.attrs.objectSid}
	if includeDescription {
		attrs = append(attrs, s.attrs.description)
	}
	return attrs
}

// OnEntryFound is a no-op; the directory already computed the transitive
// closure.
func (s *TokenGroupsStrategy) OnEntryFound(*ldap.Entry) {}

func (s *TokenGroupsStrategy) HasMoreWork() bool {
	return len(s.pending) > 0
}

// ExcludeGroup drops well-known groups, distribution groups, foreign
// domain-local groups, and any entry whose SID was never seeded.
func (s *TokenGroupsStrategy) ExcludeGroup(entry *ldap.Entry, sidText string) bool {
	if sid.IsWellKnown(sidText) {
		return true
	}
	if groupType, ok := parseGroupType(entry.GetAttributeValue(s.attrs.groupType)); ok {
		if !isSecurityGroup(groupType) {
			return true
		}
		if isDomainLocalGroup(groupType) && DomainOfDN(entry.DN) != s.home {
			return true
		}
	}
	return !s.seeded[sidText]
}

func (s *TokenGroupsStrategy) UsesGlobalCatalog() bool { return s.useGC }

func (s *TokenGroupsStrategy) HomeDomain() string { return s.home }
