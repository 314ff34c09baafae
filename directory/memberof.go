package directory

import (
	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/directory-resolver/sid"
)

// strategyAttrs are the directory attribute names a group expansion
// touches, resolved from the schema once per strategy instance.
type strategyAttrs struct {
	accountName string
	memberOf    string
	groupType   string
	objectSid   string
	description string
}

func resolveStrategyAttrs(schema *Schema) (strategyAttrs, error) {
	var attrs strategyAttrs
	var err error

	resolve := func(dst *string, id AttributeID) {
		if err != nil {
			return
		}
		*dst, err = schema.Attribute(ClassGroup, id)
	}
	resolve(&attrs.accountName, AttrAccountName)
	resolve(&attrs.memberOf, AttrMemberOf)
	resolve(&attrs.groupType, AttrGroupType)
	resolve(&attrs.objectSid, AttrObjectSid)
	resolve(&attrs.description, AttrDescription)
	if err != nil {
		return strategyAttrs{}, err
	}
	return attrs, nil
}

// MemberOfStrategy walks the member-of backlink graph breadth first. Each
// round drains the pending DNs into OR-filters of at most clauseLimit
// terms, grouped by the DN's domain so cross-domain groups are fetched from
// their own controllers. Deduplication is on the DN string exactly as the
// directory returned it.
type MemberOfStrategy struct {
	queries     *Queries
	attrs       strategyAttrs
	home        string
	clauseLimit int

	pending  []string
	enqueued map[string]bool
}

// NewMemberOfStrategy seeds a member-of expansion with the principal's
// direct group DNs. The primary group, which the directory omits from the
// backlink attribute, must be resolved by the caller and included in the
// seeds when wanted.
func NewMemberOfStrategy(queries *Queries, home string, seeds []string, clauseLimit int) (*MemberOfStrategy, error) {
	attrs, err := resolveStrategyAttrs(queries.Schema())
	if err != nil {
		return nil, err
	}
	s := &MemberOfStrategy{
		queries:     queries,
		attrs:       attrs,
		home:        home,
		clauseLimit: clauseLimit,
		enqueued:    make(map[string]bool),
	}
	for _, dn := range seeds {
		s.enqueue(dn)
	}
	return s, nil
}

func (s *MemberOfStrategy) enqueue(dn string) {
	if dn == "" || s.enqueued[dn] {
		return
	}
	s.enqueued[dn] = true
	s.pending = append(s.pending, dn)
}

// FiltersByDomain drains the pending work into per-domain OR-filter
// batches.
func (s *MemberOfStrategy) FiltersByDomain() map[string][]string {
	if len(s.pending) == 0 {
		return nil
	}
	byDomain := make(map[string][]string)
	for _, dn := range s.pending {
		domain := DomainOfDN(dn)
		byDomain[domain] = append(byDomain[domain], dn)
	}
	s.pending = s.pending[:0]

	filters := make(map[string][]string, len(byDomain))
	for domain, dns := range byDomain {
		for start := 0; start < len(dns); start += s.clauseLimit {
			end := min(start+s.clauseLimit, len(dns))
			filters[domain] = append(filters[domain], s.queries.GroupsByDN(dns[start:end]))
		}
	}
	return filters
}

func (s *MemberOfStrategy) SearchAttributes(includeDescription bool) []string {
	attrs := []string{s.attrs.accountName, s.attrs.memberOf, s.attrs.groupType, s.attrs.objectSid}
	if includeDescription {
		attrs = append(attrs, s.attrs.description)
	}
	return attrs
}

// OnEntryFound enqueues the found group's own parents for the next round.
func (s *MemberOfStrategy) OnEntryFound(entry *ldap.Entry) {
	for _, parent := range entry.GetAttributeValues(s.attrs.memberOf) {
		s.enqueue(parent)
	}
}

func (s *MemberOfStrategy) HasMoreWork() bool {
	return len(s.pending) > 0
}

// ExcludeGroup drops well-known groups, distribution groups, domain-local
// groups from foreign domains, and any entry whose DN was never enqueued.
// The last rule defends against a filter over-matching.
func (s *MemberOfStrategy) ExcludeGroup(entry *ldap.Entry, sidText string) bool {
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
	return !s.enqueued[entry.DN]
}

func (s *MemberOfStrategy) UsesGlobalCatalog() bool { return false }

func (s *MemberOfStrategy) HomeDomain() string { return s.home }
