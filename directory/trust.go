package directory

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TrustProvider supplies the forest trust relationships of the joined
// domain. Trust metadata drives alias normalization, in-forest checks, and
// two-way-trust classification.
type TrustProvider interface {
	Trusts(ctx context.Context) ([]TrustRelation, error)
}

// Trusts is a queried snapshot of trust relationships.
type Trusts []TrustRelation

// ResolveAlias maps a NetBIOS alias to its DNS domain name. Unknown names
// pass through unchanged; a DNS name resolves to itself.
func (t Trusts) ResolveAlias(domain string) string {
	for _, trust := range t {
		if strings.EqualFold(trust.DomainNetBiosName, domain) {
			return trust.DomainName
		}
	}
	return domain
}

// NetBiosOf returns the NetBIOS alias of a DNS domain name, or "" when the
// domain is unknown.
func (t Trusts) NetBiosOf(domain string) string {
	for _, trust := range t {
		if strings.EqualFold(trust.DomainName, domain) {
			return trust.DomainNetBiosName
		}
	}
	return ""
}

// InForest reports whether domain belongs to the provider's forest.
func (t Trusts) InForest(domain string) bool {
	for _, trust := range t {
		if strings.EqualFold(trust.DomainName, domain) || strings.EqualFold(trust.DomainNetBiosName, domain) {
			return trust.InForest
		}
	}
	return false
}

// TwoWayTrusted reports whether resolution may cross into domain.
func (t Trusts) TwoWayTrusted(domain string) bool {
	for _, trust := range t {
		if strings.EqualFold(trust.DomainName, domain) || strings.EqualFold(trust.DomainNetBiosName, domain) {
			return trust.TwoWay()
		}
	}
	return false
}

// trustedDomain object attribute semantics, from the system partition.
const (
	trustDirectionInbound  = 1
	trustDirectionOutbound = 2

	trustAttributeWithinForest = 0x20
)

// LDAPTrustProvider reads trustedDomain objects from the joined domain's
// system container. Results are cached; the directory's trust topology
// changes rarely enough that a stale snapshot within the TTL is acceptable.
type LDAPTrustProvider struct {
	pool   *Pool
	domain string
	logger *zap.Logger

	mu      sync.Mutex
	cached  Trusts
	fetched time.Time
	ttl     time.Duration
}

// NewLDAPTrustProvider creates a trust provider querying the given home
// domain.
func NewLDAPTrustProvider(pool *Pool, domain string, logger *zap.Logger) *LDAPTrustProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LDAPTrustProvider{
		pool:   pool,
		domain: domain,
		logger: logger,
		ttl:    10 * time.Minute,
	}
}

// Trusts returns the trust relationships of the home domain, including the
// home domain itself as an in-forest root entry.
func (p *LDAPTrustProvider) Trusts(ctx context.Context) ([]TrustRelation, error) {
	p.mu.Lock()
	if p.cached != nil && time.Since(p.fetched) < p.ttl {
		cached := p.cached
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	handle, err := p.pool.Borrow(ctx, p.domain, false)
	if err != nil {
		return nil, err
	}

	// The root DSE knows the controller's actual naming context; fall
	// back to the DNS-derived form when the probe yields nothing.
	base, err := RootNamingContext(ctx, handle)
	if err != nil || base == "" {
		base = BaseDNForDomain(p.domain)
	}

	result, err := handle.Search(ctx, &SearchRequest{
		BaseDN: "CN=System," + base,
		Scope:  ScopeWholeSubtree,
		Filter: "(objectClass=trustedDomain)",
		Attributes: []string{
			"trustPartner", "flatName", "trustDirection", "trustAttributes",
		},
	})
	if err != nil {
		if IsConnectivity(err) {
			handle.Discard()
		} else {
			handle.Release()
		}
		return nil, wrapLDAP("list_trusts", err)
	}
	handle.Release()

	trusts := Trusts{{
		DomainName:        p.domain,
		DomainNetBiosName: netBiosGuess(p.domain),
		InForest:          true,
		Inbound:           true,
		Outbound:          true,
		IsRoot:            true,
	}}
	for _, entry := range result.Entries {
		direction, _ := strconv.Atoi(entry.GetAttributeValue("trustDirection"))
		attributes, _ := strconv.Atoi(entry.GetAttributeValue("trustAttributes"))
		trusts = append(trusts, TrustRelation{
			DomainName:        strings.ToLower(entry.GetAttributeValue("trustPartner")),
			DomainNetBiosName: entry.GetAttributeValue("flatName"),
			InForest:          attributes&trustAttributeWithinForest != 0,
			Inbound:           direction&trustDirectionInbound != 0,
			Outbound:          direction&trustDirectionOutbound != 0,
		})
	}

	p.mu.Lock()
	p.cached = trusts
	p.fetched = time.Now()
	p.mu.Unlock()

	p.logger.Debug("trust metadata refreshed", zap.Int("trust_count", len(trusts)))
	return trusts, nil
}

// StaticTrustProvider serves a fixed trust list, for configurations where
// trust metadata is supplied out of band.
type StaticTrustProvider Trusts

func (p StaticTrustProvider) Trusts(context.Context) ([]TrustRelation, error) {
	return p, nil
}

// netBiosGuess derives the conventional NetBIOS alias from a DNS name. The
// directory-reported flat name wins whenever it is available.
func netBiosGuess(domain string) string {
	label, _, _ := strings.Cut(domain, ".")
	return strings.ToUpper(label)
}
