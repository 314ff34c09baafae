package directory

import (
	"fmt"
	"strings"
)

// PrincipalID identifies a directory principal as a name within a domain.
// The domain may be a DNS domain name or a NetBIOS alias; two forms may
// refer to the same entity. Alias resolution against forest-trust metadata
// is required before any directory query or cache lookup keyed by UPN.
// PrincipalID is an immutable value type supplied by callers.
type PrincipalID struct {
	Name   string
	Domain string
}

// ParsePrincipal accepts the "name@domain" (UPN) and "DOMAIN\name"
// (down-level) spellings.
func ParsePrincipal(text string) (PrincipalID, error) {
	switch {
	case strings.Contains(text, "@"):
		name, domain, _ := strings.Cut(text, "@")
		if name == "" || domain == "" {
			return PrincipalID{}, fmt.Errorf("invalid principal %q", text)
		}
		return PrincipalID{Name: name, Domain: domain}, nil
	case strings.Contains(text, `\`):
		domain, name, _ := strings.Cut(text, `\`)
		if name == "" || domain == "" {
			return PrincipalID{}, fmt.Errorf("invalid principal %q", text)
		}
		return PrincipalID{Name: name, Domain: domain}, nil
	default:
		return PrincipalID{}, fmt.Errorf("principal %q has no domain part", text)
	}
}

// UPN renders the principal in name@domain form.
func (p PrincipalID) UPN() string {
	return p.Name + "@" + p.Domain
}

func (p PrincipalID) String() string {
	return p.UPN()
}

// IsZero reports whether the principal is unset.
func (p PrincipalID) IsZero() bool {
	return p.Name == "" && p.Domain == ""
}

// PersonUser is a resolved user principal. Alias is populated only when the
// object's domain differs from the provider's registered domain; absence of
// an alias is the normal same-domain case.
type PersonUser struct {
	ID        PrincipalID
	Alias     *PrincipalID
	ObjectSid string
	Detail    string
	Disabled  bool
	Locked    bool
}

// Group is a resolved group principal, shaped like PersonUser.
type Group struct {
	ID        PrincipalID
	Alias     *PrincipalID
	ObjectSid string
	Detail    string
}

// GroupName is the fully resolved naming tuple for a group, cached per
// authenticated session so the FQDN need not be re-derived from the NetBIOS
// name on every membership attribute fetch.
type GroupName struct {
	AccountName   string
	DomainFQDN    string
	DomainNetBios string
	SID           string
}

// UserInfoEx is an account cache entry, created on successful password
// authentication and keyed by lower-cased UPN. Subsequent attribute or
// group lookups within the session window are served from it without a
// directory round trip.
type UserInfoEx struct {
	SamAccountName     string
	UPN                string
	ResolvedGroupNames []GroupName
	UserSid            string
}

// DcInfo is the cached discovery result for one domain: the candidate
// controllers in preference order plus the naming metadata learned from the
// first successful connection.
type DcInfo struct {
	DomainName        string
	DomainNetBiosName string
	DomainFQDN        string
	Servers           []*ServerInfo
}

// TrustRelation describes one forest trust relationship as reported by the
// joined domain.
type TrustRelation struct {
	DomainName        string
	DomainNetBiosName string
	InForest          bool
	Inbound           bool
	Outbound          bool
	IsRoot            bool
}

// TwoWay reports whether the trust permits resolution in both directions.
func (t TrustRelation) TwoWay() bool {
	return t.InForest || (t.Inbound && t.Outbound)
}
