package directory

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
)

// AuthMethod selects how connections bind to the directory.
type AuthMethod string

const (
	AuthSimple   AuthMethod = "simple"
	AuthKerberos AuthMethod = "kerberos"
)

// ConnectionConfig holds bind credentials and transport settings shared by
// every pooled connection.
type ConnectionConfig struct {
	// Servers optionally pins explicit ldap:// or ldaps:// URLs, bypassing
	// SRV discovery for the home domain.
	Servers []string

	Username string
	Password string

	AuthMethod AuthMethod `default:"simple"`

	// Kerberos settings, used when AuthMethod is "kerberos".
	KerberosRealm  string
	KerberosConfig string
	KerberosCCache string
	KerberosKeytab string
	KerberosSPN    string

	ConnectTimeout time.Duration `default:"10s"`
	RequestTimeout time.Duration `default:"60s"`

	// MaxIdlePerEndpoint caps the idle connections kept per pool key.
	MaxIdlePerEndpoint int `default:"2"`

	// MaxIdleTime discards idle connections older than this on reuse.
	MaxIdleTime time.Duration `default:"5m"`

	// InsecureSkipVerify disables TLS certificate verification. Test
	// environments only.
	InsecureSkipVerify bool
}

// Config is the engine configuration. Zero values are filled with
// defaults by Validate; limits outside their permitted range are rejected
// rather than clamped.
type Config struct {
	// Domain is the DNS name of the joined domain.
	Domain string

	Connection ConnectionConfig

	// MaxFilterClauses caps the number of OR terms in one batched lookup
	// filter. Directory servers reject filters beyond roughly this size.
	MaxFilterClauses int `default:"500"`

	// PageSize is the paged-search page size for full enumerations.
	PageSize uint32 `default:"1000"`

	// RangeStep is the window width for ranged member retrieval. The
	// server may return fewer per window; the step only caps the request.
	RangeStep int `default:"1500"`

	// MaxGroupMembers bounds FindUsersInGroup / FindGroupsInGroup results.
	// Zero means unbounded.
	MaxGroupMembers int

	// UseTokenGroups selects the flat tokenGroups expansion instead of the
	// transitive member-of walk.
	UseTokenGroups bool

	// IncludePrimaryGroup folds the primary group, which the directory
	// does not list in memberOf, into member-of expansion.
	IncludePrimaryGroup bool `default:"true"`

	// ForestTrustGroups extends expansion across two-way trusted domains.
	ForestTrustGroups bool

	// ResolveForeignSecurityPrincipals re-seeds expansion from FSP
	// placeholders so cross-forest memberships resolve.
	ResolveForeignSecurityPrincipals bool

	// GroupNameCacheSize bounds the per-session group naming cache.
	GroupNameCacheSize int `default:"1024"`

	// AccountCacheSize bounds the authenticated-account cache. Zero keeps
	// it unbounded.
	AccountCacheSize int

	// SchemaOverrides remaps attribute and class names for directories
	// that deviate from the standard schema.
	SchemaOverrides SchemaOverrides
}

// Validate fills defaults and checks the configuration. It must be called
// before the config is handed to NewProvider.
func (c *Config) Validate() error {
	if err := defaults.Set(c); err != nil {
		return errors.Wrap(err, "apply config defaults")
	}

	if c.Domain == "" {
		return errors.New("domain is required")
	}
	if c.MaxFilterClauses < 1 || c.MaxFilterClauses > 500 {
		return errors.Newf("max filter clauses must be within [1, 500], got %d", c.MaxFilterClauses)
	}
	if c.PageSize < 1 || c.PageSize > 1000 {
		return errors.Newf("page size must be within [1, 1000], got %d", c.PageSize)
	}
	if c.RangeStep < 1 {
		return errors.Newf("range step must be positive, got %d", c.RangeStep)
	}
	if c.MaxGroupMembers < 0 {
		return errors.Newf("max group members cannot be negative, got %d", c.MaxGroupMembers)
	}
	if c.GroupNameCacheSize < 1 {
		return errors.Newf("group name cache size must be positive, got %d", c.GroupNameCacheSize)
	}

	switch c.Connection.AuthMethod {
	case AuthSimple, AuthKerberos:
	default:
		return errors.Newf("unknown auth method %q", c.Connection.AuthMethod)
	}
	for _, raw := range c.Connection.Servers {
		if _, err := ParseServerURL(raw); err != nil {
			return errors.Wrapf(err, "server URL %q", raw)
		}
	}
	return nil
}
