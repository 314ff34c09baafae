package directory

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ServerInfo describes one candidate directory server for a domain.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string
}

// URL renders the server as an LDAP URL suitable for dialing. IPv6 literal
// hosts are bracketed.
func (s *ServerInfo) URL() string {
	scheme := "ldap"
	if s.UseTLS {
		scheme = "ldaps"
	}
	host := s.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, s.Port)
}

// Validate checks the server description for obvious misconfiguration.
func (s *ServerInfo) Validate() error {
	if s == nil {
		return errors.New("server info cannot be nil")
	}
	if s.Host == "" {
		return errors.New("server host cannot be empty")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return errors.Newf("invalid port number: %d", s.Port)
	}
	if s.Priority < 0 {
		return errors.Newf("priority cannot be negative: %d", s.Priority)
	}
	if s.Weight < 0 {
		return errors.Newf("weight cannot be negative: %d", s.Weight)
	}
	return nil
}

// Discoverer locates candidate servers for a domain. gc selects global
// catalog endpoints instead of the domain's own LDAP service.
type Discoverer interface {
	Discover(ctx context.Context, domain string, gc bool) ([]*ServerInfo, error)
}

// SRVDiscovery locates servers through DNS SRV records.
//
// For domain LDAP the lookup order is _ldaps._tcp (preferred) then
// _ldap._tcp; for the global catalog it is _gc._tcp. When no SRV records
// exist the domain name itself is used with the standard ports.
type SRVDiscovery struct {
	resolver *net.Resolver
	logger   *zap.Logger
}

// NewSRVDiscovery creates an SRV discoverer using the default resolver.
func NewSRVDiscovery(logger *zap.Logger) *SRVDiscovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SRVDiscovery{
		resolver: net.DefaultResolver,
		logger:   logger,
	}
}

// Discover resolves candidate servers for domain, sorted by SRV priority
// and weight.
func (d *SRVDiscovery) Discover(ctx context.Context, domain string, gc bool) ([]*ServerInfo, error) {
	start := time.Now()
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}

	services := []struct {
		name   string
		useTLS bool
	}{
		{"_ldaps._tcp." + domain, true},
		{"_ldap._tcp." + domain, false},
	}
	if gc {
		services = []struct {
			name   string
			useTLS bool
		}{
			{"_gc._tcp." + domain, false},
		}
	}

	var all []*ServerInfo
	for _, svc := range services {
		servers, err := d.lookupSRV(ctx, svc.name, svc.useTLS)
		if err != nil {
			d.logger.Debug("SRV lookup failed, continuing to next service",
				zap.String("service", svc.name),
				zap.Error(err))
			continue
		}
		all = append(all, servers...)

		// LDAPS answers take precedence; skip the plaintext service.
		if svc.useTLS && len(servers) > 0 {
			break
		}
	}

	if len(all) == 0 {
		d.logger.Debug("no SRV records found, using fallback servers",
			zap.String("domain", domain),
			zap.Bool("global_catalog", gc),
			zap.Duration("duration", time.Since(start)))
		return fallbackServers(domain, gc), nil
	}

	sortServers(all)
	d.logger.Debug("server discovery completed",
		zap.String("domain", domain),
		zap.Bool("global_catalog", gc),
		zap.Int("server_count", len(all)),
		zap.Duration("duration", time.Since(start)))
	return all, nil
}

func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		return nil, errors.Wrapf(err, "SRV lookup failed for %s", service)
	}
	if len(records) == 0 {
		return nil, errors.Newf("no SRV records found for %s", service)
	}

	servers := make([]*ServerInfo, 0, len(records))
	for _, srv := range records {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}
	return servers, nil
}

// Standard Active Directory service ports.
const (
	LDAPPort             = 389
	LDAPSPort            = 636
	GlobalCatalogPort    = 3268
	GlobalCatalogTLSPort = 3269
)

func fallbackServers(domain string, gc bool) []*ServerInfo {
	if gc {
		return []*ServerInfo{
			{Host: domain, Port: GlobalCatalogTLSPort, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
			{Host: domain, Port: GlobalCatalogPort, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
		}
	}
	return []*ServerInfo{
		{Host: domain, Port: LDAPSPort, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
		{Host: domain, Port: LDAPPort, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
	}
}

// sortServers orders by RFC 2782 priority ascending, then weight descending
// within a priority band.
func sortServers(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}

// ParseServerURL parses an explicitly configured ldap:// or ldaps:// URL
// into a ServerInfo. Configured servers outrank discovered ones.
func ParseServerURL(url string) (*ServerInfo, error) {
	if url == "" {
		return nil, errors.New("URL cannot be empty")
	}

	var useTLS bool
	switch {
	case strings.HasPrefix(url, "ldaps://"):
		useTLS = true
		url = strings.TrimPrefix(url, "ldaps://")
	case strings.HasPrefix(url, "ldap://"):
		url = strings.TrimPrefix(url, "ldap://")
	default:
		return nil, errors.New("unsupported scheme, must be ldap:// or ldaps://")
	}

	host := url
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}

	port := LDAPPort
	if useTLS {
		port = LDAPSPort
	}
	switch {
	case strings.HasPrefix(host, "["):
		// Bracketed IPv6 literal, optionally followed by a port.
		end := strings.IndexByte(host, ']')
		if end < 0 {
			return nil, errors.Newf("unterminated IPv6 literal: %s", host)
		}
		rest := host[end+1:]
		host = host[1:end]
		if rest != "" {
			p, found := strings.CutPrefix(rest, ":")
			if !found {
				return nil, errors.Newf("malformed host: %s", url)
			}
			parsed, err := strconv.Atoi(p)
			if err != nil {
				return nil, errors.Newf("invalid port number: %s", p)
			}
			port = parsed
		}
	default:
		if h, p, found := strings.Cut(host, ":"); found {
			parsed, err := strconv.Atoi(p)
			if err != nil {
				return nil, errors.Newf("invalid port number: %s", p)
			}
			host = h
			port = parsed
		}
	}

	server := &ServerInfo{
		Host:     host,
		Port:     port,
		UseTLS:   useTLS,
		Priority: 0,
		Weight:   100,
		Source:   "config",
	}
	return server, server.Validate()
}
