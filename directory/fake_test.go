package directory

import (
	"context"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/directory-resolver/sid"
)

// fakeConn dispatches searches to a handler, so each test shapes the
// directory it needs without a server.
type fakeConn struct {
	handler  func(req *SearchRequest) ([]*ldap.Entry, error)
	searches []SearchRequest
}

func (c *fakeConn) Search(_ context.Context, req *SearchRequest) (*SearchResult, error) {
	c.searches = append(c.searches, *req)
	entries, err := c.handler(req)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Entries: entries}, nil
}

func (c *fakeConn) SearchPage(_ context.Context, req *SearchRequest, _ uint32, cookie []byte) (*SearchResult, []byte, error) {
	if len(cookie) > 0 {
		return &SearchResult{}, nil, nil
	}
	c.searches = append(c.searches, *req)
	entries, err := c.handler(req)
	if err != nil {
		return nil, nil, err
	}
	return &SearchResult{Entries: entries}, nil, nil
}

// fakeDiscoverer returns a fixed server list per call, recording calls so
// tests can assert on forced rediscovery.
type fakeDiscoverer struct {
	rounds [][]*ServerInfo
	calls  int
}

func (d *fakeDiscoverer) Discover(_ context.Context, _ string, _ bool) ([]*ServerInfo, error) {
	round := d.calls
	d.calls++
	if round >= len(d.rounds) {
		round = len(d.rounds) - 1
	}
	return d.rounds[round], nil
}

func serverNamed(host string) *ServerInfo {
	return &ServerInfo{Host: host, Port: LDAPSPort, UseTLS: true, Weight: 100, Source: "srv"}
}

// fakeDial connects every server to the same fake conn, except hosts listed
// as dead.
func fakeDial(conn Conn, dead ...string) DialFunc {
	return func(_ context.Context, server *ServerInfo, _ *ConnectionConfig) (Conn, func(), error) {
		for _, host := range dead {
			if server.Host == host {
				return nil, nil, &Error{Op: "connect", Kind: KindConnectivity, Cause: errUnreachable}
			}
		}
		return conn, func() {}, nil
	}
}

var errUnreachable = ldap.NewError(ldap.ErrorNetwork, errNetwork{})

type errNetwork struct{}

func (errNetwork) Error() string { return "connection refused" }

// groupEntry builds a group entry with the standard attributes the
// expansion strategies read.
func groupEntry(dn, account, groupType, sidText string, memberOf ...string) *ldap.Entry {
	raw := ""
	if sidText != "" {
		raw = string(sid.MustParse(sidText).Encode())
	}
	return ldap.NewEntry(dn, map[string][]string{
		"sAMAccountName": {account},
		"groupType":      {groupType},
		"objectSid":      {raw},
		"memberOf":       memberOf,
	})
}

// filterContains reports whether the request filter carries the fragment,
// the dispatch primitive fake handlers are built from.
func filterContains(req *SearchRequest, fragment string) bool {
	return strings.Contains(req.Filter, fragment)
}
