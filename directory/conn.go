package directory

import (
	"context"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// SearchScope selects how far below the base DN a search descends.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// SearchRequest carries the parameters of one directory search. Ranged
// attribute retrieval has no distinct primitive: ranges are encoded into the
// requested attribute name (attr;range=N-M) and the response attribute name
// reports the window actually returned.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	SizeLimit  int
	TypesOnly  bool
	TimeLimit  time.Duration
}

// SearchResult holds the entries of one search or of one page.
type SearchResult struct {
	Entries []*ldap.Entry
}

// Conn is the abstract directory connection capability the engine consumes.
// The go-ldap adapter implements it for production; tests implement it
// in-memory. Operations are synchronous and are not individually
// interruptible; callers enforce deadlines externally.
type Conn interface {
	// Search executes a single non-paged search.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	// SearchPage executes one page of a paged search. A nil cookie starts
	// the sequence; a nil returned cookie means the final page.
	SearchPage(ctx context.Context, req *SearchRequest, pageSize uint32, cookie []byte) (*SearchResult, []byte, error)
}

// ldapConn adapts a *ldap.Conn to the Conn interface.
type ldapConn struct {
	conn *ldap.Conn
}

// NewLDAPConn wraps an established, bound go-ldap connection.
func NewLDAPConn(conn *ldap.Conn) Conn {
	return &ldapConn{conn: conn}
}

func (c *ldapConn) Search(_ context.Context, req *SearchRequest) (*SearchResult, error) {
	result, err := c.conn.Search(toLDAPRequest(req, nil))
	if err != nil {
		return nil, wrapLDAP("search", err)
	}
	return &SearchResult{Entries: result.Entries}, nil
}

func (c *ldapConn) SearchPage(_ context.Context, req *SearchRequest, pageSize uint32, cookie []byte) (*SearchResult, []byte, error) {
	paging := ldap.NewControlPaging(pageSize)
	if len(cookie) > 0 {
		paging.SetCookie(cookie)
	}

	result, err := c.conn.Search(toLDAPRequest(req, []ldap.Control{paging}))
	if err != nil {
		return nil, nil, wrapLDAP("paged_search", err)
	}

	var next []byte
	if control, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging); ok {
		if len(control.Cookie) > 0 {
			next = control.Cookie
		}
	}
	return &SearchResult{Entries: result.Entries}, next, nil
}

func toLDAPRequest(req *SearchRequest, controls []ldap.Control) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		req.TypesOnly,
		req.Filter,
		req.Attributes,
		controls,
	)
}
