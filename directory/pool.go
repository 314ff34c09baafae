package directory

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// DialFunc establishes and binds one connection to a server. The returned
// close function tears the connection down.
type DialFunc func(ctx context.Context, server *ServerInfo, cfg *ConnectionConfig) (Conn, func(), error)

// Pool hands out bound connections keyed by (domain, global catalog).
// Discovery results are cached; a confirmed connectivity failure evicts the
// cached controllers and triggers exactly one forced rediscovery before the
// failure is reported as fatal.
type Pool struct {
	config     *Config
	discoverer Discoverer
	dcCache    *DcInfoCache
	dial       DialFunc
	logger     *zap.Logger

	mu     sync.Mutex
	idle   map[poolKey]chan *pooledConn
	closed bool

	created  atomic.Int64
	borrowed atomic.Int64
	errored  atomic.Int64
	start    time.Time
}

type poolKey struct {
	domain string
	gc     bool
}

type pooledConn struct {
	conn     Conn
	close    func()
	server   *ServerInfo
	lastUsed time.Time
}

// Handle is a borrowed connection. Callers must call exactly one of
// Release or Discard; Release returns the connection for reuse, Discard
// tears it down after a failure.
type Handle struct {
	Conn

	pool *Pool
	key  poolKey
	pc   *pooledConn
	info *DcInfo
	done bool
}

// DcInfo reports the discovery metadata of the borrowed connection's domain.
func (h *Handle) DcInfo() *DcInfo {
	return h.info
}

// Server reports which controller the connection is bound to.
func (h *Handle) Server() *ServerInfo {
	return h.pc.server
}

// Release returns the connection to the pool.
func (h *Handle) Release() {
	if h.done {
		return
	}
	h.done = true
	h.pool.put(h.key, h.pc)
}

// Discard closes the connection instead of returning it.
func (h *Handle) Discard() {
	if h.done {
		return
	}
	h.done = true
	h.pc.close()
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Idle     int
	Created  int64
	Borrowed int64
	Errors   int64
	Uptime   time.Duration
}

// NewPool creates a pool over the given discoverer and controller cache.
// A nil dial function installs the production go-ldap dialer.
func NewPool(cfg *Config, discoverer Discoverer, dcCache *DcInfoCache, dial DialFunc, logger *zap.Logger) *Pool {
	if dial == nil {
		dial = ldapDial
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		config:     cfg,
		discoverer: discoverer,
		dcCache:    dcCache,
		dial:       dial,
		logger:     logger,
		idle:       make(map[poolKey]chan *pooledConn),
		start:      time.Now(),
	}
}

// Borrow obtains a bound connection for a domain. gc selects a global
// catalog endpoint. On connectivity failure the cached discovery result is
// evicted and discovery re-runs once; a second failure is returned as a
// fatal connectivity error.
func (p *Pool) Borrow(ctx context.Context, domain string, gc bool) (*Handle, error) {
	key := poolKey{domain: strings.ToLower(domain), gc: gc}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("connection pool is closed")
	}
	p.mu.Unlock()

	if pc := p.takeIdle(key); pc != nil {
		info, _ := p.dcCache.Get(cacheKey(key))
		p.borrowed.Add(1)
		return &Handle{Conn: pc.conn, pool: p, key: key, pc: pc, info: info}, nil
	}

	info, err := p.controllers(ctx, key, false)
	if err != nil {
		return nil, err
	}

	pc, dialErr := p.connect(ctx, info.Servers)
	if dialErr != nil {
		p.logger.Debug("all controllers failed, forcing rediscovery",
			zap.String("domain", key.domain),
			zap.Bool("global_catalog", key.gc),
			zap.Error(dialErr))
		p.dcCache.Evict(cacheKey(key))

		info, err = p.controllers(ctx, key, true)
		if err != nil {
			return nil, err
		}
		pc, dialErr = p.connect(ctx, info.Servers)
		if dialErr != nil {
			p.errored.Add(1)
			return nil, &Error{
				Op:     "connect",
				Kind:   KindConnectivity,
				Domain: domain,
				Cause:  dialErr,
			}
		}
	}

	p.created.Add(1)
	p.borrowed.Add(1)
	return &Handle{Conn: pc.conn, pool: p, key: key, pc: pc, info: info}, nil
}

// controllers returns the cached discovery result, running discovery when
// the cache misses or force is set.
func (p *Pool) controllers(ctx context.Context, key poolKey, force bool) (*DcInfo, error) {
	ck := cacheKey(key)
	if !force {
		if info, ok := p.dcCache.Get(ck); ok {
			return info, nil
		}
	}

	var servers []*ServerInfo
	if pinned := p.pinnedServers(key); len(pinned) > 0 {
		servers = pinned
	} else {
		discovered, err := p.discoverer.Discover(ctx, key.domain, key.gc)
		if err != nil {
			p.errored.Add(1)
			return nil, &Error{Op: "discover", Kind: KindConnectivity, Domain: key.domain, Cause: err}
		}
		servers = discovered
	}
	if len(servers) == 0 {
		p.errored.Add(1)
		return nil, &Error{
			Op:     "discover",
			Kind:   KindConnectivity,
			Domain: key.domain,
			Cause:  errors.New("no servers discovered"),
		}
	}

	info := &DcInfo{
		DomainName: key.domain,
		DomainFQDN: key.domain,
		Servers:    servers,
	}
	p.dcCache.Put(ck, info)
	return info, nil
}

// pinnedServers honors explicitly configured URLs for the home domain.
// Foreign domains always go through discovery.
func (p *Pool) pinnedServers(key poolKey) []*ServerInfo {
	if key.gc || !strings.EqualFold(key.domain, p.config.Domain) {
		return nil
	}
	var servers []*ServerInfo
	for _, raw := range p.config.Connection.Servers {
		server, err := ParseServerURL(raw)
		if err != nil {
			continue
		}
		servers = append(servers, server)
	}
	return servers
}

// connect tries each candidate in order and returns the first that dials
// and binds.
func (p *Pool) connect(ctx context.Context, servers []*ServerInfo) (*pooledConn, error) {
	var lastErr error
	for _, server := range servers {
		conn, closeFn, err := p.dial(ctx, server, &p.config.Connection)
		if err != nil {
			lastErr = err
			p.logger.Debug("controller connection failed",
				zap.String("server", server.URL()),
				zap.Error(err))
			continue
		}
		return &pooledConn{
			conn:     conn,
			close:    closeFn,
			server:   server,
			lastUsed: time.Now(),
		}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no servers to connect to")
	}
	return nil, lastErr
}

func (p *Pool) takeIdle(key poolKey) *pooledConn {
	p.mu.Lock()
	ch := p.idle[key]
	p.mu.Unlock()
	if ch == nil {
		return nil
	}
	for {
		select {
		case pc := <-ch:
			if time.Since(pc.lastUsed) > p.config.Connection.MaxIdleTime {
				pc.close()
				continue
			}
			return pc
		default:
			return nil
		}
	}
}

func (p *Pool) put(key poolKey, pc *pooledConn) {
	pc.lastUsed = time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		pc.close()
		return
	}
	ch := p.idle[key]
	if ch == nil {
		ch = make(chan *pooledConn, p.config.Connection.MaxIdlePerEndpoint)
		p.idle[key] = ch
	}
	p.mu.Unlock()

	select {
	case ch <- pc:
	default:
		pc.close()
	}
}

// Close tears down all idle connections. Borrowed handles remain usable
// until released; releases after Close close the connection.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	channels := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, ch := range channels {
		for {
			select {
			case pc := <-ch:
				pc.close()
				continue
			default:
			}
			break
		}
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	idle := 0
	for _, ch := range p.idle {
		idle += len(ch)
	}
	p.mu.Unlock()

	return PoolStats{
		Idle:     idle,
		Created:  p.created.Load(),
		Borrowed: p.borrowed.Load(),
		Errors:   p.errored.Load(),
		Uptime:   time.Since(p.start),
	}
}

func cacheKey(key poolKey) string {
	if key.gc {
		return key.domain + "|gc"
	}
	return key.domain
}

// ldapDial is the production dialer: TLS or plaintext per the server
// description, then a simple or GSSAPI bind per the configuration.
func ldapDial(_ context.Context, server *ServerInfo, cfg *ConnectionConfig) (Conn, func(), error) {
	var conn *ldap.Conn
	var err error

	url := server.URL()
	if server.UseTLS {
		tlsConfig := &tls.Config{
			ServerName:         server.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
		conn, err = ldap.DialURL(url, ldap.DialWithTLSConfig(tlsConfig))
	} else {
		conn, err = ldap.DialURL(url)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connect to %s", url)
	}
	conn.SetTimeout(cfg.RequestTimeout)

	switch cfg.AuthMethod {
	case AuthKerberos:
		err = kerberosBind(conn, cfg, server)
	default:
		if cfg.Username == "" {
			err = errors.New("username is required for simple bind")
		} else {
			err = conn.Bind(cfg.Username, cfg.Password)
		}
	}
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrapf(err, "bind to %s", url)
	}

	return NewLDAPConn(conn), func() { conn.Close() }, nil
}
