package directory

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// AccountCache maps lower-cased UPNs to resolved account info. Reads are the
// common case and proceed concurrently under a reader/writer lock; writes
// are exclusive. A reader racing a writer observes either the old or the new
// value, never a torn one.
//
// A maximum entry count may be set, evicting the oldest insertion; zero
// keeps the cache unbounded.
type AccountCache struct {
	mu      sync.RWMutex
	entries map[string]*UserInfoEx
	order   []string
	max     int
}

// NewAccountCache creates an account cache holding at most max entries
// (zero for unbounded).
func NewAccountCache(max int) *AccountCache {
	return &AccountCache{
		entries: make(map[string]*UserInfoEx),
		max:     max,
	}
}

// Get looks up by UPN, case-insensitively.
func (c *AccountCache) Get(upn string) (*UserInfoEx, bool) {
	key := strings.ToLower(upn)
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[key]
	return info, ok
}

// Put stores info under the lower-cased UPN. Re-inserting an existing key
// replaces the entry in place; the cache never holds two entries for one
// UPN.
func (c *AccountCache) Put(upn string, info *UserInfoEx) {
	key := strings.ToLower(upn)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if c.max > 0 && len(c.entries) >= c.max {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = info
}

// Evict removes the entry for upn, if present.
func (c *AccountCache) Evict(upn string) {
	key := strings.ToLower(upn)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of cached accounts.
func (c *AccountCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GroupNameCache is a bounded LRU from group SID text to the resolved
// naming tuple, so repeated membership fetches need not re-derive the FQDN
// from the NetBIOS name.
type GroupNameCache struct {
	cache *lru.Cache[string, GroupName]
}

// NewGroupNameCache creates the cache with the given capacity.
func NewGroupNameCache(size int) (*GroupNameCache, error) {
	cache, err := lru.New[string, GroupName](size)
	if err != nil {
		return nil, err
	}
	return &GroupNameCache{cache: cache}, nil
}

// Get looks up a group name by SID text.
func (c *GroupNameCache) Get(sidText string) (GroupName, bool) {
	return c.cache.Get(sidText)
}

// Put stores a resolved group name.
func (c *GroupNameCache) Put(sidText string, name GroupName) {
	c.cache.Add(sidText, name)
}

// Len returns the number of cached names.
func (c *GroupNameCache) Len() int {
	return c.cache.Len()
}

// DcInfoCache caches controller discovery results per domain. The provider
// only reads it and, on a confirmed connectivity failure, evicts the stale
// entry before a forced rediscovery; ownership of the cache's lifecycle
// stays with whoever constructed it.
type DcInfoCache struct {
	mu      sync.RWMutex
	entries map[string]*DcInfo
}

// NewDcInfoCache creates an empty controller-info cache.
func NewDcInfoCache() *DcInfoCache {
	return &DcInfoCache{entries: make(map[string]*DcInfo)}
}

// Get looks up controller info by domain, case-insensitively.
func (c *DcInfoCache) Get(domain string) (*DcInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[strings.ToLower(domain)]
	return info, ok
}

// Put stores controller info for a domain.
func (c *DcInfoCache) Put(domain string, info *DcInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[strings.ToLower(domain)] = info
}

// Evict drops the entry for a domain after a confirmed connectivity
// failure.
func (c *DcInfoCache) Evict(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, strings.ToLower(domain))
}

// DomainPolicy is the lazily resolved default domain password policy.
type DomainPolicy struct {
	MaxPasswordAge time.Duration
}

// policyCache memoizes the default domain policy for the provider's
// lifetime, including a failed first computation.
type policyCache struct {
	once   sync.Once
	policy *DomainPolicy
	err    error
}

func (p *policyCache) get(compute func() (*DomainPolicy, error)) (*DomainPolicy, error) {
	p.once.Do(func() {
		p.policy, p.err = compute()
	})
	return p.policy, p.err
}
