// Package policy reads the read-only on-chain policy registry and caches
// results for a short window to smooth request bursts.
package policy

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/aerr"
	"golang.org/x/sync/singleflight"
)

// CacheTTL is the maximum window a cached tuple may be served for (§4.2:
// "may cache results for a small window (≤ 2 seconds)").
const CacheTTL = 2 * time.Second

// Policy mirrors one (user, agent) registry entry. DailyLimit and
// CurrentSpendOnChain are carried as *big.Int throughout so admission
// arithmetic never narrows to float64.
// FloatDailyLimitWei exists only for log lines.
type Policy struct {
	User                string
	Agent               string
	DailyLimit          *big.Int
	CurrentSpendOnChain *big.Int
	LastReset           int64
	IsActive            bool
	Exists              bool
}

// FloatDailyLimitWei produces a lossy float64 view for logging only. It
// must never participate in an admission decision.
func (p *Policy) FloatDailyLimitWei() float64 {
	f := new(big.Float).SetInt(p.DailyLimit)
	v, _ := f.Float64()
	return v
}

// Registry is the read-only view of the on-chain contract. Implementations
// must treat the raw return as authoritative and never round-trip through
// a float for the decision.
type Registry interface {
	ReadPolicy(ctx context.Context, user, agent string) (*Policy, error)
}

// Client adds a bounded-TTL cache and duplicate-read coalescing in front
// of a Registry, using a mutex-guarded map and singleflight-based
// deduplication for concurrent lookups of the same key.
type Client struct {
	registry Registry
	group    singleflight.Group

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	policy    *Policy
	expiresAt time.Time
}

func NewClient(registry Registry) *Client {
	return &Client{
		registry: registry,
		cache:    make(map[string]cacheEntry),
	}
}

func cacheKey(user, agent string) string {
	return strings.ToLower(user) + ":" + strings.ToLower(agent)
}

// Load returns the policy tuple for (user, agent), served from cache when
// fresh. Concurrent Load calls for the same key during a cache miss are
// coalesced into a single Registry read.
func (c *Client) Load(ctx context.Context, user, agent string) (*Policy, error) {
	key := cacheKey(user, agent)

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.policy, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		p, err := c.registry.ReadPolicy(ctx, user, agent)
		if err != nil {
			return nil, aerr.Wrap(aerr.PolicyRead, "registry view call failed", err)
		}

		c.mu.Lock()
		c.cache[key] = cacheEntry{policy: p, expiresAt: time.Now().Add(CacheTTL)}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Policy), nil
}
