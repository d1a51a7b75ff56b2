package program

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/observability"
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ExistenceLookup is the cold-path check, normally the storage backend.
type ExistenceLookup interface {
	Exists(ctx context.Context, addr address.PublicKey) (bool, error)
}

// ExistenceCache remembers which record addresses are initialized.
//
// Tier 1 is an in-memory LRU; tier 2 asks the backend. Records are never
// destroyed, so a positive answer from either tier is final. A negative
// answer is only a hint: the backend's check inside the unit of work decides.
type ExistenceCache struct {
	known   *lru.Cache[address.PublicKey, struct{}]
	backend ExistenceLookup
	metrics *observability.Metrics
}

func NewExistenceCache(capacity int, backend ExistenceLookup, metrics *observability.Metrics) (*ExistenceCache, error) {
	known, err := lru.New[address.PublicKey, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("existence cache: %w", err)
	}
	return &ExistenceCache{
		known:   known,
		backend: backend,
		metrics: metrics,
	}, nil
}

// IsInitialized checks tier 1, then tier 2. A tier-2 error is reported as
// "not known" so a flaky read never blocks an allocation; the unit of work
// re-checks anyway.
func (c *ExistenceCache) IsInitialized(ctx context.Context, addr address.PublicKey) bool {
	if _, ok := c.known.Get(addr); ok {
		c.recordHit("lru")
		return true
	}

	if c.backend != nil {
		ok, err := c.backend.Exists(ctx, addr)
		if err != nil {
			if c.metrics != nil {
				c.metrics.ExistenceErrors.Inc()
			}
			return false
		}
		if ok {
			c.recordHit("backend")
			c.MarkInitialized(addr)
			return true
		}
	}

	if c.metrics != nil {
		c.metrics.ExistenceMisses.Inc()
	}
	return false
}

// MarkInitialized adds addr to tier 1.
func (c *ExistenceCache) MarkInitialized(addr address.PublicKey) {
	c.known.Add(addr, struct{}{})
	if c.metrics != nil {
		c.metrics.ExistenceSize.Set(float64(c.known.Len()))
	}
}

// Warm loads addresses known to be initialized, e.g. at startup.
func (c *ExistenceCache) Warm(addrs []address.PublicKey) {
	for _, addr := range addrs {
		c.known.Add(addr, struct{}{})
	}
	if c.metrics != nil {
		c.metrics.ExistenceSize.Set(float64(c.known.Len()))
	}
}

// Len returns the number of tier-1 entries.
func (c *ExistenceCache) Len() int {
	return c.known.Len()
}

func (c *ExistenceCache) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.ExistenceHits.WithLabelValues(tier).Inc()
	}
}
