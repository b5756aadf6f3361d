package billing

import (
	"sync"
	"time"

	"github.com/calmwaters/lotus/internal/model"
)

// listCache holds the last ListBills result for a few seconds so a dashboard
// and a list view rendered back to back share one remote read. It is only
// ever replaced wholesale or cleared, never patched.
type listCache struct {
	mu        sync.Mutex
	bills     []model.Bill
	fetchedAt time.Time
	ttl       time.Duration
}

func newListCache(ttl time.Duration) *listCache {
	return &listCache{ttl: ttl}
}

func (c *listCache) get(now time.Time) ([]model.Bill, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bills == nil || now.Sub(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return c.bills, true
}

func (c *listCache) set(bills []model.Bill, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bills = bills
	c.fetchedAt = now
}

func (c *listCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bills = nil
}
