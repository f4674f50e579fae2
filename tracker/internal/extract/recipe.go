package extract

import (
	"sync"
	"time"
)

// Recipe is a cached deterministic rule set for extracting facts from one
// domain without the semantic service. Selector keys: "name",
// "listed_price", "sale_price", "sizes".
type Recipe struct {
	Selectors   map[string]string
	RefreshedAt time.Time
}

// Cache is the explicit domain → recipe store shared by all workers.
// It also tracks the fallback failure streak per domain: after
// maxFailures consecutive invalid fallback results the recipe is
// invalidated, forcing the next attempt back to the semantic tier to
// re-derive it.
type Cache struct {
	mu            sync.Mutex
	entries       map[string]*cacheEntry
	maxFailures   int
	invalidations int
}

type cacheEntry struct {
	recipe     *Recipe
	failStreak int
}

// NewCache creates a Cache. maxFailures <= 0 defaults to 3.
func NewCache(maxFailures int) *Cache {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Cache{
		entries:     make(map[string]*cacheEntry),
		maxFailures: maxFailures,
	}
}

// Get returns the recipe for a domain, or nil.
func (c *Cache) Get(domain string) *Recipe {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[domain]
	if !ok {
		return nil
	}
	return e.recipe
}

// Put stores a freshly derived recipe and clears the failure streak.
func (c *Cache) Put(domain string, r *Recipe) {
	if r.RefreshedAt.IsZero() {
		r.RefreshedAt = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain] = &cacheEntry{recipe: r}
}

// RecordSuccess resets the failure streak after a valid fallback result.
func (c *Cache) RecordSuccess(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[domain]; ok {
		e.failStreak = 0
	}
}

// RecordFailure bumps the failure streak. Reaching the threshold drops
// the recipe and reports true.
func (c *Cache) RecordFailure(domain string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[domain]
	if !ok || e.recipe == nil {
		return false
	}
	e.failStreak++
	if e.failStreak < c.maxFailures {
		return false
	}
	delete(c.entries, domain)
	c.invalidations++
	return true
}

// Invalidations returns how many recipes have been dropped by the
// breaker since startup.
func (c *Cache) Invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidations
}
