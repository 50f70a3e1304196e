package newscache

import (
	"sync"
	"time"

	"github.com/newsline/backend/internal/models"
)

type entry struct {
	query string
	ts    time.Time
}

type item struct {
	articles []models.Article
	total    int64
	ts       time.Time
}

// Cache keeps recently listed article pages per query so the listing
// endpoint does not hit the store on every request. Entries expire
// after ttl; the oldest entries are evicted past capacity.
type Cache struct {
	mu       sync.Mutex
	items    map[string]item
	order    []entry
	capacity int
	ttl      time.Duration
}

// New creates a cache with the provided capacity and ttl.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		items:    make(map[string]item, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get returns the cached articles and total for a query when the entry
// is still inside the ttl window.
func (c *Cache) Get(query string) ([]models.Article, int64, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[query]; ok {
		if now.Sub(it.ts) <= c.ttl {
			return it.articles, it.total, true
		}
	}
	return nil, 0, false
}

// Set records the articles for a query.
func (c *Cache) Set(query string, articles []models.Article, total int64) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[query] = item{articles: articles, total: total, ts: now}
	c.order = append(c.order, entry{query: query, ts: now})
	c.compact(now)
}

// Clear drops every entry; called after a manual refresh so stale pages
// are not served past an update.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]item, c.capacity)
	c.order = c.order[:0]
}

func (c *Cache) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		if it, ok := c.items[oldest.query]; ok {
			if it.ts == oldest.ts {
				delete(c.items, oldest.query)
			}
		}
	}
}
