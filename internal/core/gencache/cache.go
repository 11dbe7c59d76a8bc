// Package gencache keeps recent generation results so clients can fetch them
// again by generation id.
package gencache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core/model"
)

type Record struct {
	GenerationID string           `json:"generationId"`
	UserID       string           `json:"userId,omitempty"`
	SourceID     string           `json:"sourceId"`
	TargetType   model.EntityType `json:"targetType"`
	Entities     []model.Entity   `json:"entities"`
	CreditsUsed  int64            `json:"creditsUsed"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type Cache interface {
	Put(ctx context.Context, id string, rec Record, ttl time.Duration) error
	// Get returns NotFound when the record is absent or expired.
	Get(ctx context.Context, id string) (Record, error)
}

type entry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryCache is a process-local Cache. When full, the entry closest to
// expiry is evicted first.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryCache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Put(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	if id == "" {
		return apperr.InvalidInput("generation id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[id]; !exists && len(c.entries) >= c.maxEntries {
		c.evict(now)
	}
	c.entries[id] = entry{rec: rec, expiresAt: now.Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, id string) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return Record{}, apperr.NotFound("Generation")
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, id)
		return Record{}, apperr.NotFound("Generation")
	}
	return e.rec, nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evict drops expired entries, then the soonest-expiring ones until there
// is room for one more. Callers hold mu.
func (c *MemoryCache) evict(now time.Time) {
	ids := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			continue
		}
		ids = append(ids, id)
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := c.entries[ids[i]].expiresAt, c.entries[ids[j]].expiresAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		if len(c.entries) < c.maxEntries {
			return
		}
		delete(c.entries, id)
	}
}

var _ Cache = (*MemoryCache)(nil)
