package cache

import (
	"context"
	"sync"
	"time"

	"shopledger/backend/internal/domain"
)

const defaultMaxEntries = 512

// MemoryReportCache is a process-local ReportCache used by tests and by
// single-node deployments without Redis. Expired entries are dropped on
// every Set, and the entry count never exceeds maxEntries.
type MemoryReportCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

type memoryEntry struct {
	report    domain.SalesReport
	expiresAt time.Time
}

func NewMemoryReportCache() *MemoryReportCache {
	return NewBoundedMemoryReportCache(defaultMaxEntries)
}

func NewBoundedMemoryReportCache(maxEntries int) *MemoryReportCache {
	if maxEntries < 1 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryReportCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *MemoryReportCache) Get(_ context.Context, key string) (*domain.SalesReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expired(c.now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	report := entry.report
	return &report, true, nil
}

func (c *MemoryReportCache) Set(_ context.Context, key string, value *domain.SalesReport, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, k)
		}
	}

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}

	entry := memoryEntry{report: *value}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *MemoryReportCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked drops the entry closest to expiry. Entries without a TTL
// go first since they are never reclaimed otherwise.
func (c *MemoryReportCache) evictOldestLocked() {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for k, entry := range c.entries {
		if !found || entry.expiresAt.Before(oldest) {
			victim, oldest, found = k, entry.expiresAt, true
		}
	}
	if found {
		delete(c.entries, victim)
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
