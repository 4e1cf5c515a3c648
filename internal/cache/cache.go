package cache

import (
	"context"
	"sync"
	"time"
)

// RuleSet is a raw promotion rule set as read from the rule source.
type RuleSet = []map[string]any

type RuleSetCache interface {
	Get(ctx context.Context, key string) (RuleSet, bool, error)
	Set(ctx context.Context, key string, rules RuleSet, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopRuleSetCache struct{}

func (NoopRuleSetCache) Get(_ context.Context, _ string) (RuleSet, bool, error) {
	return nil, false, nil
}

func (NoopRuleSetCache) Set(_ context.Context, _ string, _ RuleSet, _ time.Duration) error {
	return nil
}

func (NoopRuleSetCache) Delete(_ context.Context, _ string) error {
	return nil
}

// MemoryRuleSetCache keeps rule sets in process. It is used when a cache
// TTL is configured without redis.
type MemoryRuleSetCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	rules     RuleSet
	expiresAt time.Time
}

func NewMemoryRuleSetCache() *MemoryRuleSetCache {
	return &MemoryRuleSetCache{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryRuleSetCache) Get(_ context.Context, key string) (RuleSet, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.rules, true, nil
}

func (c *MemoryRuleSetCache) Set(_ context.Context, key string, rules RuleSet, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{rules: rules}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *MemoryRuleSetCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}
