// Package cache provides caching implementations for Bastion decisions.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/xraph/bastion"
)

// Compile-time interface check.
var _ bastion.Cache = (*Memory)(nil)

// Memory is an in-memory cache with TTL-based expiration and a size cap.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	maxSize int
	clock   clock.Clock
}

type entry struct {
	decision  *bastion.Decision
	expiresAt time.Time
}

// MemoryOption configures the memory cache.
type MemoryOption func(*Memory)

// WithTTL sets the cache entry time-to-live.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// WithMaxSize sets the maximum number of cache entries.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) { m.maxSize = n }
}

// WithClock sets the clock used for expiry.
func WithClock(c clock.Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// NewMemory creates a new in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*entry),
		ttl:     5 * time.Minute,
		maxSize: 10000,
		clock:   clock.WallClock,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a cached decision.
func (m *Memory) Get(_ context.Context, revision uint64, req *bastion.Request) (*bastion.Decision, bool) {
	key := cacheKey(revision, req)
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.clock.Now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return e.decision, true
}

// Set stores a decision in the cache.
func (m *Memory) Set(_ context.Context, revision uint64, req *bastion.Request, d *bastion.Decision) {
	key := cacheKey(revision, req)
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.maxSize {
		m.evictExpired()
		if len(m.entries) >= m.maxSize {
			m.evictOne()
		}
	}

	m.entries[key] = &entry{
		decision:  d,
		expiresAt: m.clock.Now().Add(m.ttl),
	}
}

// Purge removes all cached decisions.
func (m *Memory) Purge(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*entry)
}

// Len returns the number of cached entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cacheKey(revision uint64, req *bastion.Request) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(revision, 10))
	for _, part := range []string{req.Key, req.RequesterID, req.GuildID, req.ChannelID} {
		b.WriteByte('\x00')
		b.WriteString(part)
	}
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatBool(req.IsAdmin))
	b.WriteString(strconv.FormatBool(req.IsBotOwner))
	for _, r := range req.RoleIDs {
		b.WriteByte('\x00')
		b.WriteString(r)
	}
	return b.String()
}

// evictExpired removes all expired entries. Must hold write lock.
func (m *Memory) evictExpired() {
	now := m.clock.Now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// evictOne removes one arbitrary entry. Must hold write lock.
func (m *Memory) evictOne() {
	for k := range m.entries {
		delete(m.entries, k)
		return
	}
}
