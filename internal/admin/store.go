package admin

import (
	"context"
	"sync"
	"time"
)

// FailureStore tracks failed token attempts per address.
type FailureStore interface {
	// CoolingDown reports whether ip is inside an active cooldown.
	CoolingDown(ctx context.Context, ip string) (bool, error)
	// RecordFailure counts a failure inside window and returns the running total.
	RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error)
	// StartCooldown throttles ip for d and clears its failure counter.
	StartCooldown(ctx context.Context, ip string, d time.Duration) error
	// Reset forgets failures for ip.
	Reset(ctx context.Context, ip string) error
}

type failureEntry struct {
	count        int64
	windowEnds   time.Time
	cooldownEnds time.Time
}

// MemoryStore keeps throttle state in process. A restart resets throttling.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*failureEntry
}

// NewMemoryStore builds a store reading time from now; nil uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: map[string]*failureEntry{}}
}

func (m *MemoryStore) CoolingDown(ctx context.Context, ip string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[ip]
	if !ok {
		return false, nil
	}
	now := m.now()
	if now.Before(entry.cooldownEnds) {
		return true, nil
	}
	m.expire(ip, entry, now)
	return false, nil
}

func (m *MemoryStore) RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	entry, ok := m.entries[ip]
	if !ok || !now.Before(entry.windowEnds) {
		entry = &failureEntry{windowEnds: now.Add(window)}
		m.entries[ip] = entry
	}
	entry.count++
	return entry.count, nil
}

func (m *MemoryStore) StartCooldown(ctx context.Context, ip string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[ip] = &failureEntry{cooldownEnds: m.now().Add(d)}
	return nil
}

func (m *MemoryStore) Reset(ctx context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ip)
	return nil
}

// expire drops entries whose window and cooldown have both lapsed.
func (m *MemoryStore) expire(ip string, entry *failureEntry, now time.Time) {
	if !now.Before(entry.windowEnds) && !now.Before(entry.cooldownEnds) {
		delete(m.entries, ip)
	}
}

type redisCounter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	AdminFailureKey(ip string) string
	AdminCooldownKey(ip string) string
}

// RedisStore shares throttle state across API replicas.
type RedisStore struct {
	client redisCounter
}

func NewRedisStore(client redisCounter) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) CoolingDown(ctx context.Context, ip string) (bool, error) {
	return r.client.Exists(ctx, r.client.AdminCooldownKey(ip))
}

func (r *RedisStore) RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error) {
	return r.client.IncrWithTTL(ctx, r.client.AdminFailureKey(ip), window)
}

func (r *RedisStore) StartCooldown(ctx context.Context, ip string, d time.Duration) error {
	if err := r.client.Set(ctx, r.client.AdminCooldownKey(ip), "1", d); err != nil {
		return err
	}
	return r.client.Del(ctx, r.client.AdminFailureKey(ip))
}

func (r *RedisStore) Reset(ctx context.Context, ip string) error {
	return r.client.Del(ctx, r.client.AdminFailureKey(ip))
}
