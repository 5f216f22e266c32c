package surveillance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupWindow is the lookback inside which an identical alert
// is a repeat.
const DefaultDedupWindow = 24 * time.Hour

// DedupStore remembers the last signal hash seen per (scenario, key).
// Seen reports whether the hash repeats inside the window and
// refreshes the entry either way.
type DedupStore interface {
	Seen(ctx context.Context, cacheKey, signalHash string) (bool, error)
}

type memoryEntry struct {
	hash   string
	seenAt time.Time
}

// MemoryDedupStore is the in-process store.
type MemoryDedupStore struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryDedupStore returns a store with the given window, or the
// default when zero.
func NewMemoryDedupStore(window time.Duration) *MemoryDedupStore {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &MemoryDedupStore{
		window:  window,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryDedupStore) Seen(_ context.Context, cacheKey, signalHash string) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[cacheKey]
	repeat := ok && entry.hash == signalHash && now.Sub(entry.seenAt) <= m.window
	m.entries[cacheKey] = memoryEntry{hash: signalHash, seenAt: now}
	return repeat, nil
}

// RedisDedupStore shares dedup state across scanner instances. The TTL
// is the dedup window.
type RedisDedupStore struct {
	client *redis.Client
	window time.Duration
}

// NewRedisDedupStore returns a Redis-backed store.
func NewRedisDedupStore(client *redis.Client, window time.Duration) *RedisDedupStore {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &RedisDedupStore{client: client, window: window}
}

func (r *RedisDedupStore) Seen(ctx context.Context, cacheKey, signalHash string) (bool, error) {
	key := "surveillance:dedup:" + cacheKey
	prev, err := r.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	repeat := err == nil && prev == signalHash
	if err := r.client.Set(ctx, key, signalHash, r.window).Err(); err != nil {
		return false, err
	}
	return repeat, nil
}

// AlertDeduper drops repeats of identical alerts. Identity is the
// (scenario, key) pair plus a content hash of the signal, so the same
// parties with new evidence still surface.
type AlertDeduper struct {
	store DedupStore
}

// NewAlertDeduper wraps a store; nil gets an in-memory store with the
// default window.
func NewAlertDeduper(store DedupStore) *AlertDeduper {
	if store == nil {
		store = NewMemoryDedupStore(0)
	}
	return &AlertDeduper{store: store}
}

// Filter returns the alerts that are not repeats, preserving order.
func (d *AlertDeduper) Filter(ctx context.Context, alerts []Alert) ([]Alert, error) {
	kept := make([]Alert, 0, len(alerts))
	for _, alert := range alerts {
		hash, err := signalHash(alert.Signal)
		if err != nil {
			return nil, err
		}
		repeat, err := d.store.Seen(ctx, alert.Scenario+"|"+alert.Key, hash)
		if err != nil {
			return nil, err
		}
		if !repeat {
			kept = append(kept, alert)
		}
	}
	return kept, nil
}

// signalHash is a content hash over the signal. encoding/json sorts
// map keys, so equal signals hash equally.
func signalHash(signal map[string]any) (string, error) {
	payload, err := json.Marshal(signal)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
