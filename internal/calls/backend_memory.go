package calls

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is the in-process fallback used when no remote cache is reachable.
//
// Expired entries are hidden on read but only reclaimed by Sweep, so Run must
// be started alongside it.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	Now func() time.Time
}

type memoryEntry struct {
	val       []byte
	expiresAt time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[string]memoryEntry{}, Now: time.Now}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) live(e memoryEntry, now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

func (b *MemoryBackend) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (b *MemoryBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.Now()
	b.entries[key] = memoryEntry{val: append([]byte(nil), val...), expiresAt: b.expiry(now, ttl)}
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || !b.live(e, b.Now()) {
		return nil, ErrMiss
	}
	return append([]byte(nil), e.val...), nil
}

func (b *MemoryBackend) Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.Now()
	e, ok := b.entries[key]
	if !ok || !b.live(e, now) {
		return nil, ErrMiss
	}
	next, err := fn(append([]byte(nil), e.val...))
	if err != nil {
		return nil, err
	}
	b.entries[key] = memoryEntry{val: append([]byte(nil), next...), expiresAt: b.expiry(now, ttl)}
	return next, nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return false, nil
	}
	delete(b.entries, key)
	return b.live(e, b.Now()), nil
}

func (b *MemoryBackend) Scan(ctx context.Context, prefix string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.Now()
	out := make([][]byte, 0)
	for k, e := range b.entries {
		if !strings.HasPrefix(k, prefix) || !b.live(e, now) {
			continue
		}
		out = append(out, append([]byte(nil), e.val...))
	}
	return out, nil
}

// Sweep drops expired entries and returns how many were removed.
func (b *MemoryBackend) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.Now()
	n := 0
	for k, e := range b.entries {
		if !b.live(e, now) {
			delete(b.entries, k)
			n++
		}
	}
	return n
}

// Len counts stored entries, expired or not.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Run sweeps every interval until ctx is done.
func (b *MemoryBackend) Run(ctx context.Context, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := b.Sweep(); n > 0 && log != nil {
				log.Debug("memory store sweep", "removed", n)
			}
		}
	}
}
