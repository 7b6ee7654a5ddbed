package calls

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

type backendCase struct {
	name string
	// advance moves backend time forward so TTLs can elapse.
	advance func(time.Duration)
	backend Backend
}

func backends(t *testing.T) []backendCase {
	t.Helper()

	mem := NewMemoryBackend()
	memNow := testNow()
	var memMu sync.Mutex
	mem.Now = func() time.Time {
		memMu.Lock()
		defer memMu.Unlock()
		return memNow
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return []backendCase{
		{
			name:    "memory",
			backend: mem,
			advance: func(d time.Duration) {
				memMu.Lock()
				defer memMu.Unlock()
				memNow = memNow.Add(d)
			},
		},
		{
			name:    "redis",
			backend: NewRedisBackend(rdb),
			advance: mr.FastForward,
		},
	}
}

func TestStore_PutGetRemove(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			s := NewStore(bc.backend, TTLs{}, nil)
			ctx := context.Background()

			_, ok := s.GetCall(ctx, "CA1")
			require.False(t, ok)

			require.True(t, s.PutCall(ctx, CallRecord{CallID: "CA1", Status: StatusInitiated}))
			got, ok := s.GetCall(ctx, "CA1")
			require.True(t, ok)
			require.Equal(t, StatusInitiated, got.Status)
			require.False(t, got.UpdatedAt.IsZero())

			// put overwrites
			require.True(t, s.PutCall(ctx, CallRecord{CallID: "CA1", Status: StatusRinging}))
			got, _ = s.GetCall(ctx, "CA1")
			require.Equal(t, StatusRinging, got.Status)

			require.True(t, s.RemoveCall(ctx, "CA1"))
			require.False(t, s.RemoveCall(ctx, "CA1"))
			_, ok = s.GetCall(ctx, "CA1")
			require.False(t, ok)
		})
	}
}

func TestStore_MergeMissingIsNoop(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			s := NewStore(bc.backend, TTLs{}, nil)
			ctx := context.Background()

			called := false
			rec, wrote := s.MergeCall(ctx, "CA404", func(r *CallRecord) bool {
				called = true
				r.Status = StatusCompleted
				return true
			})
			require.False(t, wrote)
			require.False(t, called)
			require.Empty(t, rec.CallID)

			_, ok := s.GetCall(ctx, "CA404")
			require.False(t, ok, "merge must not create a record")
		})
	}
}

func TestStore_MergeDeclinedLeavesRecord(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			s := NewStore(bc.backend, TTLs{}, nil)
			ctx := context.Background()
			require.True(t, s.PutCall(ctx, CallRecord{CallID: "CA1", Status: StatusCompleted}))

			rec, wrote := s.MergeCall(ctx, "CA1", func(r *CallRecord) bool { return false })
			require.False(t, wrote)
			require.Equal(t, StatusCompleted, rec.Status)
		})
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			s := NewStore(bc.backend, TTLs{Pending: time.Minute}, nil)
			ctx := context.Background()
			require.True(t, s.PutPending(ctx, PendingCall{CallID: "CA1", Status: PendingRinging}))

			bc.advance(30 * time.Second)
			// A write refreshes the TTL.
			_, wrote := s.MergePending(ctx, "CA1", func(p *PendingCall) bool { p.UserID = "u1"; return true })
			require.True(t, wrote)

			bc.advance(45 * time.Second)
			p, ok := s.GetPending(ctx, "CA1")
			require.True(t, ok)
			require.Equal(t, "u1", p.UserID)

			bc.advance(30 * time.Second)
			_, ok = s.GetPending(ctx, "CA1")
			require.False(t, ok)
			require.Empty(t, s.ListPending(ctx))
		})
	}
}

func TestStore_ListAndAlias(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			s := NewStore(bc.backend, TTLs{}, nil)
			ctx := context.Background()
			require.True(t, s.PutCall(ctx, CallRecord{CallID: "CA1"}))
			require.True(t, s.PutCall(ctx, CallRecord{CallID: "CA2"}))
			require.True(t, s.PutPending(ctx, PendingCall{CallID: "CA3"}))

			require.Len(t, s.ListCalls(ctx), 2)
			require.Len(t, s.ListPending(ctx), 1)

			require.True(t, s.SetAlias(ctx, "tmp-1", "CA2"))
			require.Equal(t, "CA2", s.Resolve(ctx, "tmp-1"))
			require.Equal(t, "CA1", s.Resolve(ctx, "CA1"))
			require.Equal(t, "nope", s.Resolve(ctx, "nope"))
		})
	}
}

func TestStore_ConcurrentMergesDoNotLoseUpdates(t *testing.T) {
	for _, bc := range backends(t) {
		t.Run(bc.name, func(t *testing.T) {
			if rb, ok := bc.backend.(*RedisBackend); ok {
				rb.MaxTxRetries = 100
			}
			s := NewStore(bc.backend, TTLs{}, nil)
			ctx := context.Background()
			require.True(t, s.PutCall(ctx, CallRecord{CallID: "CA1"}))

			const n = 10
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					s.MergeCall(ctx, "CA1", func(r *CallRecord) bool {
						r.DurationSeconds++
						return true
					})
				}()
			}
			wg.Wait()

			got, _ := s.GetCall(ctx, "CA1")
			require.Equal(t, n, got.DurationSeconds)
		})
	}
}

func TestStore_BackendFailureReadsAsAbsent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	s := NewStore(NewRedisBackend(rdb), TTLs{}, nil)
	ctx := context.Background()

	mr.Close()
	require.False(t, s.PutCall(ctx, CallRecord{CallID: "CA1"}))
	_, ok := s.GetCall(ctx, "CA1")
	require.False(t, ok)
	_, wrote := s.MergeCall(ctx, "CA1", func(*CallRecord) bool { return true })
	require.False(t, wrote)
	require.Empty(t, s.ListCalls(ctx))
}

func TestMemoryBackend_Sweep(t *testing.T) {
	b := NewMemoryBackend()
	now := testNow()
	b.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, b.Set(ctx, "b", []byte("2"), time.Hour))
	now = now.Add(2 * time.Second)

	require.Equal(t, 1, b.Sweep())
	require.Equal(t, 1, b.Len())
}
