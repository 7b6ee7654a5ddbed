package history

import (
	"context"
	"sort"
	"sync"
)

type MemoryRepo struct {
	mu   sync.RWMutex
	rows map[string]Entry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: map[string]Entry{}}
}

func (r *MemoryRepo) Upsert(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[e.CallID]
	if ok && e.StatusRank < cur.StatusRank {
		return nil
	}
	if ok {
		e = mergeEntry(cur, e)
	}
	r.rows[e.CallID] = e
	return nil
}

// mergeEntry mirrors the ON CONFLICT clause of the Postgres upsert.
func mergeEntry(cur, next Entry) Entry {
	if next.UserID == "" {
		next.UserID = cur.UserID
	}
	if next.ContactID == "" {
		next.ContactID = cur.ContactID
		next.ContactName = cur.ContactName
	}
	if next.DurationSeconds < cur.DurationSeconds {
		next.DurationSeconds = cur.DurationSeconds
	}
	if next.AnsweredAt == nil {
		next.AnsweredAt = cur.AnsweredAt
	}
	if next.EndedAt == nil {
		next.EndedAt = cur.EndedAt
	}
	next.StartedAt = cur.StartedAt
	return next
}

func (r *MemoryRepo) Get(callID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rows[callID]
	return e, ok
}

func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string, limit int) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range r.rows {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
