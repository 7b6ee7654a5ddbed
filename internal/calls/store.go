package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voicebridge/internal/metrics"

	"github.com/goccy/go-json"
)

// Kind namespaces store keys.
type Kind string

const (
	KindActive  Kind = "active-call"
	KindPending Kind = "pending-call"
	KindAlias   Kind = "sid-alias"
)

const keyPrefix = "voicebridge:"

func key(kind Kind, id string) string { return keyPrefix + string(kind) + ":" + id }

// TTLs per record kind. Every write resets the record's TTL to these values.
type TTLs struct {
	Active  time.Duration
	Pending time.Duration
	Alias   time.Duration
}

func (t TTLs) withDefaults() TTLs {
	if t.Active <= 0 {
		t.Active = time.Hour
	}
	if t.Pending <= 0 {
		t.Pending = 5 * time.Minute
	}
	if t.Alias <= 0 {
		t.Alias = 2 * time.Minute
	}
	return t
}

func (t TTLs) of(kind Kind) time.Duration {
	switch kind {
	case KindPending:
		return t.Pending
	case KindAlias:
		return t.Alias
	default:
		return t.Active
	}
}

// Store is the typed call store shared by the coordinator and the responder.
//
// Methods never return storage errors. Failures are logged and reported as
// absent / no-op so a webhook can always be answered.
type Store struct {
	backend Backend
	ttl     TTLs
	log     *slog.Logger

	Now func() time.Time
}

func NewStore(backend Backend, ttl TTLs, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{backend: backend, ttl: ttl.withDefaults(), log: log, Now: time.Now}
}

func (s *Store) Backend() string { return s.backend.Name() }

func (s *Store) TTL(kind Kind) time.Duration { return s.ttl.of(kind) }

type stamped[T any] interface {
	*T
	touch(time.Time)
}

func (s *Store) fail(op string, kind Kind, id string, err error) {
	metrics.StoreErrors.WithLabelValues(op, string(kind)).Inc()
	s.log.Error("call store failure", "op", op, "kind", kind, "call_id", id, "backend", s.backend.Name(), "err", err)
}

func put[T any, P stamped[T]](ctx context.Context, s *Store, kind Kind, id string, v P) bool {
	v.touch(s.Now().UTC())
	b, err := json.Marshal(v)
	if err != nil {
		s.fail("put", kind, id, err)
		return false
	}
	if err := s.backend.Set(ctx, key(kind, id), b, s.ttl.of(kind)); err != nil {
		s.fail("put", kind, id, err)
		return false
	}
	return true
}

func get[T any](ctx context.Context, s *Store, kind Kind, id string) (T, bool) {
	var out T
	b, err := s.backend.Get(ctx, key(kind, id))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			s.fail("get", kind, id, err)
		}
		return out, false
	}
	if err := json.Unmarshal(b, &out); err != nil {
		s.fail("get", kind, id, err)
		return out, false
	}
	return out, true
}

// merge applies fn to the stored value. fn returns false to leave the record
// untouched. The second result is true only when a write happened.
func merge[T any, P stamped[T]](ctx context.Context, s *Store, kind Kind, id string, fn func(P) bool) (T, bool) {
	var out T
	_, err := s.backend.Update(ctx, key(kind, id), s.ttl.of(kind), func(old []byte) ([]byte, error) {
		var cur T
		if err := json.Unmarshal(old, &cur); err != nil {
			return nil, err
		}
		p := P(&cur)
		if !fn(p) {
			out = cur
			return nil, ErrNoChange
		}
		p.touch(s.Now().UTC())
		out = cur
		return json.Marshal(p)
	})
	switch {
	case err == nil:
		return out, true
	case errors.Is(err, ErrNoChange), errors.Is(err, ErrMiss):
		return out, false
	default:
		s.fail("merge", kind, id, err)
		var zero T
		return zero, false
	}
}

func remove(ctx context.Context, s *Store, kind Kind, id string) bool {
	ok, err := s.backend.Delete(ctx, key(kind, id))
	if err != nil {
		s.fail("remove", kind, id, err)
		return false
	}
	return ok
}

func list[T any](ctx context.Context, s *Store, kind Kind) []T {
	raw, err := s.backend.Scan(ctx, keyPrefix+string(kind)+":")
	if err != nil {
		s.fail("list", kind, "", err)
		return []T{}
	}
	out := make([]T, 0, len(raw))
	for _, b := range raw {
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			s.fail("list", kind, "", err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// --- active calls ---

func (s *Store) PutCall(ctx context.Context, rec CallRecord) bool {
	return put(ctx, s, KindActive, rec.CallID, &rec)
}

func (s *Store) GetCall(ctx context.Context, id string) (CallRecord, bool) {
	return get[CallRecord](ctx, s, KindActive, id)
}

// MergeCall updates an existing call. It never creates one.
// The returned record is the stored value after fn ran, or the unchanged
// value when fn declined. The bool reports whether a write happened.
func (s *Store) MergeCall(ctx context.Context, id string, fn func(*CallRecord) bool) (CallRecord, bool) {
	return merge[CallRecord](ctx, s, KindActive, id, fn)
}

func (s *Store) RemoveCall(ctx context.Context, id string) bool {
	return remove(ctx, s, KindActive, id)
}

func (s *Store) ListCalls(ctx context.Context) []CallRecord {
	return list[CallRecord](ctx, s, KindActive)
}

// --- pending calls ---

func (s *Store) PutPending(ctx context.Context, p PendingCall) bool {
	return put(ctx, s, KindPending, p.CallID, &p)
}

func (s *Store) GetPending(ctx context.Context, id string) (PendingCall, bool) {
	return get[PendingCall](ctx, s, KindPending, id)
}

func (s *Store) MergePending(ctx context.Context, id string, fn func(*PendingCall) bool) (PendingCall, bool) {
	return merge[PendingCall](ctx, s, KindPending, id, fn)
}

func (s *Store) RemovePending(ctx context.Context, id string) bool {
	return remove(ctx, s, KindPending, id)
}

func (s *Store) ListPending(ctx context.Context) []PendingCall {
	return list[PendingCall](ctx, s, KindPending)
}

// --- aliases ---

func (s *Store) SetAlias(ctx context.Context, provisional, callID string) bool {
	return put(ctx, s, KindAlias, provisional, &SidAlias{Provisional: provisional, CallID: callID})
}

func (s *Store) GetAlias(ctx context.Context, provisional string) (string, bool) {
	a, ok := get[SidAlias](ctx, s, KindAlias, provisional)
	if !ok || a.CallID == "" {
		return "", false
	}
	return a.CallID, true
}

// Resolve maps id to a carrier CallSid, following an alias when id is not a
// known call. Unknown ids come back unchanged.
func (s *Store) Resolve(ctx context.Context, id string) string {
	if _, ok := s.GetCall(ctx, id); ok {
		return id
	}
	if sid, ok := s.GetAlias(ctx, id); ok {
		return sid
	}
	return id
}
