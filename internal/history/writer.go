package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"voicebridge/internal/calls"
	"voicebridge/internal/events"
	"voicebridge/internal/metrics"

	"github.com/avast/retry-go"
	"github.com/panjf2000/ants/v2"
)

type WriterConfig struct {
	PoolSize int
	// Backlog bounds records waiting for a free worker. Record drops only
	// when it is full.
	Backlog       int
	RetryAttempts uint
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
	WriteTimeout  time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	if c.Backlog <= 0 {
		c.Backlog = 1024
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

var ErrClosed = errors.New("history: writer closed")

type job struct {
	ctx   context.Context
	entry Entry
}

// Writer persists call snapshots off the request path. Record never blocks:
// entries queue in a bounded backlog that a dispatcher feeds to the worker
// pool, and are dropped (and counted) only when the backlog is full.
type Writer struct {
	repo Repository
	pub  events.Publisher
	pool *ants.Pool
	cfg  WriterConfig
	log  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job

	// wg is only touched by the dispatcher and the workers it starts.
	wg         sync.WaitGroup
	dispatched chan struct{}
}

func NewWriter(repo Repository, pub events.Publisher, cfg WriterConfig, log *slog.Logger) (*Writer, error) {
	cfg = cfg.withDefaults()
	if pub == nil {
		pub = events.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		repo:       repo,
		pub:        pub,
		pool:       pool,
		cfg:        cfg,
		log:        log,
		queue:      make(chan job, cfg.Backlog),
		dispatched: make(chan struct{}),
	}
	go w.dispatch()
	return w, nil
}

// Record schedules rec for persistence. Calls without an owning user are
// skipped: they cannot be attributed to anyone's history.
func (w *Writer) Record(ctx context.Context, rec calls.CallRecord) {
	if rec.UserID == "" {
		metrics.HistoryWrites.WithLabelValues("skipped").Inc()
		w.log.Debug("history skipped: no user", "call_id", rec.CallID, "status", rec.Status)
		return
	}

	// Keep request-scoped values but outlive the request.
	j := job{ctx: context.WithoutCancel(ctx), entry: EntryFromRecord(rec)}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		metrics.HistoryWrites.WithLabelValues("dropped").Inc()
		w.log.Warn("history dropped: writer closed", "call_id", rec.CallID)
		return
	}
	select {
	case w.queue <- j:
	default:
		metrics.HistoryWrites.WithLabelValues("dropped").Inc()
		w.log.Error("history dropped: backlog full", "call_id", rec.CallID, "backlog", w.cfg.Backlog)
	}
}

// dispatch hands queued entries to the pool, waiting for a free worker.
func (w *Writer) dispatch() {
	defer close(w.dispatched)
	for j := range w.queue {
		j := j
		w.wg.Add(1)
		if err := w.pool.Submit(func() {
			defer w.wg.Done()
			w.write(j.ctx, j.entry)
		}); err != nil {
			w.wg.Done()
			metrics.HistoryWrites.WithLabelValues("dropped").Inc()
			w.log.Error("history dropped: pool submit failed", "call_id", j.entry.CallID, "err", err)
		}
	}
}

func (w *Writer) write(base context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(base, w.cfg.WriteTimeout)
	defer cancel()

	err := retry.Do(
		func() error { return w.repo.Upsert(ctx, e) },
		retry.Context(ctx),
		retry.Attempts(w.cfg.RetryAttempts),
		retry.Delay(w.cfg.RetryDelay),
		retry.MaxDelay(w.cfg.RetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.log.Warn("history write retry", "call_id", e.CallID, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		metrics.HistoryWrites.WithLabelValues("failed").Inc()
		w.log.Error("history write failed", "call_id", e.CallID, "status", e.Status, "err", err)
		return
	}
	metrics.HistoryWrites.WithLabelValues("ok").Inc()

	if err := w.pub.Publish(ctx, events.Event{
		Type:            events.TypeCallUpdated,
		CallID:          e.CallID,
		UserID:          e.UserID,
		Direction:       e.Direction,
		Number:          e.Number,
		Status:          e.Status,
		DurationSeconds: e.DurationSeconds,
		EndedAt:         e.EndedAt,
		OccurredAt:      e.UpdatedAt,
	}); err != nil {
		w.log.Warn("call event not published", "call_id", e.CallID, "err", err)
	}
}

func (w *Writer) List(ctx context.Context, userID string, limit int) ([]Entry, error) {
	return w.repo.ListByUser(ctx, userID, limit)
}

// Close stops accepting work and waits for queued writes until ctx is done.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-w.dispatched
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.pool.Release()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
