package calls

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voicebridge/internal/directory"
	"voicebridge/internal/metrics"
)

// Carrier is the slice of the telephony carrier the coordinator drives.
type Carrier interface {
	PlaceCall(ctx context.Context, from, to string) (callID string, err error)
	Hangup(ctx context.Context, callID string) error
}

// Directory resolves phone numbers to users and contacts.
type Directory interface {
	UserByNumber(ctx context.Context, number string) (userID string, ok bool, err error)
	ContactByNumber(ctx context.Context, userID, number string) (directory.Contact, bool, error)
}

// HistorySink receives call snapshots for durable history. Implementations
// must not block the caller.
type HistorySink interface {
	Record(ctx context.Context, rec CallRecord)
}

type noopSink struct{}

func (noopSink) Record(context.Context, CallRecord) {}

type Options struct {
	// CleanupGrace is how long a terminal record stays readable for trailing webhooks.
	CleanupGrace time.Duration
	// CallerID is the default From number for outbound calls.
	CallerID string
}

// Coordinator applies call state transitions coming from REST actions and
// carrier status callbacks.
//
// Concurrency: the store has no cross-key locking. Transitions that agree on
// a terminal value (hangup vs. completed webhook) converge by writing the same
// status. Pending-call resolution (accept vs. reject vs. timeout) is a
// compare-and-set on the pending record's status, so exactly one wins.
type Coordinator struct {
	store     *Store
	carrier   Carrier
	directory Directory
	history   HistorySink
	sched     *Scheduler
	opts      Options
	log       *slog.Logger

	Now func() time.Time
}

func NewCoordinator(store *Store, carrier Carrier, dir Directory, history HistorySink, sched *Scheduler, opts Options, log *slog.Logger) *Coordinator {
	if history == nil {
		history = noopSink{}
	}
	if sched == nil {
		sched = NewScheduler()
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.CleanupGrace <= 0 {
		opts.CleanupGrace = 10 * time.Second
	}
	return &Coordinator{
		store:     store,
		carrier:   carrier,
		directory: dir,
		history:   history,
		sched:     sched,
		opts:      opts,
		log:       log,
		Now:       time.Now,
	}
}

func (c *Coordinator) Store() *Store { return c.store }

func (c *Coordinator) now() time.Time { return c.Now().UTC() }

// MakeCall places an outbound call and records it as INITIATED.
// Placement failure creates nothing. A failed store write after a successful
// placement is logged only: the call exists at the carrier regardless.
func (c *Coordinator) MakeCall(ctx context.Context, userID string, req OutboundRequest) (CallRecord, error) {
	to := strings.TrimSpace(req.To)
	if userID == "" || to == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	from := strings.TrimSpace(req.From)
	if from == "" {
		from = c.opts.CallerID
	}
	if c.carrier == nil {
		return CallRecord{}, fmt.Errorf("%w: carrier not configured", ErrPlacementFailed)
	}

	contact := c.lookupContact(ctx, userID, to)

	sid, err := c.carrier.PlaceCall(ctx, from, to)
	if err != nil {
		return CallRecord{}, fmt.Errorf("%w: %v", ErrPlacementFailed, err)
	}
	if sid == "" {
		return CallRecord{}, fmt.Errorf("%w: empty call id", ErrPlacementFailed)
	}

	rec := CallRecord{
		CallID:      sid,
		Direction:   DirectionOutbound,
		Number:      to,
		From:        from,
		To:          to,
		Status:      StatusInitiated,
		UserID:      userID,
		ContactID:   contact.ID,
		ContactName: contact.Name,
		CreatedAt:   c.now(),
	}
	if !c.store.PutCall(ctx, rec) {
		c.log.Warn("outbound call placed but not stored", "call_id", sid, "user_id", userID)
	}
	if ref := strings.TrimSpace(req.ClientRef); ref != "" && ref != sid {
		c.store.SetAlias(ctx, ref, sid)
	}

	metrics.Transitions.WithLabelValues("rest", string(StatusInitiated)).Inc()
	c.history.Record(ctx, rec)
	return rec, nil
}

// RegisterIncoming records a new inbound call as pending. A repeated
// notification for the same call returns the existing pending record.
// The bool is false when the record could not be stored.
func (c *Coordinator) RegisterIncoming(ctx context.Context, in InboundCall) (PendingCall, bool) {
	if in.CallID == "" {
		return PendingCall{}, false
	}
	if p, ok := c.store.GetPending(ctx, in.CallID); ok {
		return p, true
	}

	p := PendingCall{
		CallID:    in.CallID,
		Number:    in.From,
		From:      in.From,
		To:        in.To,
		Status:    PendingRinging,
		CreatedAt: c.now(),
	}
	if c.directory != nil {
		userID, ok, err := c.directory.UserByNumber(ctx, in.To)
		if err != nil {
			c.log.Warn("user lookup failed", "call_id", in.CallID, "to", in.To, "err", err)
		} else if ok {
			p.UserID = userID
			contact := c.lookupContact(ctx, userID, in.From)
			p.ContactID, p.ContactName = contact.ID, contact.Name
		}
	}

	if !c.store.PutPending(ctx, p) {
		return p, false
	}
	metrics.Transitions.WithLabelValues("webhook", string(StatusRinging)).Inc()
	return p, true
}

// Accept resolves a ringing pending call in favour of userID and promotes it
// to an ACCEPTED call record.
func (c *Coordinator) Accept(ctx context.Context, userID, pendingID string) (CallRecord, error) {
	p, err := c.claimPending(ctx, userID, pendingID, PendingAccepted)
	if err != nil {
		return CallRecord{}, err
	}

	now := c.now()
	rec := CallRecord{
		CallID:      p.CallID,
		Direction:   DirectionInbound,
		Number:      p.Number,
		From:        p.From,
		To:          p.To,
		Status:      StatusAccepted,
		UserID:      userID,
		ContactID:   p.ContactID,
		ContactName: p.ContactName,
		CreatedAt:   p.CreatedAt,
		AcceptedAt:  &now,
	}
	if c.store.PutCall(ctx, rec) {
		// The next status check now finds the promoted record instead.
		c.store.RemovePending(ctx, p.CallID)
	} else {
		c.log.Warn("accepted call not stored; pending record left for the status check", "call_id", p.CallID)
	}

	metrics.Transitions.WithLabelValues("rest", string(StatusAccepted)).Inc()
	c.history.Record(ctx, rec)
	return rec, nil
}

// Reject resolves a ringing pending call as rejected. A short-lived REJECTED
// record is left so the next status check can decline the live session.
func (c *Coordinator) Reject(ctx context.Context, userID, pendingID string) error {
	p, err := c.claimPending(ctx, userID, pendingID, PendingRejected)
	if err != nil {
		return err
	}

	now := c.now()
	rec := CallRecord{
		CallID:      p.CallID,
		Direction:   DirectionInbound,
		Number:      p.Number,
		From:        p.From,
		To:          p.To,
		Status:      StatusRejected,
		UserID:      p.UserID,
		ContactID:   p.ContactID,
		ContactName: p.ContactName,
		CreatedAt:   p.CreatedAt,
		RejectedAt:  &now,
		EndedAt:     &now,
	}
	if c.store.PutCall(ctx, rec) {
		c.store.RemovePending(ctx, p.CallID)
		c.scheduleCleanup(p.CallID)
	} else {
		c.log.Warn("rejected call not stored; pending record left for the status check", "call_id", p.CallID)
	}

	metrics.Transitions.WithLabelValues("rest", string(StatusRejected)).Inc()
	if rec.UserID != "" {
		c.history.Record(ctx, rec)
	}
	return nil
}

// claimPending moves a ringing pending call to status on behalf of userID.
// Only one claimant can see it ringing; everyone else gets ErrNotFound.
func (c *Coordinator) claimPending(ctx context.Context, userID, pendingID string, status PendingStatus) (PendingCall, error) {
	if userID == "" || pendingID == "" {
		return PendingCall{}, ErrInvalidArgument
	}
	p, ok := c.store.GetPending(ctx, pendingID)
	if !ok || p.Status != PendingRinging {
		return PendingCall{}, ErrNotFound
	}
	if !p.OwnedBy(userID) {
		return PendingCall{}, ErrForbidden
	}
	p, won := c.store.MergePending(ctx, pendingID, func(p *PendingCall) bool {
		if p.Status != PendingRinging {
			return false
		}
		p.Status = status
		p.ResolvedBy = userID
		return true
	})
	if !won {
		return PendingCall{}, ErrNotFound
	}
	return p, nil
}

// DropPending ends a still-ringing pending call nobody resolved (ring timeout,
// caller hung up, immediate reject). A zero-duration history entry with
// status is written when a user was resolved. The bool is false when the
// pending call was absent or already resolved by someone else.
func (c *Coordinator) DropPending(ctx context.Context, pendingID string, status Status) (PendingCall, bool) {
	p, won := c.store.MergePending(ctx, pendingID, func(p *PendingCall) bool {
		if p.Status != PendingRinging {
			return false
		}
		p.Status = PendingRejected
		return true
	})
	if !won {
		return p, false
	}
	c.store.RemovePending(ctx, pendingID)

	metrics.Transitions.WithLabelValues("timeout", string(status)).Inc()
	if p.UserID != "" {
		now := c.now()
		c.history.Record(ctx, CallRecord{
			CallID:      p.CallID,
			Direction:   DirectionInbound,
			Number:      p.Number,
			From:        p.From,
			To:          p.To,
			Status:      status,
			UserID:      p.UserID,
			ContactID:   p.ContactID,
			ContactName: p.ContactName,
			CreatedAt:   p.CreatedAt,
			EndedAt:     &now,
		})
	}
	return p, true
}

// Hangup ends a call on behalf of its owner. User-initiated termination is
// authoritative: the record becomes COMPLETED whatever phase it was in.
// Hanging up an already-terminal call returns it unchanged.
func (c *Coordinator) Hangup(ctx context.Context, userID, callID string) (CallRecord, error) {
	if userID == "" || callID == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	id := c.store.Resolve(ctx, callID)
	rec, ok := c.store.GetCall(ctx, id)
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	if !rec.OwnedBy(userID) {
		return CallRecord{}, ErrForbidden
	}
	if rec.Status.Terminal() {
		return rec, nil
	}

	if c.carrier != nil {
		if err := c.carrier.Hangup(ctx, id); err != nil {
			// The leg may already be gone at the carrier; local state still ends.
			c.log.Warn("carrier hangup failed", "call_id", id, "err", err)
		}
	}

	now := c.now()
	updated, applied := c.store.MergeCall(ctx, id, func(r *CallRecord) bool {
		if r.Status.Terminal() {
			return false
		}
		r.Status = StatusCompleted
		r.EndedAt = &now
		return true
	})
	switch {
	case applied:
		rec = updated
		metrics.Transitions.WithLabelValues("rest", string(StatusCompleted)).Inc()
		c.history.Record(ctx, rec)
	case updated.CallID != "":
		// A terminal webhook got there first.
		rec = updated
	default:
		rec.Status = StatusCompleted
		rec.EndedAt = &now
	}
	c.scheduleCleanup(id)
	return rec, nil
}

// ApplyStatus applies a carrier status callback. It reports whether the
// stored record changed. Events for unknown calls and events the transition
// guard rejects are dropped.
func (c *Coordinator) ApplyStatus(ctx context.Context, ev StatusEvent) (CallRecord, bool) {
	if ev.CallID == "" || !ev.Status.Valid() {
		metrics.IgnoredTransitions.WithLabelValues("webhook", "invalid").Inc()
		return CallRecord{}, false
	}
	id := c.store.Resolve(ctx, ev.CallID)
	at := ev.OccurredAt
	if at.IsZero() {
		at = c.now()
	}

	rec, applied := c.store.MergeCall(ctx, id, func(r *CallRecord) bool {
		return applyEvent(r, ev, at.UTC())
	})
	if !applied {
		if rec.CallID == "" {
			if ev.Status.Terminal() {
				if _, dropped := c.DropPending(ctx, id, missedStatus(ev.Status)); dropped {
					return CallRecord{}, false
				}
			}
			metrics.IgnoredTransitions.WithLabelValues("webhook", "unknown_call").Inc()
			c.log.Debug("status for unknown call", "call_id", id, "status", ev.Status)
			return CallRecord{}, false
		}
		metrics.IgnoredTransitions.WithLabelValues("webhook", "guard").Inc()
		return rec, false
	}

	metrics.Transitions.WithLabelValues("webhook", string(rec.Status)).Inc()
	if rec.Status.Terminal() {
		c.scheduleCleanup(id)
	}
	c.history.Record(ctx, rec)
	return rec, true
}

// applyEvent is the transition table. It mutates r and reports whether
// anything changed.
func applyEvent(r *CallRecord, ev StatusEvent, at time.Time) bool {
	if r.Status.Terminal() {
		// A REST hangup may have closed the call before the carrier reported
		// the billed duration.
		if r.Status == StatusCompleted && ev.Status == StatusCompleted &&
			r.DurationSeconds == 0 && ev.DurationSeconds > 0 {
			r.DurationSeconds = ev.DurationSeconds
			return true
		}
		return false
	}
	if !CanTransition(r.Status, ev.Status) {
		return false
	}

	r.Status = ev.Status
	switch {
	case ev.Status == StatusAnswered:
		r.AnsweredAt = &at
	case ev.Status == StatusRejected:
		r.RejectedAt = &at
		r.EndedAt = &at
	case ev.Status.Terminal():
		r.EndedAt = &at
	}
	if ev.Status == StatusCompleted {
		r.DurationSeconds = ev.DurationSeconds
	}
	return true
}

// missedStatus maps the carrier's final status for an unanswered inbound leg.
// "completed" before anyone accepted means the caller gave up.
func missedStatus(s Status) Status {
	if s == StatusCompleted {
		return StatusCanceled
	}
	return s
}

func (c *Coordinator) scheduleCleanup(id string) {
	c.sched.Schedule(string(KindActive)+":"+id, c.opts.CleanupGrace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rec, ok := c.store.GetCall(ctx, id); ok && rec.Status.Terminal() {
			c.store.RemoveCall(ctx, id)
			c.log.Debug("terminal call cleaned up", "call_id", id, "status", rec.Status)
		}
	})
}

// Get returns one call the user may see. id may be a client alias.
func (c *Coordinator) Get(ctx context.Context, userID, id string) (CallRecord, error) {
	if userID == "" || id == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	rec, ok := c.store.GetCall(ctx, c.store.Resolve(ctx, id))
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	if !rec.OwnedBy(userID) {
		return CallRecord{}, ErrForbidden
	}
	return rec, nil
}

// ListActive returns the user's non-terminal calls.
func (c *Coordinator) ListActive(ctx context.Context, userID string) []CallRecord {
	out := make([]CallRecord, 0)
	for _, r := range c.store.ListCalls(ctx) {
		if r.UserID == userID && !r.Status.Terminal() {
			out = append(out, r)
		}
	}
	return out
}

// ListPending returns ringing calls addressed to the user or to nobody in particular.
func (c *Coordinator) ListPending(ctx context.Context, userID string) []PendingCall {
	out := make([]PendingCall, 0)
	for _, p := range c.store.ListPending(ctx) {
		if p.Status == PendingRinging && p.OwnedBy(userID) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Coordinator) lookupContact(ctx context.Context, userID, number string) directory.Contact {
	if c.directory == nil || userID == "" || number == "" {
		return directory.Contact{}
	}
	contact, ok, err := c.directory.ContactByNumber(ctx, userID, number)
	if err != nil {
		c.log.Warn("contact lookup failed", "user_id", userID, "err", err)
		return directory.Contact{}
	}
	if !ok {
		return directory.Contact{}
	}
	return contact
}
