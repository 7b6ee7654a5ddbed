package telephony

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"voicebridge/internal/calls"
	"voicebridge/internal/metrics"
	"voicebridge/pkg/logger"
)

// Webhook paths, relative to the public base URL.
const (
	PathIncoming       = "/webhooks/voice/incoming"
	PathStatusCheck    = "/webhooks/voice/status-check/"
	PathOutboundAnswer = "/webhooks/voice/outbound-answer"
	PathStatus         = "/webhooks/voice/status"
	PathReject         = "/webhooks/voice/reject"
)

type ResponderConfig struct {
	// PollPause is how long the carrier waits before asking again.
	PollPause time.Duration
	// MaxRingWait bounds the poll loop, measured from the first notification.
	MaxRingWait time.Duration
	// DialTimeout is how long an accepted call rings the user's client.
	DialTimeout time.Duration
	// ForwardNumber is dialed when an accepted call has no client to ring.
	ForwardNumber string
	// PublicBaseURL makes redirect URLs absolute. Relative URLs work with
	// Twilio too, resolved against the request URL.
	PublicBaseURL string
	Voice         string
}

func (c ResponderConfig) withDefaults() ResponderConfig {
	if c.PollPause <= 0 {
		c.PollPause = 2 * time.Second
	}
	if c.MaxRingWait <= 0 {
		c.MaxRingWait = 60 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	return c
}

const (
	textHold        = "Please hold while we connect your call."
	textUnavailable = "The person you are calling is no longer available. Goodbye."
	textError       = "We are sorry, an error occurred. Goodbye."
	textGreeting    = "Hello, please hold while we connect you."
)

// Responder turns call state into TwiML for the live carrier session.
//
// Inbound calls wait on a human decision. The carrier cannot be held open
// for that, so every response while the call is still ringing is "pause,
// then redirect back here"; each redirect re-reads the store.
type Responder struct {
	coord *calls.Coordinator
	store *calls.Store
	cfg   ResponderConfig

	Now func() time.Time
}

func NewResponder(coord *calls.Coordinator, cfg ResponderConfig) *Responder {
	return &Responder{coord: coord, store: coord.Store(), cfg: cfg.withDefaults(), Now: time.Now}
}

func (r *Responder) statusCheckURL(callID string) string {
	return r.cfg.PublicBaseURL + PathStatusCheck + callID
}

func (r *Responder) pauseSeconds() int {
	return int(r.cfg.PollPause.Round(time.Second) / time.Second)
}

// wait keeps the caller on the line for one more poll period. The hold
// prompt is only spoken on first contact.
func (r *Responder) wait(resp *Response, callID string) *Response {
	return resp.Pause(r.pauseSeconds()).Redirect(r.statusCheckURL(callID))
}

func (r *Responder) unavailable() *Response {
	return NewResponse().Say(r.cfg.Voice, textUnavailable).Hangup()
}

func (r *Responder) decline() *Response {
	return NewResponse().Reject("rejected")
}

// Failure is the safe termination served whenever a session cannot continue.
func (r *Responder) Failure() *Response {
	return NewResponse().Say(r.cfg.Voice, textError).Hangup()
}

func (r *Responder) connect(userID, callerID string) *Response {
	target := ""
	switch {
	case userID != "":
		target = "client:" + userID
	case r.cfg.ForwardNumber != "":
		target = r.cfg.ForwardNumber
	default:
		return r.unavailable()
	}
	return NewResponse().
		Dial(Dial{CallerID: callerID, Timeout: int(r.cfg.DialTimeout / time.Second), Targets: []string{target}}).
		Hangup()
}

// Incoming handles the first notification for an inbound call.
func (r *Responder) Incoming(ctx context.Context, in calls.InboundCall) *Response {
	if in.CallID == "" {
		return r.Failure()
	}
	p, ok := r.coord.RegisterIncoming(ctx, in)
	if !ok {
		logger.From(ctx).Error("pending call not stored", "call_id", in.CallID)
		return r.Failure()
	}
	logger.From(ctx).Info("incoming call pending", "call_id", p.CallID, "from", p.From, "user_id", p.UserID)
	return r.wait(NewResponse().Say(r.cfg.Voice, textHold), p.CallID)
}

// StatusCheck answers one re-invocation of the poll loop.
func (r *Responder) StatusCheck(ctx context.Context, callID string) *Response {
	log := logger.From(ctx).With("call_id", callID)
	if callID == "" {
		return r.Failure()
	}

	if p, ok := r.store.GetPending(ctx, callID); ok {
		return r.resolvePending(ctx, log, p)
	}
	return r.fromRecord(ctx, log, callID)
}

// fromRecord answers from the promotion target: Accept and Reject leave a
// CallRecord behind.
func (r *Responder) fromRecord(ctx context.Context, log *slog.Logger, callID string) *Response {
	rec, ok := r.store.GetCall(ctx, callID)
	if !ok {
		outcome(log, "unavailable")
		return r.unavailable()
	}
	switch rec.Status {
	case calls.StatusAccepted:
		outcome(log, "connect")
		return r.connect(rec.UserID, rec.From)
	case calls.StatusRejected:
		outcome(log, "decline")
		return r.decline()
	default:
		outcome(log, "unavailable")
		return r.unavailable()
	}
}

func (r *Responder) resolvePending(ctx context.Context, log *slog.Logger, p calls.PendingCall) *Response {
	switch p.Status {
	case calls.PendingAccepted:
		r.store.RemovePending(ctx, p.CallID)
		outcome(log, "connect")
		return r.connect(p.ResolvedBy, p.From)
	case calls.PendingRejected:
		r.store.RemovePending(ctx, p.CallID)
		outcome(log, "decline")
		return r.decline()
	}

	if r.Now().Sub(p.CreatedAt) >= r.cfg.MaxRingWait {
		if _, dropped := r.coord.DropPending(ctx, p.CallID, calls.StatusNoAnswer); dropped {
			outcome(log, "timeout")
			return r.unavailable()
		}
		// Someone resolved it between our read and the drop.
		if cur, ok := r.store.GetPending(ctx, p.CallID); ok && cur.Status != calls.PendingRinging {
			return r.resolvePending(ctx, log, cur)
		}
		return r.fromRecord(ctx, log, p.CallID)
	}
	outcome(log, "wait")
	return r.wait(NewResponse(), p.CallID)
}

func outcome(log *slog.Logger, o string) {
	metrics.PollOutcomes.WithLabelValues(o).Inc()
	log.Debug("status check", "outcome", o)
}

// OutboundAnswer greets the answered far end, by name when the contact is
// known, then bridges it to the calling user's client.
func (r *Responder) OutboundAnswer(ctx context.Context, callID string) *Response {
	if callID == "" {
		return r.Failure()
	}
	rec, applied := r.coord.ApplyStatus(ctx, calls.StatusEvent{CallID: callID, Status: calls.StatusAnswered})
	if !applied {
		var ok bool
		if rec, ok = r.store.GetCall(ctx, r.store.Resolve(ctx, callID)); !ok {
			logger.From(ctx).Warn("answer for unknown outbound call", "call_id", callID)
			return NewResponse().Say(r.cfg.Voice, textGreeting)
		}
	}

	greeting := textGreeting
	if name := strings.TrimSpace(rec.ContactName); name != "" {
		greeting = "Hello " + name + ", please hold while we connect you."
	}
	resp := NewResponse().Say(r.cfg.Voice, greeting)
	if rec.UserID != "" {
		resp.Dial(Dial{CallerID: rec.From, Timeout: int(r.cfg.DialTimeout / time.Second), Targets: []string{"client:" + rec.UserID}})
	}
	return resp
}

// Status applies a carrier status callback. The carrier ignores the body.
func (r *Responder) Status(ctx context.Context, ev calls.StatusEvent) *Response {
	r.coord.ApplyStatus(ctx, ev)
	return NewResponse()
}

// Reject declines the session outright and resolves any pending record.
func (r *Responder) Reject(ctx context.Context, callID string) *Response {
	if callID != "" {
		r.coord.DropPending(ctx, callID, calls.StatusRejected)
	}
	return r.decline()
}
