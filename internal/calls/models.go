package calls

import "time"

// CallRecord is the live view of one carrier call leg.
//
// Keyed by the carrier-issued call identifier (CallSid). A record that is
// absent from the store means "not found"; it never means a terminal status.
//
// UserID and ContactID are optional: inbound calls from unknown numbers have
// neither until someone accepts them.
type CallRecord struct {
	CallID    string    `json:"call_id"`
	Direction Direction `json:"direction"`

	// Number is the human counterpart (dialed number on outbound, caller on inbound).
	Number string `json:"number"`
	From   string `json:"from"`
	To     string `json:"to"`

	Status Status `json:"status"`

	UserID      string `json:"user_id,omitempty"`
	ContactID   string `json:"contact_id,omitempty"`
	ContactName string `json:"contact_name,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	// DurationSeconds is only populated on completion.
	DurationSeconds int `json:"duration"`
}

func (r *CallRecord) touch(now time.Time) { r.UpdatedAt = now }

// OwnedBy reports whether userID may act on the record.
// Records with no associated user are open to any authenticated user.
func (r CallRecord) OwnedBy(userID string) bool {
	return r.UserID == "" || r.UserID == userID
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// PendingCall is an inbound call waiting on a human accept/reject decision.
// It lives for minutes at most and is either promoted to a CallRecord or dropped.
type PendingCall struct {
	CallID string `json:"call_id"`

	Number string `json:"number"`
	From   string `json:"from"`
	To     string `json:"to"`

	// Best-effort guess resolved from the dialed and calling numbers.
	UserID      string `json:"user_id,omitempty"`
	ContactID   string `json:"contact_id,omitempty"`
	ContactName string `json:"contact_name,omitempty"`

	Status PendingStatus `json:"status"`

	// ResolvedBy is the user who accepted or rejected the call.
	ResolvedBy string `json:"resolved_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *PendingCall) touch(now time.Time) { p.UpdatedAt = now }

func (p PendingCall) OwnedBy(userID string) bool {
	return p.UserID == "" || p.UserID == userID
}

type PendingStatus string

const (
	PendingRinging  PendingStatus = "ringing"
	PendingAccepted PendingStatus = "accepted"
	PendingRejected PendingStatus = "rejected"
)

// SidAlias bridges a client-supplied provisional id to the carrier CallSid.
type SidAlias struct {
	Provisional string    `json:"provisional"`
	CallID      string    `json:"call_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (a *SidAlias) touch(now time.Time) { a.UpdatedAt = now }

// StatusEvent is a carrier-pushed call progress notification.
type StatusEvent struct {
	CallID          string
	Status          Status
	DurationSeconds int
	OccurredAt      time.Time
}

// InboundCall is the first carrier notification for an incoming call.
type InboundCall struct {
	CallID string
	From   string
	To     string
}

// OutboundRequest is a REST request to place a call.
type OutboundRequest struct {
	To   string
	From string
	// ClientRef is an optional provisional id the client may use before the
	// carrier CallSid is known to it.
	ClientRef string
}
