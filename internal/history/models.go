package history

import (
	"time"

	"voicebridge/internal/calls"
)

// Entry is one row of durable call history, keyed by call id.
type Entry struct {
	CallID          string     `json:"call_id"`
	UserID          string     `json:"user_id"`
	ContactID       string     `json:"contact_id,omitempty"`
	ContactName     string     `json:"contact_name,omitempty"`
	Direction       string     `json:"direction"`
	Number          string     `json:"number"`
	Status          string     `json:"status"`
	DurationSeconds int        `json:"duration"`
	StartedAt       time.Time  `json:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// StatusRank orders updates for the same call. A write with a lower rank
	// than the stored row is ignored.
	StatusRank int `json:"-"`
}

func EntryFromRecord(rec calls.CallRecord) Entry {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	started := rec.CreatedAt
	if started.IsZero() {
		started = updated
	}
	return Entry{
		CallID:          rec.CallID,
		UserID:          rec.UserID,
		ContactID:       rec.ContactID,
		ContactName:     rec.ContactName,
		Direction:       string(rec.Direction),
		Number:          rec.Number,
		Status:          string(rec.Status),
		DurationSeconds: rec.DurationSeconds,
		StartedAt:       started,
		AnsweredAt:      rec.AnsweredAt,
		EndedAt:         rec.EndedAt,
		UpdatedAt:       updated,
		StatusRank:      rec.Status.Rank(),
	}
}
