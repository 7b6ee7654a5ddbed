package events

import (
	"context"
	"time"
)

const TypeCallUpdated = "call.updated"

// Event is the lifecycle notification published for every history write.
type Event struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	CallID          string     `json:"call_id"`
	UserID          string     `json:"user_id"`
	Direction       string     `json:"direction"`
	Number          string     `json:"number"`
	Status          string     `json:"status"`
	DurationSeconds int        `json:"duration"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
