package calls

import "strings"

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAccepted  Status = "accepted"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no_answer"
)

// rank orders the non-terminal statuses. Terminal statuses all share the
// highest rank: once reached nothing moves a record again.
var rank = map[Status]int{
	StatusInitiated: 0,
	StatusRinging:   1,
	StatusAccepted:  2,
	StatusAnswered:  3,
	StatusCompleted: 4,
	StatusRejected:  4,
	StatusFailed:    4,
	StatusCanceled:  4,
	StatusBusy:      4,
	StatusNoAnswer:  4,
}

func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Rank is the status's position along the transition graph.
func (s Status) Rank() int { return rank[s] }

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed, StatusCanceled, StatusBusy, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a record in status from may move to status to.
//
//   - terminal never moves (idempotent short-circuit)
//   - any non-terminal may move to any terminal
//   - non-terminal statuses only move forward
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	return rank[to] > rank[from]
}

// ParseCarrierStatus maps a carrier CallStatus value onto the local status set.
// The second result is false for values we do not track.
func ParseCarrierStatus(v string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "queued", "initiated":
		return StatusInitiated, true
	case "ringing":
		return StatusRinging, true
	case "in-progress", "answered":
		return StatusAnswered, true
	case "completed":
		return StatusCompleted, true
	case "busy":
		return StatusBusy, true
	case "no-answer":
		return StatusNoAnswer, true
	case "failed":
		return StatusFailed, true
	case "canceled":
		return StatusCanceled, true
	default:
		return "", false
	}
}
