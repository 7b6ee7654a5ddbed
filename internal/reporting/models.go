package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls in [From, To). Zero bounds are open.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
	// UserID narrows the summary to one user's calls when set.
	UserID string `json:"user_id,omitempty"`
}

// CallsSummary is a point-in-time view over the live call store. Terminal
// records only appear here during their cleanup grace period.
type CallsSummary struct {
	GeneratedAt time.Time `json:"generated_at"`
	Backend     string    `json:"backend"`

	TotalCalls  int            `json:"total_calls"`
	ByStatus    map[string]int `json:"by_status"`
	ByDirection map[string]int `json:"by_direction"`

	InProgressCalls int `json:"in_progress_calls"`
	UnassignedCalls int `json:"unassigned_calls"`

	PendingCalls int `json:"pending_calls"`
	// OldestPendingSeconds is how long the longest-ringing pending call has waited.
	OldestPendingSeconds int `json:"oldest_pending_seconds"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}
