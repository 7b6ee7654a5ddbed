package reporting

import (
	"context"
	"errors"
	"time"

	"voicebridge/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Source is the live call state the dashboard reads. *calls.Store satisfies it.
type Source interface {
	ListCalls(ctx context.Context) []calls.CallRecord
	ListPending(ctx context.Context) []calls.PendingCall
	Backend() string
}

type Service struct {
	src Source

	Now func() time.Time
}

func NewService(src Source) *Service { return &Service{src: src, Now: time.Now} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: source not configured")
	}

	now := s.Now().UTC()
	out := CallsSummary{
		GeneratedAt: now,
		Backend:     s.src.Backend(),
		ByStatus:    map[string]int{},
		ByDirection: map[string]int{},
	}

	completed := 0
	for _, c := range s.src.ListCalls(ctx) {
		if req.UserID != "" && c.UserID != req.UserID {
			continue
		}
		if !req.Range.Contains(c.CreatedAt) {
			continue
		}
		out.TotalCalls++
		out.ByStatus[string(c.Status)]++
		out.ByDirection[string(c.Direction)]++
		if c.UserID == "" {
			out.UnassignedCalls++
		}
		if !c.Status.Terminal() {
			out.InProgressCalls++
		}
		if c.Status == calls.StatusCompleted {
			completed++
			out.TotalDurationSeconds += c.DurationSeconds
		}
	}
	if completed > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / completed
	}

	for _, p := range s.src.ListPending(ctx) {
		if p.Status != calls.PendingRinging {
			continue
		}
		if req.UserID != "" && !p.OwnedBy(req.UserID) {
			continue
		}
		if !req.Range.Contains(p.CreatedAt) {
			continue
		}
		out.PendingCalls++
		if age := int(now.Sub(p.CreatedAt) / time.Second); age > out.OldestPendingSeconds {
			out.OldestPendingSeconds = age
		}
	}
	return out, nil
}
