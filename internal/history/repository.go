package history

import "context"

type Repository interface {
	// Upsert inserts or updates the row for e.CallID. Rows never move back to
	// a lower status rank.
	Upsert(ctx context.Context, e Entry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}
