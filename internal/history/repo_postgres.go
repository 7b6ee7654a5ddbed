package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"voicebridge/pkg/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	return utils.Migrate(ctx, r.db, sub, "history")
}

const upsertSQL = `
INSERT INTO call_history (
    call_id, user_id, contact_id, contact_name, direction, number, status, status_rank,
    duration_seconds, started_at, answered_at, ended_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (call_id) DO UPDATE SET
    user_id          = COALESCE(NULLIF(EXCLUDED.user_id, ''), call_history.user_id),
    contact_id       = COALESCE(NULLIF(EXCLUDED.contact_id, ''), call_history.contact_id),
    contact_name     = COALESCE(NULLIF(EXCLUDED.contact_name, ''), call_history.contact_name),
    status           = EXCLUDED.status,
    status_rank      = EXCLUDED.status_rank,
    duration_seconds = GREATEST(EXCLUDED.duration_seconds, call_history.duration_seconds),
    answered_at      = COALESCE(EXCLUDED.answered_at, call_history.answered_at),
    ended_at         = COALESCE(EXCLUDED.ended_at, call_history.ended_at),
    updated_at       = EXCLUDED.updated_at
WHERE EXCLUDED.status_rank >= call_history.status_rank`

func (r *PostgresRepo) Upsert(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, upsertSQL,
		e.CallID, e.UserID, e.ContactID, e.ContactName, e.Direction, e.Number, e.Status, e.StatusRank,
		e.DurationSeconds, e.StartedAt, e.AnsweredAt, e.EndedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting call history %s: %w", e.CallID, err)
	}
	return nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT call_id, user_id, contact_id, contact_name, direction, number, status, status_rank,
       duration_seconds, started_at, answered_at, ended_at, updated_at
FROM call_history
WHERE user_id = $1
ORDER BY started_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying call history: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e        Entry
			answered sql.NullTime
			ended    sql.NullTime
		)
		if err := rows.Scan(
			&e.CallID, &e.UserID, &e.ContactID, &e.ContactName, &e.Direction, &e.Number, &e.Status, &e.StatusRank,
			&e.DurationSeconds, &e.StartedAt, &answered, &ended, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning call history: %w", err)
		}
		if answered.Valid {
			t := answered.Time
			e.AnsweredAt = &t
		}
		if ended.Valid {
			t := ended.Time
			e.EndedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
