package directory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"voicebridge/pkg/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresDirectory reads the number assignments and address books owned by
// the user service.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	return utils.Migrate(ctx, d.db, sub, "directory")
}

func (d *PostgresDirectory) UserByNumber(ctx context.Context, number string) (string, bool, error) {
	number = Normalize(number)
	if number == "" {
		return "", false, nil
	}
	var userID string
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_numbers WHERE number = $1`,
		number,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying user by number: %w", err)
	}
	return userID, true, nil
}

func (d *PostgresDirectory) ContactByNumber(ctx context.Context, userID, number string) (Contact, bool, error) {
	number = Normalize(number)
	if userID == "" || number == "" {
		return Contact{}, false, nil
	}
	var c Contact
	err := d.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, number
		 FROM contacts
		 WHERE user_id = $1 AND number = $2
		 ORDER BY created_at
		 LIMIT 1`,
		userID, number,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, fmt.Errorf("querying contact: %w", err)
	}
	return c, true, nil
}
