package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamwavecut/ngtrust/internal/db"
	"github.com/jmoiron/sqlx"
)

// GetKV returns "" for a missing key.
func (q *queries) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := sqlx.GetContext(ctx, q.ext, &value, `SELECT value FROM kv_store WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get value for key %s: %w", key, err)
	}
	return value, nil
}

func (q *queries) SetKV(ctx context.Context, key string, value string) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := q.ext.ExecContext(ctx, query, key, value, db.At(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set value for key %s: %w", key, err)
	}
	return nil
}
