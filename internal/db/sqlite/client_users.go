package sqlite

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/iamwavecut/ngtrust/internal/db"
)

// GetUserState returns the default active state for users without a row.
func (q *queries) GetUserState(ctx context.Context, userID int64) (*db.UserState, error) {
	var state db.UserState
	err := sqlx.GetContext(ctx, q.ext, &state, `SELECT * FROM user_enforcement WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.NewUserState(userID), nil
		}
		return nil, errors.Wrapf(err, "get user state %d", userID)
	}
	return &state, nil
}

func (q *queries) SaveUserState(ctx context.Context, state *db.UserState) error {
	query := `
		INSERT INTO user_enforcement (user_id, status, messaging_restricted, restricted_until, suspended_until,
			violation_count, warning_count, last_violation_at, last_warning_at, ban_reason, updated_at)
		VALUES (:user_id, :status, :messaging_restricted, :restricted_until, :suspended_until,
			:violation_count, :warning_count, :last_violation_at, :last_warning_at, :ban_reason, :updated_at)
		ON CONFLICT(user_id) DO UPDATE SET
		status = excluded.status,
		messaging_restricted = excluded.messaging_restricted,
		restricted_until = excluded.restricted_until,
		suspended_until = excluded.suspended_until,
		violation_count = excluded.violation_count,
		warning_count = excluded.warning_count,
		last_violation_at = excluded.last_violation_at,
		last_warning_at = excluded.last_warning_at,
		ban_reason = excluded.ban_reason,
		updated_at = excluded.updated_at
	`
	if _, err := sqlx.NamedExecContext(ctx, q.ext, query, state); err != nil {
		return errors.Wrapf(err, "save user state %d", state.UserID)
	}
	return nil
}
