package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/iamwavecut/ngtrust/internal/db"
	apperrors "github.com/iamwavecut/ngtrust/internal/errors"
)

func (q *queries) InsertViolation(ctx context.Context, v *db.Violation) error {
	query := `
		INSERT INTO violations (id, user_id, violation_type, severity, conversation_id, message_id,
			violation_text, is_automatic, reported_by, detected_at, action_taken, action_reason,
			action_taken_at, action_until, status, appealed, appeal_reason, appealed_at, appeal_status,
			appeal_reviewed_by, appeal_reviewed_at, review_notes)
		VALUES (:id, :user_id, :violation_type, :severity, :conversation_id, :message_id,
			:violation_text, :is_automatic, :reported_by, :detected_at, :action_taken, :action_reason,
			:action_taken_at, :action_until, :status, :appealed, :appeal_reason, :appealed_at, :appeal_status,
			:appeal_reviewed_by, :appeal_reviewed_at, :review_notes)
	`
	if _, err := sqlx.NamedExecContext(ctx, q.ext, query, v); err != nil {
		return errors.Wrapf(err, "insert violation %s", v.ID)
	}
	return nil
}

// UpdateViolation writes the mutable part of a violation: action, status and appeal.
func (q *queries) UpdateViolation(ctx context.Context, v *db.Violation) error {
	query := `
		UPDATE violations
		SET action_taken = :action_taken,
			action_reason = :action_reason,
			action_taken_at = :action_taken_at,
			action_until = :action_until,
			status = :status,
			appealed = :appealed,
			appeal_reason = :appeal_reason,
			appealed_at = :appealed_at,
			appeal_status = :appeal_status,
			appeal_reviewed_by = :appeal_reviewed_by,
			appeal_reviewed_at = :appeal_reviewed_at,
			review_notes = :review_notes
		WHERE id = :id
	`
	res, err := sqlx.NamedExecContext(ctx, q.ext, query, v)
	if err != nil {
		return errors.Wrapf(err, "update violation %s", v.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(apperrors.ErrNotFound, "violation %s", v.ID)
	}
	return nil
}

func (q *queries) GetViolation(ctx context.Context, id string) (*db.Violation, error) {
	var v db.Violation
	err := sqlx.GetContext(ctx, q.ext, &v, `SELECT * FROM violations WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "violation %s", id)
		}
		return nil, errors.Wrapf(err, "get violation %s", id)
	}
	return &v, nil
}

// ListViolations returns the user's history, newest first.
func (q *queries) ListViolations(ctx context.Context, userID int64, limit int) ([]*db.Violation, error) {
	var violations []*db.Violation
	err := sqlx.SelectContext(ctx, q.ext, &violations, `
		SELECT * FROM violations
		WHERE user_id = ?
		ORDER BY detected_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "list violations of %d", userID)
	}
	return violations, nil
}

// CountViolationsSince counts non-dismissed violations detected at or after since.
func (q *queries) CountViolationsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count, `
		SELECT COUNT(*) FROM violations
		WHERE user_id = ?
		AND detected_at >= ?
		AND status != ?
	`, userID, db.At(since), db.ViolationDismissed)
	if err != nil {
		return 0, errors.Wrapf(err, "count violations of %d", userID)
	}
	return count, nil
}

// ListPendingViolations returns violations that never got an action, oldest first.
func (q *queries) ListPendingViolations(ctx context.Context, detectedBefore time.Time, limit int) ([]*db.Violation, error) {
	var violations []*db.Violation
	err := sqlx.SelectContext(ctx, q.ext, &violations, `
		SELECT * FROM violations
		WHERE status = ?
		AND detected_at < ?
		ORDER BY detected_at ASC, id ASC
		LIMIT ?
	`, db.ViolationPending, db.At(detectedBefore), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending violations")
	}
	return violations, nil
}
