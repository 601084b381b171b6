// Package appeal lets users contest a violation and administrators decide on it.
//
// Approving an appeal dismisses the violation and lowers the user's violation count by one.
// Sanctions already applied because of it stay in place; the dismissed entry only stops
// counting toward future decisions.
package appeal

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamwavecut/ngtrust/internal/db"
	apperrors "github.com/iamwavecut/ngtrust/internal/errors"
	"github.com/iamwavecut/ngtrust/internal/notify"
	"github.com/iamwavecut/ngtrust/internal/observability"
)

const maxReasonLength = 2000

type Notifier interface {
	Notify(n notify.Notice)
}

type Handler struct {
	store    db.Client
	notifier Notifier
	now      func() time.Time
	log      *log.Entry
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(h *Handler) { h.notifier = n }
}

func New(store db.Client, opts ...Option) *Handler {
	h := &Handler{
		store: store,
		now:   time.Now,
		log:   log.WithField("object", "Appeal"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Appeal files userID's appeal against the violation. Only the violation's subject may
// appeal, once, and never against a dismissed violation.
func (h *Handler) Appeal(ctx context.Context, violationID string, userID int64, reason string) (*db.Violation, error) {
	ctx, span := observability.Tracer().Start(ctx, "appeal.Appeal")
	defer span.End()
	span.SetAttributes(attribute.String("violation_id", violationID), attribute.Int64("user_id", userID))

	reason = strings.TrimSpace(reason)
	if violationID == "" || reason == "" {
		return nil, fmt.Errorf("appeal: violation and reason are required: %w", apperrors.ErrInvalidInput)
	}
	if len(reason) > maxReasonLength {
		return nil, fmt.Errorf("appeal: reason is longer than %d bytes: %w", maxReasonLength, apperrors.ErrInvalidInput)
	}

	var v *db.Violation
	err := h.store.InTx(ctx, func(q db.Querier) error {
		var err error
		v, err = q.GetViolation(ctx, violationID)
		if err != nil {
			return err
		}
		switch {
		case v.UserID != userID:
			return apperrors.ErrForbidden
		case v.Status == db.ViolationDismissed:
			return apperrors.ErrAlreadyDismissed
		case v.Appealed:
			return apperrors.ErrAlreadyAppealed
		}
		v.Appealed = true
		v.AppealReason = reason
		v.AppealedAt = db.At(h.now())
		v.AppealStatus = db.AppealPending
		return q.UpdateViolation(ctx, v)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("appeal: %w", err)
	}

	observability.RecordAppeal("filed")
	h.log.WithField("method", "Appeal").WithField("violation_id", violationID).WithField("user_id", userID).Info("appeal filed")
	return v, nil
}

// ReviewAppeal decides a pending appeal. Approval dismisses the violation and decrements the
// user's violation count, floored at zero, in the same transaction. Rejection marks the
// violation reviewed.
func (h *Handler) ReviewAppeal(ctx context.Context, violationID string, adminID int64, approved bool, notes string) (*db.Violation, error) {
	ctx, span := observability.Tracer().Start(ctx, "appeal.ReviewAppeal")
	defer span.End()
	span.SetAttributes(attribute.String("violation_id", violationID), attribute.Bool("approved", approved))

	if violationID == "" || adminID == 0 {
		return nil, fmt.Errorf("review appeal: violation and admin are required: %w", apperrors.ErrInvalidInput)
	}

	var v *db.Violation
	err := h.store.InTx(ctx, func(q db.Querier) error {
		var err error
		v, err = q.GetViolation(ctx, violationID)
		if err != nil {
			return err
		}
		if !v.IsAppealPending() {
			return apperrors.ErrNoPendingAppeal
		}

		now := h.now()
		reviewer := adminID
		v.AppealReviewedBy = &reviewer
		v.AppealReviewedAt = db.At(now)
		v.ReviewNotes = strings.TrimSpace(notes)
		if !approved {
			v.AppealStatus = db.AppealRejected
			v.Status = db.ViolationReviewed
			return q.UpdateViolation(ctx, v)
		}

		v.AppealStatus = db.AppealApproved
		v.Status = db.ViolationDismissed
		if err := q.UpdateViolation(ctx, v); err != nil {
			return err
		}
		state, err := q.GetUserState(ctx, v.UserID)
		if err != nil {
			return err
		}
		if state.ViolationCount > 0 {
			state.ViolationCount--
		}
		state.UpdatedAt = db.At(now)
		return q.SaveUserState(ctx, state)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("review appeal: %w", err)
	}

	outcome, kind := "rejected", notify.KindAppealRejected
	if approved {
		outcome, kind = "approved", notify.KindAppealApproved
	}
	observability.RecordAppeal(outcome)
	h.log.WithField("method", "ReviewAppeal").
		WithField("violation_id", violationID).
		WithField("admin_id", adminID).
		WithField("outcome", outcome).
		Info("appeal reviewed")
	if h.notifier != nil {
		h.notifier.Notify(notify.Notice{UserID: v.UserID, Kind: kind, Reason: v.ReviewNotes})
	}
	return v, nil
}
