// Package enforcement owns the per-user progressive enforcement state. Every violation is
// appended to the ledger and resolved against the trailing window in a single store
// transaction, serialized per user.
package enforcement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iamwavecut/ngtrust/internal/db"
	apperrors "github.com/iamwavecut/ngtrust/internal/errors"
	"github.com/iamwavecut/ngtrust/internal/notify"
	"github.com/iamwavecut/ngtrust/internal/observability"
	"github.com/iamwavecut/ngtrust/internal/policy/ladder"
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100

	reconcileBatch = 100
)

// Context describes where a violation was found.
type Context struct {
	ConversationID *int64
	MessageID      *int64
	Text           string
	// Manual marks violations filed by an administrator.
	Manual     bool
	ReportedBy *int64
	// Deferred leaves the violation pending; Reconcile actions it after the grace period.
	Deferred bool
}

type Outcome struct {
	ViolationID string             `json:"violation_id"`
	Type        violation.Type     `json:"violation_type"`
	Severity    violation.Severity `json:"severity"`
	Action      db.Action          `json:"action"`
	Reason      string             `json:"reason"`
	Until       *time.Time         `json:"until,omitempty"`
	WindowCount int                `json:"window_count"`
}

// Notifier receives enforcement notices after commit. It must not block.
type Notifier interface {
	Notify(n notify.Notice)
}

type Engine struct {
	store    db.Client
	policy   ladder.Policy[int64, violation.Severity, Sanction]
	notifier Notifier
	locks    *keyedMutex
	now      func() time.Time

	reconcileGrace time.Duration
	reconcileEvery time.Duration

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup

	log *log.Entry
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithReconcile enables the background pass that actions pending violations older than
// grace, run every interval while the engine is started.
func WithReconcile(grace, interval time.Duration) Option {
	return func(e *Engine) {
		e.reconcileGrace = grace
		e.reconcileEvery = interval
	}
}

func NewEngine(store db.Client, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		policy: NewPolicy(cfg),
		locks:  newKeyedMutex(),
		now:    time.Now,
		log:    log.WithField("object", "Engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordViolation appends a violation for userID and applies the resolved action. Ledger
// entry and user state change commit together or not at all.
func (e *Engine) RecordViolation(ctx context.Context, userID int64, t violation.Type, vc Context) (Outcome, error) {
	ctx, span := observability.Tracer().Start(ctx, "enforcement.RecordViolation")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("violation_type", string(t)))

	if userID == 0 {
		return Outcome{}, fmt.Errorf("record violation: user id is required: %w", apperrors.ErrInvalidInput)
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	now := e.now()
	v := &db.Violation{
		ID:             uuid.New(),
		UserID:         userID,
		Type:           t,
		Severity:       violation.SeverityOf(t),
		ConversationID: vc.ConversationID,
		MessageID:      vc.MessageID,
		Text:           vc.Text,
		IsAutomatic:    !vc.Manual,
		ReportedBy:     vc.ReportedBy,
		DetectedAt:     db.At(now),
		Status:         db.ViolationPending,
	}

	outcome := Outcome{ViolationID: v.ID, Type: v.Type, Severity: v.Severity}
	err := e.store.InTx(ctx, func(q db.Querier) error {
		if err := q.InsertViolation(ctx, v); err != nil {
			return err
		}
		if vc.Deferred {
			return nil
		}
		var err error
		outcome, err = e.resolve(ctx, q, v, now)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record violation failed")
		e.log.WithField("method", "RecordViolation").WithField("user_id", userID).WithField("error", err.Error()).Error("cant record violation")
		return Outcome{}, fmt.Errorf("record violation: %w", err)
	}
	if vc.Deferred {
		outcome.Action = db.ActionNone
		return outcome, nil
	}

	e.afterCommit(userID, outcome)
	return outcome, nil
}

// resolve decides the action for the pending violation v and persists it with the user's
// new state. Callers hold the user's lock and run inside a transaction.
func (e *Engine) resolve(ctx context.Context, q db.Querier, v *db.Violation, now time.Time) (Outcome, error) {
	state, err := q.GetUserState(ctx, v.UserID)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{ViolationID: v.ID, Type: v.Type, Severity: v.Severity}
	if state.Status == db.UserBanned {
		outcome.Action = db.ActionNone
		outcome.Reason = ReasonAlreadyBanned
	} else {
		decision, err := e.policy.Evaluate(ctx, q.CountViolationsSince, v.UserID, v.Severity, now)
		if err != nil {
			return Outcome{}, err
		}
		until := applySanction(state, decision.Action, now)
		state.ViolationCount = decision.Count
		state.LastViolationAt = db.At(now)
		state.UpdatedAt = db.At(now)
		if err := q.SaveUserState(ctx, state); err != nil {
			return Outcome{}, err
		}

		outcome.Action = decision.Action.Action
		outcome.Reason = decision.Action.Reason
		outcome.WindowCount = decision.Count
		if !until.IsZero() {
			outcome.Until = &until
			v.ActionUntil = db.At(until)
		}
	}

	v.Status = db.ViolationActioned
	v.ActionTaken = outcome.Action
	v.ActionReason = outcome.Reason
	v.ActionTakenAt = db.At(now)
	if err := q.UpdateViolation(ctx, v); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

func (e *Engine) afterCommit(userID int64, outcome Outcome) {
	observability.RecordViolation(string(outcome.Type), string(outcome.Severity), string(outcome.Action))
	e.log.WithField("method", "RecordViolation").
		WithField("user_id", userID).
		WithField("violation_type", outcome.Type).
		WithField("action", outcome.Action).
		WithField("window_count", outcome.WindowCount).
		Info("violation recorded")

	if e.notifier == nil {
		return
	}
	notice := notify.Notice{UserID: userID, Reason: outcome.Reason}
	if outcome.Until != nil {
		notice.Until = *outcome.Until
	}
	switch outcome.Action {
	case db.ActionWarning:
		notice.Kind = notify.KindWarning
	case db.ActionRestrict:
		if outcome.Until == nil {
			// subsumed by an active suspension
			return
		}
		notice.Kind = notify.KindRestricted
	case db.ActionSuspend:
		notice.Kind = notify.KindSuspended
	case db.ActionBan:
		notice.Kind = notify.KindBanned
	default:
		return
	}
	e.notifier.Notify(notice)
}

// Reconcile actions pending violations detected more than grace ago, using the window
// count at reconciliation time. Pending violations older than the window are closed
// without a sanction. It returns how many were settled.
func (e *Engine) Reconcile(ctx context.Context, grace time.Duration) (int, error) {
	ctx, span := observability.Tracer().Start(ctx, "enforcement.Reconcile")
	defer span.End()

	pending, err := e.store.ListPendingViolations(ctx, e.now().Add(-grace), reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	actioned := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return actioned, err
		}
		outcome, done, err := e.reconcileOne(ctx, p.ID, p.UserID)
		if err != nil {
			e.log.WithField("method", "Reconcile").WithField("violation_id", p.ID).WithField("error", err.Error()).Error("cant reconcile violation")
			continue
		}
		if done {
			actioned++
			e.afterCommit(p.UserID, outcome)
		}
	}
	span.SetAttributes(attribute.Int("actioned", actioned))
	return actioned, nil
}

func (e *Engine) reconcileOne(ctx context.Context, id string, userID int64) (Outcome, bool, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	var (
		outcome Outcome
		done    bool
	)
	err := e.store.InTx(ctx, func(q db.Querier) error {
		v, err := q.GetViolation(ctx, id)
		if err != nil {
			return err
		}
		if v.Status != db.ViolationPending {
			return nil
		}
		now := e.now()
		if !e.policy.Window.Contains(now, v.DetectedAt.Time) {
			outcome, err = closeAgedOut(ctx, q, v, now)
		} else {
			outcome, err = e.resolve(ctx, q, v, now)
		}
		done = err == nil
		return err
	})
	return outcome, done, err
}

// closeAgedOut settles a pending violation that has already left the window it would be
// counted in. No sanction is applied.
func closeAgedOut(ctx context.Context, q db.Querier, v *db.Violation, now time.Time) (Outcome, error) {
	v.Status = db.ViolationActioned
	v.ActionTaken = db.ActionNone
	v.ActionReason = ReasonAgedOut
	v.ActionTakenAt = db.At(now)
	if err := q.UpdateViolation(ctx, v); err != nil {
		return Outcome{}, err
	}
	return Outcome{ViolationID: v.ID, Type: v.Type, Severity: v.Severity, Action: db.ActionNone, Reason: ReasonAgedOut}, nil
}

// Status returns the stored enforcement state as is; expired sanctions are only cleared
// by the send gate.
func (e *Engine) Status(ctx context.Context, userID int64) (*db.UserState, error) {
	state, err := e.store.GetUserState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return state, nil
}

// History returns the user's violations, newest first. limit is clamped to (0, MaxHistoryLimit].
func (e *Engine) History(ctx context.Context, userID int64, limit int) ([]*db.Violation, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	violations, err := e.store.ListViolations(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return violations, nil
}

// CountSince counts the user's non-dismissed violations in the trailing span of days.
func (e *Engine) CountSince(ctx context.Context, userID int64, days int) (int, error) {
	if days <= 0 || days > ladder.MaxDays {
		return 0, fmt.Errorf("count: days must be in 1..%d: %w", ladder.MaxDays, apperrors.ErrInvalidInput)
	}
	window := ladder.Days(days)
	n, err := e.store.CountViolationsSince(ctx, userID, window.Start(e.now()))
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Start runs the reconcile loop when enabled with WithReconcile.
func (e *Engine) Start(ctx context.Context) error {
	e.runMutex.Lock()
	defer e.runMutex.Unlock()
	if e.started || e.reconcileEvery <= 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.runCancel = cancel

	e.workersWg.Add(1)
	go func() {
		defer e.workersWg.Done()
		l := e.log.WithField("method", "reconcileLoop")

		run := func() {
			n, err := e.Reconcile(runCtx, e.reconcileGrace)
			if err != nil && runCtx.Err() == nil {
				l.WithField("error", err.Error()).Error("reconcile failed")
				return
			}
			if n > 0 {
				l.Infof("reconciled %d pending violations", n)
			}
		}

		run()
		ticker := time.NewTicker(e.reconcileEvery)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()

	e.started = true
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.runMutex.Lock()
	if !e.started {
		e.runMutex.Unlock()
		return nil
	}
	cancel := e.runCancel
	e.started = false
	e.runCancel = nil
	e.runMutex.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		e.workersWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
