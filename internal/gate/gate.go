// Package gate decides synchronously whether a user may send and whether a message may be
// delivered. Expired sanctions are cleared here, lazily, the first time they are checked.
package gate

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamwavecut/ngtrust/internal/classifier"
	"github.com/iamwavecut/ngtrust/internal/db"
	"github.com/iamwavecut/ngtrust/internal/enforcement"
	apperrors "github.com/iamwavecut/ngtrust/internal/errors"
	"github.com/iamwavecut/ngtrust/internal/observability"
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
)

const (
	reasonReviewRequired = "message held for manual review, please retry later"
	reasonInternal       = "message could not be processed, please retry later"
	reasonInvalid        = "user and conversation are required"
)

type Decision struct {
	Allowed    bool                 `json:"allowed"`
	Code       apperrors.Code       `json:"code"`
	Reason     string               `json:"reason,omitempty"`
	Detail     string               `json:"detail,omitempty"`
	MessageID  int64                `json:"message_id,omitempty"`
	Violations []violation.Type     `json:"violations,omitempty"`
	Outcome    *enforcement.Outcome `json:"outcome,omitempty"`
}

type Outgoing struct {
	UserID         int64  `json:"user_id"`
	ConversationID int64  `json:"conversation_id"`
	Text           string `json:"text"`
	IsAutoReply    bool   `json:"is_auto_reply"`
}

type Enforcer interface {
	RecordViolation(ctx context.Context, userID int64, t violation.Type, vc enforcement.Context) (enforcement.Outcome, error)
}

type Gate struct {
	store      db.Client
	classifier classifier.Classifier
	enforcer   Enforcer
	now        func() time.Time
	log        *log.Entry
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(store db.Client, c classifier.Classifier, enforcer Enforcer, opts ...Option) *Gate {
	g := &Gate{
		store:      store,
		classifier: c,
		enforcer:   enforcer,
		now:        time.Now,
		log:        log.WithField("object", "Gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var allowed = Decision{Allowed: true, Code: apperrors.CodeOK}

// CanSend evaluates ban, then suspension, then restriction. Expired suspensions and
// restrictions are cleared and persisted before the user is allowed; if that write fails
// the user is denied.
func (g *Gate) CanSend(ctx context.Context, userID int64) (Decision, error) {
	ctx, span := observability.Tracer().Start(ctx, "gate.CanSend")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	var decision Decision
	err := g.store.InTx(ctx, func(q db.Querier) error {
		state, err := q.GetUserState(ctx, userID)
		if err != nil {
			return err
		}
		var changed bool
		decision, changed = evaluate(state, g.now())
		if !changed {
			return nil
		}
		state.UpdatedAt = db.At(g.now())
		return q.SaveUserState(ctx, state)
	})
	if err != nil {
		span.RecordError(err)
		g.log.WithField("method", "CanSend").WithField("user_id", userID).WithField("error", err.Error()).Error("cant evaluate user state")
		return Decision{Code: apperrors.CodeInternalError, Reason: reasonInternal}, fmt.Errorf("can send: %w", err)
	}
	return decision, nil
}

// evaluate applies lazy expiry to state in place and reports whether it changed.
func evaluate(state *db.UserState, now time.Time) (Decision, bool) {
	if state.Status == db.UserBanned {
		reason := "your account has been banned"
		if state.BanReason != "" {
			reason += ": " + state.BanReason
		}
		return Decision{Code: apperrors.CodeUserBanned, Reason: reason}, false
	}

	changed := false
	if state.Status == db.UserSuspended {
		if state.SuspendedUntil.After(now) {
			return Decision{
				Code:   apperrors.CodeUserSuspended,
				Reason: fmt.Sprintf("your account is suspended for %d more day(s)", remainingDays(state.SuspendedUntil.Time, now)),
			}, false
		}
		state.Status = db.UserActive
		state.SuspendedUntil = db.Timestamp{}
		changed = true
	}

	if state.MessagingRestricted {
		if state.RestrictedUntil.After(now) {
			return Decision{
				Code:   apperrors.CodeUserRestricted,
				Reason: fmt.Sprintf("your messaging is restricted for %d more day(s)", remainingDays(state.RestrictedUntil.Time, now)),
			}, changed
		}
		state.MessagingRestricted = false
		state.RestrictedUntil = db.Timestamp{}
		state.Status = db.UserActive
		changed = true
	}
	return allowed, changed
}

// Message returns a stored message with its moderation status and flags.
func (g *Gate) Message(ctx context.Context, id int64) (*db.Message, error) {
	m, err := g.store.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	return m, nil
}

func remainingDays(until, now time.Time) int {
	return int(math.Ceil(until.Sub(now).Hours() / 24))
}

// Send gates an outgoing message: sender check, classification, then either delivery
// or flagging plus enforcement. A message with violations is always rejected.
func (g *Gate) Send(ctx context.Context, out Outgoing) (decision Decision, err error) {
	ctx, span := observability.Tracer().Start(ctx, "gate.Send")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", out.UserID), attribute.Int64("conversation_id", out.ConversationID))

	record := observability.StartGateDecision()
	defer func() { record(string(decision.Code)) }()

	l := g.log.WithField("method", "Send").WithField("user_id", out.UserID)

	if out.UserID == 0 || out.ConversationID == 0 {
		return Decision{Code: apperrors.CodeInvalidInput, Reason: reasonInvalid}, fmt.Errorf("send: %w", apperrors.ErrInvalidInput)
	}

	decision, err = g.CanSend(ctx, out.UserID)
	if err != nil || !decision.Allowed {
		return decision, err
	}

	msg := &db.Message{
		ConversationID: out.ConversationID,
		SenderID:       out.UserID,
		Text:           out.Text,
		IsAutoReply:    out.IsAutoReply,
		CreatedAt:      db.At(g.now()),
	}

	verdict, err := classifier.ClassifyMessage(g.classifier, out.Text, out.IsAutoReply)
	if err != nil {
		span.RecordError(err)
		l.WithField("error", err.Error()).Warn("classifier failed, holding message for review")
		msg.ModerationStatus = db.ModerationBlocked
		decision = Decision{Code: apperrors.CodeReviewRequired, Reason: reasonReviewRequired}
		if perr := g.store.InsertMessage(ctx, msg); perr != nil {
			l.WithField("error", perr.Error()).Error("cant store held message")
		} else {
			decision.MessageID = msg.ID
		}
		return decision, fmt.Errorf("send: %w: %v", apperrors.ErrClassifierUnavailable, err)
	}

	if verdict.IsValid {
		msg.ModerationStatus = db.ModerationApproved
		if err := g.store.InsertMessage(ctx, msg); err != nil {
			span.RecordError(err)
			return Decision{Code: apperrors.CodeInternalError, Reason: reasonInternal}, fmt.Errorf("send: %w", err)
		}
		decision = allowed
		decision.MessageID = msg.ID
		return decision, nil
	}

	msg.ModerationStatus = db.ModerationFlagged
	msg.ModerationFlags = db.FlagSet(verdict.Violations)
	if err := g.store.InsertMessage(ctx, msg); err != nil {
		span.RecordError(err)
		return Decision{Code: apperrors.CodeInternalError, Reason: reasonInternal}, fmt.Errorf("send: %w", err)
	}

	conversationID, messageID := out.ConversationID, msg.ID
	outcome, err := g.enforcer.RecordViolation(ctx, out.UserID, violation.MostSevere(verdict.Violations), enforcement.Context{
		ConversationID: &conversationID,
		MessageID:      &messageID,
		Text:           out.Text,
	})
	if err != nil {
		span.RecordError(err)
		return Decision{Code: apperrors.CodeInternalError, Reason: reasonInternal, MessageID: msg.ID}, fmt.Errorf("send: %w", err)
	}

	l.WithField("violations", violation.Join(verdict.Violations)).WithField("action", outcome.Action).Info("message rejected")
	return Decision{
		Code:       apperrors.CodeContentViolation,
		Reason:     outcome.Reason,
		Detail:     verdict.BlockedReason,
		MessageID:  msg.ID,
		Violations: verdict.Violations,
		Outcome:    &outcome,
	}, nil
}
