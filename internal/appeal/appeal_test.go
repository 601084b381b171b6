package appeal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iamwavecut/ngtrust/internal/db"
	"github.com/iamwavecut/ngtrust/internal/db/sqlite"
	"github.com/iamwavecut/ngtrust/internal/enforcement"
	apperrors "github.com/iamwavecut/ngtrust/internal/errors"
	"github.com/iamwavecut/ngtrust/internal/notify"
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *recordingNotifier) Notify(n notify.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

type fixture struct {
	store    db.Client
	engine   *enforcement.Engine
	handler  *Handler
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.NewSQLiteClient(context.Background(), t.TempDir(), "appeal.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := func() time.Time { return testNow }
	notifier := &recordingNotifier{}
	return &fixture{
		store:    store,
		engine:   enforcement.NewEngine(store, enforcement.DefaultConfig(), enforcement.WithClock(clock)),
		handler:  New(store, WithClock(clock), WithNotifier(notifier)),
		notifier: notifier,
	}
}

func (f *fixture) record(t *testing.T, userID int64, vt violation.Type) enforcement.Outcome {
	t.Helper()
	outcome, err := f.engine.RecordViolation(context.Background(), userID, vt, enforcement.Context{Text: "sample"})
	if err != nil {
		t.Fatalf("record violation: %v", err)
	}
	return outcome
}

func TestApprovedAppealDismissesAndDecrements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.record(t, 1, violation.Spam)
	second := f.record(t, 1, violation.PhoneNumber)
	if second.Action != db.ActionRestrict {
		t.Fatalf("expected restriction, got %s", second.Action)
	}

	if _, err := f.handler.Appeal(ctx, second.ViolationID, 1, "it was my shop landline"); err != nil {
		t.Fatalf("appeal: %v", err)
	}
	v, err := f.handler.ReviewAppeal(ctx, second.ViolationID, 99, true, "business number")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if v.Status != db.ViolationDismissed || v.AppealStatus != db.AppealApproved || v.AppealReviewedBy == nil || *v.AppealReviewedBy != 99 {
		t.Fatalf("unexpected violation after approval %#v", v)
	}

	state, err := f.store.GetUserState(ctx, 1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.ViolationCount != 1 {
		t.Fatalf("violation count = %d, want 1", state.ViolationCount)
	}
	// The restriction applied for the dismissed violation is kept.
	if !state.MessagingRestricted {
		t.Fatalf("approval must not lift the applied restriction")
	}

	count, err := f.engine.CountSince(ctx, 1, 90)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("dismissed violation still counted, got %d", count)
	}

	if len(f.notifier.notices) != 1 || f.notifier.notices[0].Kind != notify.KindAppealApproved {
		t.Fatalf("expected an approval notice, got %+v", f.notifier.notices)
	}
}

func TestRejectedAppealMarksReviewed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	outcome := f.record(t, 2, violation.Email)

	if _, err := f.handler.Appeal(ctx, outcome.ViolationID, 2, "please"); err != nil {
		t.Fatalf("appeal: %v", err)
	}
	v, err := f.handler.ReviewAppeal(ctx, outcome.ViolationID, 99, false, "clear email address")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if v.Status != db.ViolationReviewed || v.AppealStatus != db.AppealRejected || v.ReviewNotes != "clear email address" {
		t.Fatalf("unexpected violation after rejection %#v", v)
	}
	state, _ := f.store.GetUserState(ctx, 2)
	if state.ViolationCount != 1 {
		t.Fatalf("rejection must not change the count, got %d", state.ViolationCount)
	}
}

func TestApprovalFloorsCountAtZero(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	outcome := f.record(t, 3, violation.Spam)

	if err := f.store.SaveUserState(ctx, &db.UserState{UserID: 3, Status: db.UserActive}); err != nil {
		t.Fatalf("reset state: %v", err)
	}
	if _, err := f.handler.Appeal(ctx, outcome.ViolationID, 3, "not spam"); err != nil {
		t.Fatalf("appeal: %v", err)
	}
	if _, err := f.handler.ReviewAppeal(ctx, outcome.ViolationID, 99, true, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	state, _ := f.store.GetUserState(ctx, 3)
	if state.ViolationCount != 0 {
		t.Fatalf("count went below zero: %d", state.ViolationCount)
	}
}

func TestAppealErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	appealed := f.record(t, 4, violation.Spam)
	if _, err := f.handler.Appeal(ctx, appealed.ViolationID, 4, "first"); err != nil {
		t.Fatalf("appeal: %v", err)
	}
	dismissed := f.record(t, 4, violation.Spam)
	if _, err := f.handler.Appeal(ctx, dismissed.ViolationID, 4, "first"); err != nil {
		t.Fatalf("appeal: %v", err)
	}
	if _, err := f.handler.ReviewAppeal(ctx, dismissed.ViolationID, 99, true, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	fresh := f.record(t, 4, violation.Spam)

	tests := []struct {
		name        string
		violationID string
		userID      int64
		reason      string
		want        error
	}{
		{name: "missing", violationID: "no-such-violation", userID: 4, reason: "x", want: apperrors.ErrNotFound},
		{name: "not the subject", violationID: fresh.ViolationID, userID: 5, reason: "x", want: apperrors.ErrForbidden},
		{name: "already appealed", violationID: appealed.ViolationID, userID: 4, reason: "again", want: apperrors.ErrAlreadyAppealed},
		{name: "dismissed", violationID: dismissed.ViolationID, userID: 4, reason: "again", want: apperrors.ErrAlreadyDismissed},
		{name: "empty reason", violationID: fresh.ViolationID, userID: 4, reason: "  ", want: apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handler.Appeal(ctx, tt.violationID, tt.userID, tt.reason)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	v, err := f.store.GetViolation(ctx, fresh.ViolationID)
	if err != nil {
		t.Fatalf("get violation: %v", err)
	}
	if v.Appealed {
		t.Fatalf("failed appeals must not change the violation")
	}
}

func TestReviewRequiresPendingAppeal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	outcome := f.record(t, 6, violation.Spam)

	if _, err := f.handler.ReviewAppeal(ctx, outcome.ViolationID, 99, true, ""); !errors.Is(err, apperrors.ErrNoPendingAppeal) {
		t.Fatalf("expected ErrNoPendingAppeal, got %v", err)
	}
	if _, err := f.handler.Appeal(ctx, outcome.ViolationID, 6, "mistake"); err != nil {
		t.Fatalf("appeal: %v", err)
	}
	if _, err := f.handler.ReviewAppeal(ctx, outcome.ViolationID, 99, false, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := f.handler.ReviewAppeal(ctx, outcome.ViolationID, 99, true, ""); !errors.Is(err, apperrors.ErrNoPendingAppeal) {
		t.Fatalf("second review: expected ErrNoPendingAppeal, got %v", err)
	}
}
