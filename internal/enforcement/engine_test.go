package enforcement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pborman/uuid"

	"github.com/iamwavecut/ngtrust/internal/db"
	"github.com/iamwavecut/ngtrust/internal/db/sqlite"
	apperrors "github.com/iamwavecut/ngtrust/internal/errors"
	"github.com/iamwavecut/ngtrust/internal/notify"
	"github.com/iamwavecut/ngtrust/internal/policy/ladder"
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *recordingNotifier) Notify(n notify.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func newTestStore(t *testing.T) db.Client {
	t.Helper()
	client, err := sqlite.NewSQLiteClient(context.Background(), t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func insertPastViolation(t *testing.T, store db.Client, userID int64, vt violation.Type, at time.Time, status db.ViolationStatus) {
	t.Helper()
	v := &db.Violation{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        vt,
		Severity:    violation.SeverityOf(vt),
		IsAutomatic: true,
		DetectedAt:  db.At(at),
		Status:      status,
	}
	if err := store.InsertViolation(context.Background(), v); err != nil {
		t.Fatalf("insert past violation: %v", err)
	}
}

func TestProgressiveEscalationToBan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	notifier := &recordingNotifier{}
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now), WithNotifier(notifier))

	const userID = 1001
	steps := []struct {
		action db.Action
		reason string
		span   time.Duration
		status db.UserStatus
	}{
		{action: db.ActionWarning, reason: ReasonWarning, status: db.UserActive},
		{action: db.ActionRestrict, reason: ReasonRestricted, span: 7 * 24 * time.Hour, status: db.UserActive},
		{action: db.ActionSuspend, reason: ReasonMultiple, span: 7 * 24 * time.Hour, status: db.UserSuspended},
		{action: db.ActionSuspend, reason: ReasonRepeated, span: 30 * 24 * time.Hour, status: db.UserSuspended},
		{action: db.ActionBan, reason: ReasonMultiple, status: db.UserBanned},
		{action: db.ActionNone, reason: ReasonAlreadyBanned, status: db.UserBanned},
	}

	for i, step := range steps {
		clock.Advance(time.Hour)
		now := clock.Now()
		outcome, err := engine.RecordViolation(ctx, userID, violation.PhoneNumber, Context{Text: "call me"})
		if err != nil {
			t.Fatalf("violation #%d: %v", i+1, err)
		}
		if outcome.Action != step.action || outcome.Reason != step.reason {
			t.Fatalf("violation #%d: got %s (%q), want %s (%q)", i+1, outcome.Action, outcome.Reason, step.action, step.reason)
		}
		if step.span > 0 {
			if outcome.Until == nil || !outcome.Until.Equal(now.Add(step.span)) {
				t.Fatalf("violation #%d: until = %v, want %v", i+1, outcome.Until, now.Add(step.span))
			}
		} else if outcome.Until != nil {
			t.Fatalf("violation #%d: unexpected until %v", i+1, outcome.Until)
		}

		state, err := engine.Status(ctx, userID)
		if err != nil {
			t.Fatalf("status #%d: %v", i+1, err)
		}
		if state.Status != step.status {
			t.Fatalf("violation #%d: status = %s, want %s", i+1, state.Status, step.status)
		}
	}

	state, err := engine.Status(ctx, userID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state.ViolationCount != 5 {
		t.Fatalf("violation count = %d, want 5 after the no-op on a banned user", state.ViolationCount)
	}
	if state.WarningCount != 1 {
		t.Fatalf("warning count = %d, want 1", state.WarningCount)
	}
	if state.BanReason != ReasonMultiple {
		t.Fatalf("ban reason = %q", state.BanReason)
	}
	if state.MessagingRestricted || !state.SuspendedUntil.IsZero() {
		t.Fatalf("ban should clear weaker sanctions: %#v", state)
	}

	history, err := engine.History(ctx, userID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("history length = %d, want 6", len(history))
	}
	for _, v := range history {
		if v.Status != db.ViolationActioned {
			t.Fatalf("violation %s left in status %s", v.ID, v.Status)
		}
	}
	if history[0].ActionTaken != db.ActionNone {
		t.Fatalf("latest entry should be the audit-only no-op, got %s", history[0].ActionTaken)
	}

	if len(notifier.notices) != 5 {
		t.Fatalf("expected 5 notices, got %d", len(notifier.notices))
	}
	if notifier.notices[4].Kind != notify.KindBanned {
		t.Fatalf("last notice kind = %s", notifier.notices[4].Kind)
	}
}

func TestWarningLeavesStatusUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now))

	outcome, err := engine.RecordViolation(ctx, 5, violation.SocialMediaMention, Context{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if outcome.Action != db.ActionWarning || outcome.WindowCount != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	state, err := engine.Status(ctx, 5)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state.Status != db.UserActive || state.WarningCount != 1 || state.MessagingRestricted {
		t.Fatalf("unexpected state %#v", state)
	}
	if !state.LastWarningAt.Equal(clock.Now()) || !state.LastViolationAt.Equal(clock.Now()) {
		t.Fatalf("timestamps not updated: %#v", state)
	}
}

func TestCriticalViolationSuspendsThirtyDays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now))

	for _, tc := range []struct {
		userID int64
		prior  int
	}{
		{userID: 1, prior: 0},
		{userID: 2, prior: 3},
	} {
		for i := 0; i < tc.prior; i++ {
			insertPastViolation(t, store, tc.userID, violation.Spam, clock.Now().Add(-time.Duration(i+1)*24*time.Hour), db.ViolationActioned)
		}
		outcome, err := engine.RecordViolation(ctx, tc.userID, violation.ExternalPayment, Context{})
		if err != nil {
			t.Fatalf("user %d: %v", tc.userID, err)
		}
		if outcome.Action != db.ActionSuspend || outcome.Reason != ReasonCritical {
			t.Fatalf("user %d: unexpected outcome %+v", tc.userID, outcome)
		}
		want := clock.Now().Add(30 * 24 * time.Hour)
		if outcome.Until == nil || !outcome.Until.Equal(want) {
			t.Fatalf("user %d: until = %v, want %v", tc.userID, outcome.Until, want)
		}
		if outcome.Severity != violation.SeverityCritical {
			t.Fatalf("user %d: severity = %s", tc.userID, outcome.Severity)
		}
	}
}

func TestWindowExcludesOldAndDismissedViolations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now))

	const userID = 77
	for i := 0; i < 4; i++ {
		insertPastViolation(t, store, userID, violation.Email, clock.Now().Add(-100*24*time.Hour), db.ViolationActioned)
	}
	insertPastViolation(t, store, userID, violation.Email, clock.Now().Add(-time.Hour), db.ViolationDismissed)

	outcome, err := engine.RecordViolation(ctx, userID, violation.Email, Context{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if outcome.WindowCount != 1 || outcome.Action != db.ActionWarning {
		t.Fatalf("expected warning with window count 1, got %+v", outcome)
	}

	n, err := engine.CountSince(ctx, userID, 90)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	n, err = engine.CountSince(ctx, userID, 365)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Fatalf("count over a year = %d, want 5", n)
	}
	if _, err := engine.CountSince(ctx, userID, 0); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero days, got %v", err)
	}
}

func TestPriorViolationSixtyDaysAgoLeadsToRestriction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now))

	const userID = 60
	insertPastViolation(t, store, userID, violation.Spam, clock.Now().Add(-60*24*time.Hour), db.ViolationActioned)

	outcome, err := engine.RecordViolation(ctx, userID, violation.PhoneNumber, Context{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if outcome.Action != db.ActionRestrict || outcome.WindowCount != 2 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	state, err := engine.Status(ctx, userID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !state.MessagingRestricted || !state.RestrictedUntil.Equal(clock.Now().Add(7*24*time.Hour)) {
		t.Fatalf("expected 7 day restriction, got %#v", state)
	}
	if state.Status != db.UserActive {
		t.Fatalf("restriction must not change status, got %s", state.Status)
	}
}

func TestConcurrentViolationsEscalateInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now))

	const (
		userID = 4242
		n      = 5
	)
	outcomes := make([]Outcome, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = engine.RecordViolation(ctx, userID, violation.Email, Context{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("violation %d: %v", i, err)
		}
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].WindowCount < outcomes[j].WindowCount })
	want := []db.Action{db.ActionWarning, db.ActionRestrict, db.ActionSuspend, db.ActionSuspend, db.ActionBan}
	for i, o := range outcomes {
		if o.WindowCount != i+1 {
			t.Fatalf("window counts are not strictly increasing: %+v", outcomes)
		}
		if o.Action != want[i] {
			t.Fatalf("count %d: action %s, want %s", i+1, o.Action, want[i])
		}
	}
}

type failingQuerier struct {
	db.Querier
}

func (failingQuerier) SaveUserState(context.Context, *db.UserState) error {
	return errors.New("disk full")
}

type failingStore struct {
	db.Client
}

func (s failingStore) InTx(ctx context.Context, fn func(q db.Querier) error) error {
	return s.Client.InTx(ctx, func(q db.Querier) error {
		return fn(failingQuerier{Querier: q})
	})
}

func TestPersistenceFailureLeavesNoTrace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	engine := NewEngine(failingStore{Client: store}, DefaultConfig(), WithNotifier(notifier))

	if _, err := engine.RecordViolation(ctx, 9, violation.Email, Context{}); err == nil {
		t.Fatalf("expected error")
	}
	history, err := store.ListViolations(ctx, 9, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected the ledger insert to be rolled back, got %d rows", len(history))
	}
	if len(notifier.notices) != 0 {
		t.Fatalf("no notice expected on failure")
	}
}

func TestDeferredViolationIsReconciledAfterGrace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now))

	admin := int64(1)
	outcome, err := engine.RecordViolation(ctx, 33, violation.Harassment, Context{Manual: true, ReportedBy: &admin, Deferred: true, Text: "reported"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if outcome.Action != db.ActionNone {
		t.Fatalf("deferred violation should not be actioned, got %s", outcome.Action)
	}

	n, err := engine.Reconcile(ctx, time.Hour)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 0 {
		t.Fatalf("violation inside grace should stay pending, reconciled %d", n)
	}

	clock.Advance(2 * time.Hour)
	n, err = engine.Reconcile(ctx, time.Hour)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 1 {
		t.Fatalf("reconciled %d, want 1", n)
	}

	v, err := store.GetViolation(ctx, outcome.ViolationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Status != db.ViolationActioned || v.ActionTaken != db.ActionSuspend || v.IsAutomatic {
		t.Fatalf("unexpected reconciled violation %#v", v)
	}
	if v.ReportedBy == nil || *v.ReportedBy != admin {
		t.Fatalf("reported by not kept: %v", v.ReportedBy)
	}

	n, err = engine.Reconcile(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("second reconcile should be a no-op, got %d, %v", n, err)
	}
}

func TestEngineStartStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	engine := NewEngine(store, DefaultConfig(), WithReconcile(time.Minute, time.Hour))

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := engine.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestHistoryLimitIsClamped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now))

	for i := 0; i < MaxHistoryLimit+5; i++ {
		insertPastViolation(t, store, 8, violation.Spam, clock.Now().Add(-time.Duration(i)*time.Minute), db.ViolationActioned)
	}
	got, err := engine.History(ctx, 8, 1000)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != MaxHistoryLimit {
		t.Fatalf("history length = %d, want %d", len(got), MaxHistoryLimit)
	}
	got, err = engine.History(ctx, 8, -1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != DefaultHistoryLimit {
		t.Fatalf("history length = %d, want %d", len(got), DefaultHistoryLimit)
	}
}

func TestRecordViolationRejectsMissingUser(t *testing.T) {
	t.Parallel()

	engine := NewEngine(newTestStore(t), DefaultConfig())
	if _, err := engine.RecordViolation(context.Background(), 0, violation.Spam, Context{}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRestrictionDuringSuspensionIsSubsumed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	notifier := &recordingNotifier{}
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now), WithNotifier(notifier))

	first, err := engine.RecordViolation(ctx, 21, violation.ExternalPayment, Context{Text: "pay me via zelle"})
	if err != nil {
		t.Fatalf("record critical: %v", err)
	}
	if first.Action != db.ActionSuspend {
		t.Fatalf("critical action = %s, want suspend", first.Action)
	}

	clock.Advance(time.Hour)
	admin := int64(1)
	second, err := engine.RecordViolation(ctx, 21, violation.Email, Context{Manual: true, ReportedBy: &admin, Text: "reported"})
	if err != nil {
		t.Fatalf("record manual: %v", err)
	}
	if second.Action != db.ActionRestrict || second.WindowCount != 2 {
		t.Fatalf("second outcome = %+v, want restrict at count 2", second)
	}
	if second.Until != nil {
		t.Fatalf("subsumed restriction should carry no until, got %v", *second.Until)
	}

	state, err := engine.Status(ctx, 21)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state.Status != db.UserSuspended || !state.SuspendedUntil.Equal(*first.Until) {
		t.Fatalf("suspension changed: %#v", state)
	}
	if state.MessagingRestricted || !state.RestrictedUntil.IsZero() {
		t.Fatalf("restriction stacked onto an active suspension: %#v", state)
	}
	if len(notifier.notices) != 1 || notifier.notices[0].Kind != notify.KindSuspended {
		t.Fatalf("expected only the suspension notice, got %+v", notifier.notices)
	}
}

func TestReconcileClosesViolationsOlderThanWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	notifier := &recordingNotifier{}
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now), WithNotifier(notifier))

	insertPastViolation(t, store, 44, violation.Harassment, clock.Now().Add(-100*24*time.Hour), db.ViolationPending)

	n, err := engine.Reconcile(ctx, time.Hour)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 1 {
		t.Fatalf("settled %d, want 1", n)
	}

	history, err := engine.History(ctx, 44, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d", len(history))
	}
	v := history[0]
	if v.Status != db.ViolationActioned || v.ActionTaken != db.ActionNone || v.ActionReason != ReasonAgedOut {
		t.Fatalf("unexpected aged out violation %#v", v)
	}

	state, err := engine.Status(ctx, 44)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state.Status != db.UserActive || state.ViolationCount != 0 || state.WarningCount != 0 {
		t.Fatalf("aged out violation changed state: %#v", state)
	}
	if len(notifier.notices) != 0 {
		t.Fatalf("no notice expected, got %+v", notifier.notices)
	}
}

func TestCountSinceBoundsDays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	engine := NewEngine(store, DefaultConfig(), WithClock(clock.Now))

	insertPastViolation(t, store, 7, violation.Spam, clock.Now().Add(-24*time.Hour), db.ViolationActioned)
	insertPastViolation(t, store, 7, violation.Email, clock.Now().Add(-400*24*time.Hour), db.ViolationActioned)

	n, err := engine.CountSince(ctx, 7, ladder.MaxDays)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count over the widest window = %d, want 2", n)
	}

	for _, days := range []int{0, -1, ladder.MaxDays + 1, 1000000} {
		if _, err := engine.CountSince(ctx, 7, days); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Fatalf("CountSince(%d) error = %v, want ErrInvalidInput", days, err)
		}
	}
}
