package enforcement

import (
	"testing"
	"time"

	"github.com/iamwavecut/ngtrust/internal/db"
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
)

func TestPolicyDecisionTable(t *testing.T) {
	t.Parallel()

	table := NewPolicy(DefaultConfig()).Table
	tests := []struct {
		name     string
		severity violation.Severity
		count    int
		want     db.Action
		span     time.Duration
	}{
		{name: "first low", severity: violation.SeverityLow, count: 1, want: db.ActionWarning},
		{name: "second high", severity: violation.SeverityHigh, count: 2, want: db.ActionRestrict, span: 7 * 24 * time.Hour},
		{name: "third medium", severity: violation.SeverityMedium, count: 3, want: db.ActionSuspend, span: 7 * 24 * time.Hour},
		{name: "fourth", severity: violation.SeverityMedium, count: 4, want: db.ActionSuspend, span: 30 * 24 * time.Hour},
		{name: "fifth", severity: violation.SeverityHigh, count: 5, want: db.ActionBan},
		{name: "tenth", severity: violation.SeverityHigh, count: 10, want: db.ActionBan},
		{name: "critical first", severity: violation.SeverityCritical, count: 1, want: db.ActionSuspend, span: 30 * 24 * time.Hour},
		{name: "critical beats ban rung", severity: violation.SeverityCritical, count: 7, want: db.ActionSuspend, span: 30 * 24 * time.Hour},
		{name: "unknown severity uses counts", severity: violation.SeverityUnknown, count: 2, want: db.ActionRestrict, span: 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := table.Decide(tt.severity, tt.count)
			if got.Action != tt.want || got.Duration != tt.span {
				t.Fatalf("Decide(%s, %d) = %+v, want %s for %v", tt.severity, tt.count, got, tt.want, tt.span)
			}
		})
	}
}

func TestApplySanctionNeverShortensSuspension(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(20 * 24 * time.Hour)
	state := &db.UserState{
		UserID:              1,
		Status:              db.UserSuspended,
		SuspendedUntil:      db.At(later),
		MessagingRestricted: true,
		RestrictedUntil:     db.At(now.Add(time.Hour)),
	}
	until := applySanction(state, Sanction{Action: db.ActionSuspend, Duration: 7 * 24 * time.Hour}, now)
	if !until.Equal(later) || !state.SuspendedUntil.Equal(later) {
		t.Fatalf("suspension shortened to %v", until)
	}
	if state.MessagingRestricted || !state.RestrictedUntil.IsZero() {
		t.Fatalf("suspension should clear restriction: %#v", state)
	}
}

func TestApplySanctionRestrictionDuringSuspension(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	restrict := Sanction{Action: db.ActionRestrict, Duration: 7 * 24 * time.Hour}

	active := &db.UserState{UserID: 1, Status: db.UserSuspended, SuspendedUntil: db.At(now.Add(30 * 24 * time.Hour))}
	if until := applySanction(active, restrict, now); !until.IsZero() {
		t.Fatalf("restriction under an active suspension returned until %v", until)
	}
	if active.Status != db.UserSuspended || active.MessagingRestricted || !active.RestrictedUntil.IsZero() {
		t.Fatalf("restriction stacked onto suspension: %#v", active)
	}

	expired := &db.UserState{UserID: 2, Status: db.UserSuspended, SuspendedUntil: db.At(now.Add(-time.Hour))}
	until := applySanction(expired, restrict, now)
	if !until.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("until = %v", until)
	}
	if expired.Status != db.UserActive || !expired.SuspendedUntil.IsZero() || !expired.MessagingRestricted {
		t.Fatalf("expired suspension should give way to the restriction: %#v", expired)
	}
}
