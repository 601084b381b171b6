package enforcement

import (
	"time"

	"github.com/iamwavecut/ngtrust/internal/db"
	"github.com/iamwavecut/ngtrust/internal/policy/ladder"
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
)

const (
	ReasonCritical       = "critical policy violation"
	ReasonMultiple       = "multiple policy violations"
	ReasonRepeated       = "repeated policy violations"
	ReasonRestricted     = "messaging restricted due to policy violations"
	ReasonWarning        = "policy violation warning"
	ReasonAlreadyBanned  = "account already banned"
	ReasonAgedOut        = "violation left the enforcement window before review"
	defaultWindowDays    = 90
	defaultRestrictDays  = 7
	defaultShortSuspDays = 7
	defaultLongSuspDays  = 30
)

// Sanction is the action a policy rung resolves to.
type Sanction struct {
	Action   db.Action
	Duration time.Duration
	Reason   string
}

type Config struct {
	Window          time.Duration
	RestrictFor     time.Duration
	ShortSuspension time.Duration
	LongSuspension  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:          days(defaultWindowDays),
		RestrictFor:     days(defaultRestrictDays),
		ShortSuspension: days(defaultShortSuspDays),
		LongSuspension:  days(defaultLongSuspDays),
	}
}

// NewPolicy builds the messaging decision table: a critical violation suspends outright,
// otherwise the trailing window count climbs warning, restriction, short suspension,
// long suspension and finally ban.
func NewPolicy(cfg Config) ladder.Policy[int64, violation.Severity, Sanction] {
	table := ladder.MustTable(
		map[violation.Severity]Sanction{
			violation.SeverityCritical: {Action: db.ActionSuspend, Duration: cfg.LongSuspension, Reason: ReasonCritical},
		},
		[]ladder.Rung[Sanction]{
			{Min: 5, Action: Sanction{Action: db.ActionBan, Reason: ReasonMultiple}},
			{Min: 4, Action: Sanction{Action: db.ActionSuspend, Duration: cfg.LongSuspension, Reason: ReasonRepeated}},
			{Min: 3, Action: Sanction{Action: db.ActionSuspend, Duration: cfg.ShortSuspension, Reason: ReasonMultiple}},
			{Min: 2, Action: Sanction{Action: db.ActionRestrict, Duration: cfg.RestrictFor, Reason: ReasonRestricted}},
		},
		Sanction{Action: db.ActionWarning, Reason: ReasonWarning},
	)
	return ladder.Policy[int64, violation.Severity, Sanction]{
		Table:  table,
		Window: ladder.Window{Span: cfg.Window},
	}
}

// applySanction mutates state for s so that at most one of restriction, suspension and
// ban limits sending. A restriction during an active suspension is subsumed by it: state is
// left as is and the zero until is returned.
func applySanction(state *db.UserState, s Sanction, now time.Time) (until time.Time) {
	switch s.Action {
	case db.ActionWarning:
		state.WarningCount++
		state.LastWarningAt = db.At(now)
	case db.ActionRestrict:
		if state.Status == db.UserSuspended {
			if state.SuspendedUntil.After(now) {
				return time.Time{}
			}
			state.Status = db.UserActive
			state.SuspendedUntil = db.Timestamp{}
		}
		until = now.Add(s.Duration)
		if state.MessagingRestricted && state.RestrictedUntil.After(until) {
			until = state.RestrictedUntil.Time
		}
		state.MessagingRestricted = true
		state.RestrictedUntil = db.At(until)
	case db.ActionSuspend:
		until = now.Add(s.Duration)
		if state.Status == db.UserSuspended && state.SuspendedUntil.After(until) {
			until = state.SuspendedUntil.Time
		}
		state.Status = db.UserSuspended
		state.SuspendedUntil = db.At(until)
		state.MessagingRestricted = false
		state.RestrictedUntil = db.Timestamp{}
	case db.ActionBan:
		state.Status = db.UserBanned
		state.BanReason = s.Reason
		state.SuspendedUntil = db.Timestamp{}
		state.MessagingRestricted = false
		state.RestrictedUntil = db.Timestamp{}
	}
	return until
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
