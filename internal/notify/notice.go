package notify

import (
	"time"

	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/ngtrust/internal/i18n"
)

type Kind string

const (
	KindWarning        Kind = "warning"
	KindRestricted     Kind = "restricted"
	KindSuspended      Kind = "suspended"
	KindBanned         Kind = "banned"
	KindAppealApproved Kind = "appeal_approved"
	KindAppealRejected Kind = "appeal_rejected"
)

const untilLayout = "2006-01-02 15:04 MST"

// Notice is an out-of-band message to the affected user. It is advisory only: the
// enforcement state it describes is already committed.
type Notice struct {
	UserID   int64
	Kind     Kind
	Reason   string
	Until    time.Time
	Language string

	attempts int
	expireAt time.Time
}

func (n *Notice) expired(now time.Time) bool {
	return !n.expireAt.IsZero() && now.After(n.expireAt)
}

// Render returns the localized text for the notice, or "" for kinds that carry no text.
func Render(n Notice) string {
	lang := n.Language
	var template string
	switch n.Kind {
	case KindWarning:
		template = i18n.Get("Warning: {{ .reason }}. Further violations may restrict your account.", lang)
	case KindRestricted:
		template = i18n.Get("Your messaging is restricted until {{ .until }}: {{ .reason }}.", lang)
	case KindSuspended:
		template = i18n.Get("Your account is suspended until {{ .until }}: {{ .reason }}.", lang)
	case KindBanned:
		template = i18n.Get("Your account has been banned: {{ .reason }}.", lang)
	case KindAppealApproved:
		template = i18n.Get("Your appeal was approved and the violation was dismissed.", lang)
	case KindAppealRejected:
		template = i18n.Get("Your appeal was rejected.", lang)
	default:
		return ""
	}
	until := ""
	if !n.Until.IsZero() {
		until = n.Until.UTC().Format(untilLayout)
	}
	return tool.ExecTemplate(template, map[string]any{
		"reason": n.Reason,
		"until":  until,
	})
}
