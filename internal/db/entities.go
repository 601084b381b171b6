package db

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"github.com/iamwavecut/ngtrust/internal/policy/violation"
)

type (
	UserStatus       string
	ViolationStatus  string
	AppealStatus     string
	ModerationStatus string
	Action           string
)

const (
	UserActive     UserStatus = "active"
	UserRestricted UserStatus = "restricted"
	UserSuspended  UserStatus = "suspended"
	UserBanned     UserStatus = "banned"
)

const (
	ViolationPending   ViolationStatus = "pending"
	ViolationReviewed  ViolationStatus = "reviewed"
	ViolationDismissed ViolationStatus = "dismissed"
	ViolationActioned  ViolationStatus = "actioned"
)

const (
	AppealNone     AppealStatus = ""
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealRejected AppealStatus = "rejected"
)

const (
	ModerationApproved ModerationStatus = "approved"
	ModerationFlagged  ModerationStatus = "flagged"
	ModerationBlocked  ModerationStatus = "blocked"
)

const (
	ActionNone     Action = "none"
	ActionWarning  Action = "warning"
	ActionRestrict Action = "restrict_messaging"
	ActionSuspend  Action = "suspend"
	ActionBan      Action = "ban"
)

type (
	// UserState is the enforcement slice of a user. A user without a stored row is active
	// with zero counters.
	UserState struct {
		UserID              int64      `db:"user_id" json:"user_id"`
		Status              UserStatus `db:"status" json:"status"`
		MessagingRestricted bool       `db:"messaging_restricted" json:"messaging_restricted"`
		RestrictedUntil     Timestamp  `db:"restricted_until" json:"restricted_until"`
		SuspendedUntil      Timestamp  `db:"suspended_until" json:"suspended_until"`
		ViolationCount      int        `db:"violation_count" json:"violation_count"`
		WarningCount        int        `db:"warning_count" json:"warning_count"`
		LastViolationAt     Timestamp  `db:"last_violation_at" json:"last_violation_at"`
		LastWarningAt       Timestamp  `db:"last_warning_at" json:"last_warning_at"`
		BanReason           string     `db:"ban_reason" json:"ban_reason,omitempty"`
		UpdatedAt           Timestamp  `db:"updated_at" json:"updated_at"`
	}

	Violation struct {
		ID             string             `db:"id" json:"id"`
		UserID         int64              `db:"user_id" json:"user_id"`
		Type           violation.Type     `db:"violation_type" json:"violation_type"`
		Severity       violation.Severity `db:"severity" json:"severity"`
		ConversationID *int64             `db:"conversation_id" json:"conversation_id,omitempty"`
		MessageID      *int64             `db:"message_id" json:"message_id,omitempty"`
		Text           string             `db:"violation_text" json:"violation_text"`
		IsAutomatic    bool               `db:"is_automatic" json:"is_automatic"`
		ReportedBy     *int64             `db:"reported_by" json:"reported_by,omitempty"`
		DetectedAt     Timestamp          `db:"detected_at" json:"detected_at"`
		ActionTaken    Action             `db:"action_taken" json:"action_taken,omitempty"`
		ActionReason   string             `db:"action_reason" json:"action_reason,omitempty"`
		ActionTakenAt  Timestamp          `db:"action_taken_at" json:"action_taken_at"`
		ActionUntil    Timestamp          `db:"action_until" json:"action_until"`
		Status         ViolationStatus    `db:"status" json:"status"`

		Appealed         bool         `db:"appealed" json:"appealed"`
		AppealReason     string       `db:"appeal_reason" json:"appeal_reason,omitempty"`
		AppealedAt       Timestamp    `db:"appealed_at" json:"appealed_at"`
		AppealStatus     AppealStatus `db:"appeal_status" json:"appeal_status,omitempty"`
		AppealReviewedBy *int64       `db:"appeal_reviewed_by" json:"appeal_reviewed_by,omitempty"`
		AppealReviewedAt Timestamp    `db:"appeal_reviewed_at" json:"appeal_reviewed_at"`
		ReviewNotes      string       `db:"review_notes" json:"review_notes,omitempty"`
	}

	Conversation struct {
		ID            int64     `db:"id" json:"id"`
		Participants  []int64   `db:"-" json:"participants"`
		Flagged       bool      `db:"flagged" json:"flagged"`
		FlagReason    string    `db:"flag_reason" json:"flag_reason,omitempty"`
		FlaggedAt     Timestamp `db:"flagged_at" json:"flagged_at"`
		LastMessageAt Timestamp `db:"last_message_at" json:"last_message_at"`
	}

	Message struct {
		ID               int64            `db:"id" json:"id"`
		ConversationID   int64            `db:"conversation_id" json:"conversation_id"`
		SenderID         int64            `db:"sender_id" json:"sender_id"`
		Text             string           `db:"text" json:"text"`
		ModerationStatus ModerationStatus `db:"moderation_status" json:"moderation_status"`
		ModerationFlags  FlagSet          `db:"moderation_flags" json:"moderation_flags,omitempty"`
		IsAutoReply      bool             `db:"is_auto_reply" json:"is_auto_reply"`
		CreatedAt        Timestamp        `db:"created_at" json:"created_at"`
	}

	// ConversationFilter pages conversations in ascending id order.
	ConversationFilter struct {
		After       int64
		Limit       int
		ActiveSince time.Time
		SkipFlagged bool
	}
)

// NewUserState returns the state of a user without enforcement history.
func NewUserState(userID int64) *UserState {
	return &UserState{UserID: userID, Status: UserActive}
}

// IsAppealPending reports whether an appeal awaits review.
func (v *Violation) IsAppealPending() bool {
	return v.Appealed && v.AppealStatus == AppealPending
}

// Timestamp stores time as unix nanoseconds.
// The zero value is stored as NULL.
type Timestamp struct {
	time.Time
}

func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UnixNano(), nil
}

func (t *Timestamp) Scan(v interface{}) error {
	switch data := v.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case int64:
		t.Time = time.Unix(0, data).UTC()
		return nil
	case string:
		return t.parse(data)
	case []byte:
		return t.parse(string(data))
	default:
		return fmt.Errorf("cannot scan type %T into Timestamp", v)
	}
}

func (t *Timestamp) parse(s string) error {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("cannot parse timestamp %q: %w", s, err)
	}
	t.Time = time.Unix(0, n).UTC()
	return nil
}

// MarshalJSON renders the zero timestamp as null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return t.Time.MarshalJSON()
}

// FlagSet is the set of categories a message was flagged for, stored comma-joined.
type FlagSet []violation.Type

func (f FlagSet) Value() (driver.Value, error) {
	return violation.Join(f), nil
}

func (f *FlagSet) Scan(v interface{}) error {
	switch data := v.(type) {
	case nil:
		*f = nil
	case string:
		*f = violation.Split(data)
	case []byte:
		*f = violation.Split(string(data))
	default:
		return fmt.Errorf("cannot scan type %T into FlagSet", v)
	}
	return nil
}

// Equal compares sets regardless of order and duplicates.
func (f FlagSet) Equal(other FlagSet) bool {
	return violation.Join(f) == violation.Join(other)
}
