package db

import (
	"context"
	"time"
)

// Querier holds the store operations. Inside InTx every call joins the transaction.
type Querier interface {
	GetUserState(ctx context.Context, userID int64) (*UserState, error)
	SaveUserState(ctx context.Context, state *UserState) error

	InsertViolation(ctx context.Context, v *Violation) error
	UpdateViolation(ctx context.Context, v *Violation) error
	GetViolation(ctx context.Context, id string) (*Violation, error)
	ListViolations(ctx context.Context, userID int64, limit int) ([]*Violation, error)
	CountViolationsSince(ctx context.Context, userID int64, since time.Time) (int, error)
	ListPendingViolations(ctx context.Context, detectedBefore time.Time, limit int) ([]*Violation, error)

	InsertMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*Message, error)
	UpdateMessageModeration(ctx context.Context, id int64, status ModerationStatus, flags FlagSet) error

	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error)
	FlagConversation(ctx context.Context, id int64, reason string, at time.Time) error

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}

type Client interface {
	Querier
	// InTx runs fn in one transaction, committed when fn returns nil and rolled back otherwise.
	// Transactions are serialized against each other: a row read inside fn cannot be changed
	// by another writer before fn commits, so read-modify-write of a user state is safe
	// without holding the engine's per-user lock.
	InTx(ctx context.Context, fn func(q Querier) error) error
	Close() error
}
