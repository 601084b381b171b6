package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/iamwavecut/ngtrust/internal/db"
	apperrors "github.com/iamwavecut/ngtrust/internal/errors"
)

// InsertMessage stores m, assigning its ID, and registers the conversation and sender.
func (q *queries) InsertMessage(ctx context.Context, m *db.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = db.At(time.Now())
	}
	if _, err := q.ext.ExecContext(ctx, `
		INSERT INTO conversations (id, last_message_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
		last_message_at = MAX(COALESCE(last_message_at, 0), excluded.last_message_at)
	`, m.ConversationID, m.CreatedAt); err != nil {
		return errors.Wrapf(err, "upsert conversation %d", m.ConversationID)
	}
	if _, err := q.ext.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)`,
		m.ConversationID, m.SenderID,
	); err != nil {
		return errors.Wrapf(err, "insert participant %d", m.SenderID)
	}

	res, err := q.ext.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, text, moderation_status, moderation_flags, is_auto_reply, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ConversationID, m.SenderID, m.Text, m.ModerationStatus, m.ModerationFlags, m.IsAutoReply, m.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "insert message id")
	}
	m.ID = id
	return nil
}

func (q *queries) GetMessage(ctx context.Context, id int64) (*db.Message, error) {
	var m db.Message
	err := sqlx.GetContext(ctx, q.ext, &m, `SELECT * FROM messages WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "message %d", id)
		}
		return nil, errors.Wrapf(err, "get message %d", id)
	}
	return &m, nil
}

func (q *queries) ListMessages(ctx context.Context, conversationID int64) ([]*db.Message, error) {
	var messages []*db.Message
	err := sqlx.SelectContext(ctx, q.ext, &messages,
		`SELECT * FROM messages WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, errors.Wrapf(err, "list messages of %d", conversationID)
	}
	return messages, nil
}

func (q *queries) UpdateMessageModeration(ctx context.Context, id int64, status db.ModerationStatus, flags db.FlagSet) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE messages SET moderation_status = ?, moderation_flags = ? WHERE id = ?`,
		status, flags, id)
	if err != nil {
		return errors.Wrapf(err, "update message %d", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(apperrors.ErrNotFound, "message %d", id)
	}
	return nil
}

// GetConversation loads the conversation with its participants.
func (q *queries) GetConversation(ctx context.Context, id int64) (*db.Conversation, error) {
	var c db.Conversation
	err := sqlx.GetContext(ctx, q.ext, &c, `SELECT * FROM conversations WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "conversation %d", id)
		}
		return nil, errors.Wrapf(err, "get conversation %d", id)
	}
	err = sqlx.SelectContext(ctx, q.ext, &c.Participants,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get participants of %d", id)
	}
	return &c, nil
}

// ListConversations pages by id without participants.
func (q *queries) ListConversations(ctx context.Context, filter db.ConversationFilter) ([]*db.Conversation, error) {
	where := []string{"id > ?"}
	args := []any{filter.After}
	if !filter.ActiveSince.IsZero() {
		where = append(where, "last_message_at >= ?")
		args = append(args, db.At(filter.ActiveSince))
	}
	if filter.SkipFlagged {
		where = append(where, "flagged = FALSE")
	}
	query := `SELECT * FROM conversations WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var conversations []*db.Conversation
	if err := sqlx.SelectContext(ctx, q.ext, &conversations, query, args...); err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	return conversations, nil
}

func (q *queries) FlagConversation(ctx context.Context, id int64, reason string, at time.Time) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE conversations SET flagged = TRUE, flag_reason = ?, flagged_at = ? WHERE id = ?`,
		reason, db.At(at), id)
	if err != nil {
		return errors.Wrapf(err, "flag conversation %d", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(apperrors.ErrNotFound, "conversation %d", id)
	}
	return nil
}
