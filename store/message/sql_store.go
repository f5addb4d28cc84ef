package message

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nexus-im/dm/store/sqldb"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts msg as unread. Ids are UUIDv7 so that id order follows
// insertion order within a timestamp.
func (s *SQLStore) Create(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return errors.Wrap(err, "messageStore.Create.NewV7")
		}
		msg.ID = id.String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = sqldb.Now()
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.IsRead = false

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, text, is_read, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Text, false, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		if sqldb.IsForeignKeyViolation(err) {
			return ErrConversationMissing
		}
		return errors.Wrap(err, "messageStore.Create")
	}
	return nil
}

func (s *SQLStore) ListByConversation(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, receiver_id, text, is_read, created_at, updated_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "messageStore.ListByConversation")
	}
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Text,
			&msg.IsRead,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "messageStore.ListByConversation.Scan")
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		msg.UpdatedAt = msg.UpdatedAt.UTC()
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "messageStore.ListByConversation.Rows")
	}
	return messages, nil
}

// MarkAllRead flips every unread message addressed to recipientID in the
// conversation.
func (s *SQLStore) MarkAllRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = $1, updated_at = $2
		WHERE conversation_id = $3 AND receiver_id = $4 AND is_read = $5
	`, true, sqldb.Now(), conversationID, recipientID, false)
	if err != nil {
		return 0, errors.Wrap(err, "messageStore.MarkAllRead")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "messageStore.MarkAllRead.RowsAffected")
	}
	return n, nil
}

// MarkRead flips the listed messages that are unread and addressed to
// recipientID. Ids outside the conversation or sent by recipientID are
// ignored.
func (s *SQLStore) MarkRead(ctx context.Context, conversationID, recipientID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := []interface{}{true, sqldb.Now(), conversationID, recipientID, false}
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		placeholders[i] = "$" + strconv.Itoa(len(args))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = $1, updated_at = $2
		WHERE conversation_id = $3 AND receiver_id = $4 AND is_read = $5
		  AND id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return 0, errors.Wrap(err, "messageStore.MarkRead")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "messageStore.MarkRead.RowsAffected")
	}
	return n, nil
}

func (s *SQLStore) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND is_read = $2
	`, recipientID, false).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "messageStore.CountUnread")
	}
	return count, nil
}

// CountUnreadByConversation aggregates unread counts for recipientID in a
// single grouped query. Conversations with nothing unread are absent.
func (s *SQLStore) CountUnreadByConversation(ctx context.Context, recipientID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, COUNT(*)
		FROM messages
		WHERE receiver_id = $1 AND is_read = $2
		GROUP BY conversation_id
	`, recipientID, false)
	if err != nil {
		return nil, errors.Wrap(err, "messageStore.CountUnreadByConversation")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			conversationID string
			count          int
		)
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, errors.Wrap(err, "messageStore.CountUnreadByConversation.Scan")
		}
		counts[conversationID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "messageStore.CountUnreadByConversation.Rows")
	}
	return counts, nil
}

func (s *SQLStore) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, errors.Wrap(err, "messageStore.DeleteByConversation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "messageStore.DeleteByConversation.RowsAffected")
	}
	return n, nil
}
