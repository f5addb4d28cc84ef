package conversation

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nexus-im/dm/store/sqldb"
)

const selectColumns = `
		SELECT id, participant_low, participant_high, singleton, last_message_id, created_at, updated_at
		FROM conversations
`

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts convo, assigning its id and timestamps when unset. A unique
// violation on the pair index is reported as ErrDuplicatePair.
func (s *SQLStore) Create(ctx context.Context, convo *Conversation) error {
	if convo.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return errors.Wrap(err, "conversationStore.Create.NewV7")
		}
		convo.ID = id.String()
	}
	if convo.CreatedAt.IsZero() {
		convo.CreatedAt = sqldb.Now()
	}
	if convo.UpdatedAt.IsZero() {
		convo.UpdatedAt = convo.CreatedAt
	}

	query := `
		INSERT INTO conversations (id, participant_low, participant_high, singleton, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		convo.ID, convo.ParticipantLow, convo.ParticipantHigh, convo.Singleton, convo.CreatedAt, convo.UpdatedAt)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return ErrDuplicatePair
		}
		return errors.Wrap(err, "conversationStore.Create")
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`WHERE id = $1`, id)
	return scanOne(row)
}

// GetByPair returns the singleton conversation for the canonical pair.
func (s *SQLStore) GetByPair(ctx context.Context, low, high string) (*Conversation, error) {
	query := selectColumns + `
		WHERE participant_low = $1 AND participant_high = $2 AND singleton
	`
	row := s.db.QueryRowContext(ctx, query, low, high)
	return scanOne(row)
}

// ListForUser returns userID's conversations, most recently updated first.
func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	query := selectColumns + `
		WHERE participant_low = $1 OR participant_high = $1
		ORDER BY updated_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "conversationStore.ListForUser")
	}
	defer rows.Close()

	convos := make([]*Conversation, 0)
	for rows.Next() {
		convo, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, "conversationStore.ListForUser.Scan")
		}
		convos = append(convos, convo)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "conversationStore.ListForUser.Rows")
	}
	return convos, nil
}

// UpdateLastMessage moves the last-message pointer forward. Writes older than
// the stored updated_at are ignored; a missing conversation is not an error.
func (s *SQLStore) UpdateLastMessage(ctx context.Context, id, messageID string, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_id = $1, updated_at = $2
		WHERE id = $3 AND updated_at <= $2
	`
	if _, err := s.db.ExecContext(ctx, query, messageID, sqldb.Timestamp(at), id); err != nil {
		return errors.Wrap(err, "conversationStore.UpdateLastMessage")
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "conversationStore.Delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "conversationStore.Delete.RowsAffected")
	}
	if n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*Conversation, error) {
	convo, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, errors.Wrap(err, "conversationStore.Scan")
	}
	return convo, nil
}

func scan(row scanner) (*Conversation, error) {
	var (
		convo       Conversation
		lastMessage sql.NullString
	)
	if err := row.Scan(
		&convo.ID,
		&convo.ParticipantLow,
		&convo.ParticipantHigh,
		&convo.Singleton,
		&lastMessage,
		&convo.CreatedAt,
		&convo.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastMessage.Valid {
		convo.LastMessageID = &lastMessage.String
	}
	convo.CreatedAt = convo.CreatedAt.UTC()
	convo.UpdatedAt = convo.UpdatedAt.UTC()
	return &convo, nil
}
