package conversation

import (
	"context"
	"errors"
	"time"
)

// Conversation represents a direct-message thread between exactly two users.
// ParticipantLow < ParticipantHigh always holds.
type Conversation struct {
	ID              string    `json:"id"`
	ParticipantLow  string    `json:"-"`
	ParticipantHigh string    `json:"-"`
	Singleton       bool      `json:"-"`
	LastMessageID   *string   `json:"lastMessageId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Participants returns both participant ids in canonical order.
func (c *Conversation) Participants() []string {
	return []string{c.ParticipantLow, c.ParticipantHigh}
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.ParticipantLow || userID == c.ParticipantHigh)
}

// Other returns the participant that is not userID. ok is false when userID
// does not participate.
func (c *Conversation) Other(userID string) (other string, ok bool) {
	switch userID {
	case c.ParticipantLow:
		return c.ParticipantHigh, true
	case c.ParticipantHigh:
		return c.ParticipantLow, true
	}
	return "", false
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrDuplicatePair is returned by Create when a singleton conversation for
	// the same canonical pair already exists.
	ErrDuplicatePair = errors.New("conversation for pair already exists")
)

// Store defines conversation persistence operations.
type Store interface {
	Create(ctx context.Context, convo *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	GetByPair(ctx context.Context, low, high string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
	UpdateLastMessage(ctx context.Context, id, messageID string, at time.Time) error
	Delete(ctx context.Context, id string) error
}
