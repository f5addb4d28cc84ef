package message

import (
	"context"
	"errors"
	"time"
)

// Message is one entry in a conversation's ledger. Only IsRead ever changes
// after creation, and only from false to true.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Text           string    `json:"text"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ErrConversationMissing is returned by Create when the owning conversation
// no longer exists.
var ErrConversationMissing = errors.New("conversation does not exist")

// Store defines message persistence operations.
type Store interface {
	Create(ctx context.Context, msg *Message) error
	ListByConversation(ctx context.Context, conversationID string) ([]*Message, error)
	MarkAllRead(ctx context.Context, conversationID, recipientID string) (int64, error)
	// MarkRead flips only the given message ids, so a message committed after
	// the caller's read stays unread.
	MarkRead(ctx context.Context, conversationID, recipientID string, ids []string) (int64, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	CountUnreadByConversation(ctx context.Context, recipientID string) (map[string]int, error)
	DeleteByConversation(ctx context.Context, conversationID string) (int64, error)
}
