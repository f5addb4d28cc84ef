// Package ledger is the append-only, ordered message store of every
// conversation, with read-state tracking and unread aggregation.
package ledger

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/nexus-im/dm/internal/apperr"
	"github.com/nexus-im/dm/store/message"
)

// MaxTextLength is the longest accepted message, in characters, after
// surrounding whitespace is trimmed.
const MaxTextLength = 2000

// Ledger appends and reads messages.
type Ledger struct {
	store message.Store
}

// New creates a Ledger.
func New(store message.Store) *Ledger {
	return &Ledger{store: store}
}

// NormalizeText trims text and checks its length.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.InvalidArgument("text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", apperr.InvalidArgument("text exceeds 2000 characters")
	}
	return text, nil
}

// Append stores a new unread message.
func (l *Ledger) Append(ctx context.Context, conversationID, senderID, receiverID, text string) (*message.Message, error) {
	text, err := NormalizeText(text)
	if err != nil {
		return nil, err
	}
	if senderID == "" || receiverID == "" || senderID == receiverID {
		return nil, apperr.InvalidArgument("sender and receiver must be two distinct users")
	}

	msg := &message.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Text:           text,
	}
	if err := l.store.Create(ctx, msg); err != nil {
		if errors.Is(err, message.ErrConversationMissing) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, apperr.Internal(errors.Wrap(err, "ledger.Append"))
	}
	return msg, nil
}

// ListByConversation returns messages oldest first.
func (l *Ledger) ListByConversation(ctx context.Context, conversationID string) ([]*message.Message, error) {
	msgs, err := l.store.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperr.Internal(errors.Wrap(err, "ledger.ListByConversation"))
	}
	return msgs, nil
}

// MarkReadForRecipient marks every unread message addressed to recipientID in
// the conversation as read.
func (l *Ledger) MarkReadForRecipient(ctx context.Context, conversationID, recipientID string) (int64, error) {
	n, err := l.store.MarkAllRead(ctx, conversationID, recipientID)
	if err != nil {
		return 0, apperr.Internal(errors.Wrap(err, "ledger.MarkAllRead"))
	}
	return n, nil
}

// MarkObservedRead marks the messages in observed that are addressed to
// recipientID. Nothing outside observed changes.
func (l *Ledger) MarkObservedRead(ctx context.Context, conversationID, recipientID string, observed []*message.Message) (int64, error) {
	ids := make([]string, 0, len(observed))
	for _, m := range observed {
		if m.ReceiverID == recipientID && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	n, err := l.store.MarkRead(ctx, conversationID, recipientID, ids)
	if err != nil {
		return 0, apperr.Internal(errors.Wrap(err, "ledger.MarkRead"))
	}
	return n, nil
}

// CountUnread returns the number of unread messages addressed to recipientID.
func (l *Ledger) CountUnread(ctx context.Context, recipientID string) (int, error) {
	n, err := l.store.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, apperr.Internal(errors.Wrap(err, "ledger.CountUnread"))
	}
	return n, nil
}

// CountUnreadByConversation returns unread counts keyed by conversation id.
func (l *Ledger) CountUnreadByConversation(ctx context.Context, recipientID string) (map[string]int, error) {
	counts, err := l.store.CountUnreadByConversation(ctx, recipientID)
	if err != nil {
		return nil, apperr.Internal(errors.Wrap(err, "ledger.CountUnreadByConversation"))
	}
	return counts, nil
}

// DeleteByConversation removes every message of the conversation.
func (l *Ledger) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	n, err := l.store.DeleteByConversation(ctx, conversationID)
	if err != nil {
		return 0, apperr.Internal(errors.Wrap(err, "ledger.DeleteByConversation"))
	}
	return n, nil
}
