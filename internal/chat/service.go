// Package chat orchestrates the conversation lifecycle: starting a
// conversation, sending and listing messages, listing conversations with
// unread counts, and deleting a conversation with its messages.
package chat

import (
	"context"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/nexus-im/dm/internal/access"
	"github.com/nexus-im/dm/internal/apperr"
	"github.com/nexus-im/dm/store/conversation"
	"github.com/nexus-im/dm/store/message"
)

// Directory resolves conversations.
type Directory interface {
	Start(ctx context.Context, callerID, otherID string) (*conversation.Conversation, bool, error)
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*conversation.Conversation, error)
	RecordMessage(ctx context.Context, conversationID, messageID string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// Ledger stores messages.
type Ledger interface {
	Append(ctx context.Context, conversationID, senderID, receiverID, text string) (*message.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]*message.Message, error)
	MarkObservedRead(ctx context.Context, conversationID, recipientID string, observed []*message.Message) (int64, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	CountUnreadByConversation(ctx context.Context, recipientID string) (map[string]int, error)
	DeleteByConversation(ctx context.Context, conversationID string) (int64, error)
}

// ConversationSummary is one entry of a caller's conversation list.
type ConversationSummary struct {
	Conversation *conversation.Conversation
	UnreadCount  int
}

// ConversationList is the caller's conversations plus their unread totals.
type ConversationList struct {
	Conversations []ConversationSummary
	TotalUnread   int
}

// DeleteResult reports what DeleteConversation removed.
type DeleteResult struct {
	ConversationID  string
	MessagesDeleted int64
}

// Service implements the conversation lifecycle. Every method takes the
// caller id already resolved by the identity layer.
type Service struct {
	directory Directory
	ledger    Ledger
}

// NewService creates a Service.
func NewService(directory Directory, ledger Ledger) *Service {
	return &Service{directory: directory, ledger: ledger}
}

// StartConversation returns the conversation between the caller and
// receiverID; created is true when this call made it.
func (s *Service) StartConversation(ctx context.Context, callerID, receiverID string) (*conversation.Conversation, bool, error) {
	convo, created, err := s.directory.Start(ctx, callerID, receiverID)
	if err != nil {
		s.logFailure("start", callerID, receiverID, err)
		return nil, false, err
	}
	if created {
		jww.INFO.Printf("chat: conversation %s created by %s", convo.ID, callerID)
	}
	return convo, created, nil
}

// GetConversation returns a conversation the caller participates in. One the
// caller is not part of is reported as not found.
func (s *Service) GetConversation(ctx context.Context, callerID, conversationID string) (*conversation.Conversation, error) {
	convo, err := s.directory.Get(ctx, conversationID)
	if err != nil {
		s.logFailure("get", callerID, conversationID, err)
		return nil, err
	}
	if err := access.Authorize(convo, callerID, access.Read); err != nil {
		jww.DEBUG.Printf("chat: get denied caller=%s conversation=%s", callerID, convo.ID)
		return nil, apperr.NotFound("conversation not found")
	}
	return convo, nil
}

// SendMessage appends text from the caller to the other participant. The
// conversation's last-message pointer is best effort: if it cannot be
// updated the message is still returned.
func (s *Service) SendMessage(ctx context.Context, callerID, conversationID, text string) (*message.Message, error) {
	convo, err := s.load(ctx, "send", callerID, conversationID, access.Write)
	if err != nil {
		return nil, err
	}

	receiverID, _ := convo.Other(callerID)
	msg, err := s.ledger.Append(ctx, convo.ID, callerID, receiverID, text)
	if err != nil {
		s.logFailure("send", callerID, convo.ID, err)
		return nil, err
	}

	if err := s.directory.RecordMessage(ctx, convo.ID, msg.ID, msg.CreatedAt); err != nil {
		jww.WARN.Printf("chat: last-message pointer not updated conversation=%s message=%s: %v",
			convo.ID, msg.ID, err)
	}
	return msg, nil
}

// ListMessages returns the conversation's messages oldest first and marks the
// ones addressed to the caller as read.
func (s *Service) ListMessages(ctx context.Context, callerID, conversationID string) ([]*message.Message, error) {
	convo, err := s.load(ctx, "list-messages", callerID, conversationID, access.Read)
	if err != nil {
		return nil, err
	}

	msgs, err := s.ledger.ListByConversation(ctx, convo.ID)
	if err != nil {
		s.logFailure("list-messages", callerID, convo.ID, err)
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	if _, err := s.ledger.MarkObservedRead(ctx, convo.ID, callerID, msgs); err != nil {
		s.logFailure("mark-read", callerID, convo.ID, err)
		return nil, err
	}
	for _, m := range msgs {
		if m.ReceiverID == callerID {
			m.IsRead = true
		}
	}
	return msgs, nil
}

// ListConversations returns the caller's conversations with per-conversation
// unread counts from a single aggregate query.
func (s *Service) ListConversations(ctx context.Context, callerID string) (*ConversationList, error) {
	convos, err := s.directory.ListForUser(ctx, callerID)
	if err != nil {
		s.logFailure("list-conversations", callerID, "", err)
		return nil, err
	}
	counts, err := s.ledger.CountUnreadByConversation(ctx, callerID)
	if err != nil {
		s.logFailure("list-conversations", callerID, "", err)
		return nil, err
	}

	list := &ConversationList{Conversations: make([]ConversationSummary, 0, len(convos))}
	for _, c := range convos {
		unread := counts[c.ID]
		list.Conversations = append(list.Conversations, ConversationSummary{Conversation: c, UnreadCount: unread})
		list.TotalUnread += unread
	}
	return list, nil
}

// UnreadCount returns the caller's unread messages across all conversations.
func (s *Service) UnreadCount(ctx context.Context, callerID string) (int, error) {
	n, err := s.ledger.CountUnread(ctx, callerID)
	if err != nil {
		s.logFailure("unread-count", callerID, "", err)
		return 0, err
	}
	return n, nil
}

// DeleteConversation removes the conversation's messages, then the
// conversation itself.
func (s *Service) DeleteConversation(ctx context.Context, callerID, conversationID string) (*DeleteResult, error) {
	convo, err := s.load(ctx, "delete", callerID, conversationID, access.Delete)
	if err != nil {
		return nil, err
	}

	deleted, err := s.ledger.DeleteByConversation(ctx, convo.ID)
	if err != nil {
		s.logFailure("delete", callerID, convo.ID, err)
		return nil, err
	}
	if err := s.directory.Delete(ctx, convo.ID); err != nil {
		s.logFailure("delete", callerID, convo.ID, err)
		return nil, err
	}

	jww.INFO.Printf("chat: conversation %s deleted by %s (%d messages)", convo.ID, callerID, deleted)
	return &DeleteResult{ConversationID: convo.ID, MessagesDeleted: deleted}, nil
}

// load fetches the conversation and authorizes the caller. A missing
// conversation has no participants, so it is denied like any other.
func (s *Service) load(ctx context.Context, op, callerID, conversationID string, want access.Operation) (*conversation.Conversation, error) {
	convo, err := s.directory.Get(ctx, conversationID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		s.logFailure(op, callerID, conversationID, err)
		return nil, err
	}
	if err := access.Authorize(convo, callerID, want); err != nil {
		jww.DEBUG.Printf("chat: %s denied caller=%s conversation=%s", op, callerID, conversationID)
		return nil, err
	}
	return convo, nil
}

func (s *Service) logFailure(op, callerID, target string, err error) {
	if apperr.KindOf(err) != apperr.KindInternal {
		return
	}
	jww.ERROR.Printf("chat: %s failed caller=%s target=%s: %+v", op, callerID, target, err)
}
