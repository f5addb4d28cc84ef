package access

import (
	"github.com/nexus-im/dm/internal/apperr"
	"github.com/nexus-im/dm/store/conversation"
)

// Operation is an action on a conversation.
type Operation string

const (
	Read   Operation = "read"
	Write  Operation = "write"
	Delete Operation = "delete"
)

// Authorize allows op only for the conversation's two participants.
func Authorize(convo *conversation.Conversation, userID string, op Operation) error {
	if convo == nil || !convo.HasParticipant(userID) {
		return apperr.Forbidden("not a participant of this conversation")
	}
	switch op {
	case Read, Write, Delete:
		return nil
	}
	return apperr.Forbidden("operation not permitted")
}
