// Package directory owns conversation identity: the canonical participant
// pair, the uniqueness policy, and creation under concurrent start calls.
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/nexus-im/dm/internal/apperr"
	"github.com/nexus-im/dm/store/conversation"
	"github.com/nexus-im/dm/store/user"
)

// Policy selects how many conversations a pair of users may hold.
type Policy string

const (
	// PolicySingleton allows at most one conversation per unordered pair.
	PolicySingleton Policy = "singleton"
	// PolicyMultiple creates a new conversation on every start.
	PolicyMultiple Policy = "multiple"
)

// ParsePolicy accepts "singleton"/"s" and "multiple"/"m", case-insensitive.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "singleton", "s":
		return PolicySingleton, nil
	case "multiple", "m":
		return PolicyMultiple, nil
	}
	return "", fmt.Errorf("unknown conversation policy %q", s)
}

// maxStartAttempts bounds the read-insert loop when the winning row of a
// create race disappears before it can be re-read.
const maxStartAttempts = 3

// UserLookup is used to verify a counterpart exists.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

// Directory resolves and manages conversations between two users.
type Directory struct {
	store             conversation.Store
	users             UserLookup
	policy            Policy
	verifyCounterpart bool
}

// Option configures a Directory.
type Option func(*Directory)

// WithPolicy sets the uniqueness policy. The default is PolicySingleton.
func WithPolicy(p Policy) Option {
	return func(d *Directory) { d.policy = p }
}

// WithCounterpartCheck enables or disables the existence check on the other
// user during Start. It is enabled by default and needs a UserLookup.
func WithCounterpartCheck(enabled bool) Option {
	return func(d *Directory) { d.verifyCounterpart = enabled }
}

// New creates a Directory. users may be nil when the counterpart check is
// disabled.
func New(store conversation.Store, users UserLookup, opts ...Option) *Directory {
	d := &Directory{
		store:             store,
		users:             users,
		policy:            PolicySingleton,
		verifyCounterpart: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.users == nil {
		d.verifyCounterpart = false
	}
	return d
}

// Policy returns the configured uniqueness policy.
func (d *Directory) Policy() Policy {
	return d.policy
}

// ParseID validates a user or conversation id and returns its canonical form.
func ParseID(field, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", apperr.InvalidArgument(field + " is required")
	}
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", apperr.InvalidArgument(field + " is malformed")
	}
	return parsed.String(), nil
}

// Normalize returns the canonical pair for two participants. It rejects
// malformed ids and self-chat before anything is persisted.
func Normalize(callerID, otherID string) (low, high string, err error) {
	caller, err := ParseID("caller id", callerID)
	if err != nil {
		return "", "", err
	}
	other, err := ParseID("receiverId", otherID)
	if err != nil {
		return "", "", err
	}
	switch {
	case caller == other:
		return "", "", apperr.InvalidArgument("cannot start a conversation with yourself")
	case caller < other:
		return caller, other, nil
	default:
		return other, caller, nil
	}
}

// Start returns the conversation between callerID and otherID. created
// reports whether this call inserted it. Under PolicySingleton concurrent
// callers converge on one row: a losing insert re-reads the winner.
func (d *Directory) Start(ctx context.Context, callerID, otherID string) (convo *conversation.Conversation, created bool, err error) {
	low, high, err := Normalize(callerID, otherID)
	if err != nil {
		return nil, false, err
	}

	if d.verifyCounterpart {
		other, _ := ParseID("receiverId", otherID)
		if _, err := d.users.GetByID(ctx, other); err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				return nil, false, apperr.NotFound("receiver not found")
			}
			return nil, false, apperr.Internal(errors.Wrap(err, "directory.Start.GetUser"))
		}
	}

	if d.policy == PolicyMultiple {
		convo = &conversation.Conversation{ParticipantLow: low, ParticipantHigh: high}
		if err := d.store.Create(ctx, convo); err != nil {
			return nil, false, apperr.Internal(errors.Wrap(err, "directory.Start.Create"))
		}
		return convo, true, nil
	}

	for attempt := 0; attempt < maxStartAttempts; attempt++ {
		existing, err := d.store.GetByPair(ctx, low, high)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, conversation.ErrConversationNotFound) {
			return nil, false, apperr.Internal(errors.Wrap(err, "directory.Start.GetByPair"))
		}

		convo, err = d.createSingleton(ctx, low, high)
		if err == nil {
			return convo, true, nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return nil, false, err
		}
		jww.DEBUG.Printf("directory: lost create race for pair %s/%s, re-reading", low, high)
	}
	return nil, false, apperr.Internal(errors.Errorf(
		"directory.Start: pair %s/%s still contended after %d attempts", low, high, maxStartAttempts))
}

// createSingleton inserts the pair's singleton row. A concurrent winner
// surfaces as a Conflict, which Start resolves by re-reading.
func (d *Directory) createSingleton(ctx context.Context, low, high string) (*conversation.Conversation, error) {
	convo := &conversation.Conversation{ParticipantLow: low, ParticipantHigh: high, Singleton: true}
	if err := d.store.Create(ctx, convo); err != nil {
		if errors.Is(err, conversation.ErrDuplicatePair) {
			return nil, apperr.Conflict("conversation already exists for this pair")
		}
		return nil, apperr.Internal(errors.Wrap(err, "directory.Start.Create"))
	}
	return convo, nil
}

// Get returns the conversation with id.
func (d *Directory) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	id, err := ParseID("conversation id", id)
	if err != nil {
		return nil, err
	}
	convo, err := d.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, apperr.Internal(errors.Wrap(err, "directory.Get"))
	}
	return convo, nil
}

// ListForUser returns userID's conversations, most recently updated first.
func (d *Directory) ListForUser(ctx context.Context, userID string) ([]*conversation.Conversation, error) {
	convos, err := d.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(errors.Wrap(err, "directory.ListForUser"))
	}
	return convos, nil
}

// RecordMessage points the conversation at its newest message.
func (d *Directory) RecordMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	if err := d.store.UpdateLastMessage(ctx, conversationID, messageID, at); err != nil {
		return apperr.Internal(errors.Wrap(err, "directory.RecordMessage"))
	}
	return nil
}

// Delete removes the conversation. Callers remove its messages first.
func (d *Directory) Delete(ctx context.Context, id string) error {
	id, err := ParseID("conversation id", id)
	if err != nil {
		return err
	}
	if err := d.store.Delete(ctx, id); err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return apperr.NotFound("conversation not found")
		}
		return apperr.Internal(errors.Wrap(err, "directory.Delete"))
	}
	return nil
}
