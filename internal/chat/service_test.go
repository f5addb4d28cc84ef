package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-im/dm/internal/apperr"
	"github.com/nexus-im/dm/internal/directory"
	"github.com/nexus-im/dm/internal/ledger"
	"github.com/nexus-im/dm/store/conversation"
	"github.com/nexus-im/dm/store/message"
	"github.com/nexus-im/dm/store/user"
	"github.com/nexus-im/dm/tests/testutil"
)

type harness struct {
	svc   *Service
	dir   *directory.Directory
	led   *ledger.Ledger
	db    *testutil.DB
	alice string
	bob   string
	carol string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.OpenSQLite(t)
	dir := directory.New(conversation.NewSQLStore(db.DB), user.NewSQLStore(db.DB))
	led := ledger.New(message.NewSQLStore(db.DB))
	return &harness{
		svc:   NewService(dir, led),
		dir:   dir,
		led:   led,
		db:    db,
		alice: testutil.SeedUser(t, db.DB, "alice"),
		bob:   testutil.SeedUser(t, db.DB, "bob"),
		carol: testutil.SeedUser(t, db.DB, "carol"),
	}
}

func TestEndToEndScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	convo, created, err := h.svc.StartConversation(ctx, h.alice, h.bob)
	require.NoError(t, err)
	require.True(t, created)

	msg, err := h.svc.SendMessage(ctx, h.alice, convo.ID, "hi")
	require.NoError(t, err)
	assert.False(t, msg.IsRead)
	assert.Equal(t, h.bob, msg.ReceiverID)

	list, err := h.svc.ListConversations(ctx, h.bob)
	require.NoError(t, err)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)
	assert.Equal(t, 1, list.TotalUnread)
	require.NotNil(t, list.Conversations[0].Conversation.LastMessageID)
	assert.Equal(t, msg.ID, *list.Conversations[0].Conversation.LastMessageID)

	msgs, err := h.svc.ListMessages(ctx, h.bob, convo.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsRead)

	list, err = h.svc.ListConversations(ctx, h.bob)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Conversations[0].UnreadCount)
	assert.Equal(t, 0, list.TotalUnread)

	res, err := h.svc.DeleteConversation(ctx, h.alice, convo.ID)
	require.NoError(t, err)
	assert.Equal(t, convo.ID, res.ConversationID)
	assert.EqualValues(t, 1, res.MessagesDeleted)

	_, err = h.svc.GetConversation(ctx, h.bob, convo.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = h.dir.Get(ctx, convo.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	left, err := h.led.ListByConversation(ctx, convo.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSenderListingDoesNotMarkRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	convo, _, err := h.svc.StartConversation(ctx, h.alice, h.bob)
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, h.alice, convo.ID, "ping")
	require.NoError(t, err)

	msgs, err := h.svc.ListMessages(ctx, h.alice, convo.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsRead)

	n, err := h.svc.UnreadCount(ctx, h.bob)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNonParticipantIsForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	convo, _, err := h.svc.StartConversation(ctx, h.alice, h.bob)
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, h.alice, convo.ID, "secret")
	require.NoError(t, err)

	_, err = h.svc.ListMessages(ctx, h.carol, convo.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = h.svc.SendMessage(ctx, h.carol, convo.ID, "let me in")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = h.svc.DeleteConversation(ctx, h.carol, convo.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = h.svc.GetConversation(ctx, h.carol, convo.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "existence is not revealed to outsiders")

	// Nothing leaked or changed.
	n, err := h.svc.UnreadCount(ctx, h.bob)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = h.dir.Get(ctx, convo.ID)
	require.NoError(t, err)
}

func TestMissingConversationIsForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	missing := uuid.NewString()

	existing, _, err := h.svc.StartConversation(ctx, h.alice, h.bob)
	require.NoError(t, err)

	// An outsider gets the same answer whether or not the id exists.
	for _, id := range []string{missing, existing.ID} {
		_, err = h.svc.ListMessages(ctx, h.carol, id)
		assert.True(t, apperr.Is(err, apperr.KindForbidden), id)
		_, err = h.svc.SendMessage(ctx, h.carol, id, "hi")
		assert.True(t, apperr.Is(err, apperr.KindForbidden), id)
		_, err = h.svc.DeleteConversation(ctx, h.carol, id)
		assert.True(t, apperr.Is(err, apperr.KindForbidden), id)
		_, err = h.svc.GetConversation(ctx, h.carol, id)
		assert.True(t, apperr.Is(err, apperr.KindNotFound), id)
	}

	_, err = h.svc.ListMessages(ctx, h.alice, missing)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	_, err = h.svc.ListMessages(ctx, h.alice, "not-an-id")
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, err = h.dir.Get(ctx, missing)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListingLeavesLaterMessagesUnread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	convo, _, err := h.svc.StartConversation(ctx, h.alice, h.bob)
	require.NoError(t, err)

	_, err = h.svc.SendMessage(ctx, h.alice, convo.ID, "seen")
	require.NoError(t, err)
	msgs, err := h.svc.ListMessages(ctx, h.bob, convo.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = h.svc.SendMessage(ctx, h.alice, convo.ID, "not yet seen")
	require.NoError(t, err)

	n, err := h.svc.UnreadCount(ctx, h.bob)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStartConversationValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.svc.StartConversation(ctx, h.alice, h.alice)
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, _, err = h.svc.StartConversation(ctx, h.alice, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, _, err = h.svc.StartConversation(ctx, h.alice, uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	first, created, err := h.svc.StartConversation(ctx, h.alice, h.bob)
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := h.svc.StartConversation(ctx, h.bob, h.alice)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestSendMessageTextBounds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	convo, _, err := h.svc.StartConversation(ctx, h.alice, h.bob)
	require.NoError(t, err)

	_, err = h.svc.SendMessage(ctx, h.alice, convo.ID, "   ")
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	msgs, err := h.svc.ListMessages(ctx, h.alice, convo.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected text must not be stored")
}

func TestListConversationsOrderAndCounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	withBob, _, err := h.svc.StartConversation(ctx, h.alice, h.bob)
	require.NoError(t, err)
	withCarol, _, err := h.svc.StartConversation(ctx, h.carol, h.alice)
	require.NoError(t, err)

	_, err = h.svc.SendMessage(ctx, h.carol, withCarol.ID, "one")
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, h.carol, withCarol.ID, "two")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = h.svc.SendMessage(ctx, h.bob, withBob.ID, "three")
	require.NoError(t, err)

	list, err := h.svc.ListConversations(ctx, h.alice)
	require.NoError(t, err)
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, withBob.ID, list.Conversations[0].Conversation.ID)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)
	assert.Equal(t, withCarol.ID, list.Conversations[1].Conversation.ID)
	assert.Equal(t, 2, list.Conversations[1].UnreadCount)
	assert.Equal(t, 3, list.TotalUnread)

	total, err := h.svc.UnreadCount(ctx, h.alice)
	require.NoError(t, err)
	assert.Equal(t, list.TotalUnread, total)

	empty, err := h.svc.ListConversations(ctx, testutil.SeedUser(t, h.db.DB, "dave"))
	require.NoError(t, err)
	assert.Empty(t, empty.Conversations)
}

// brokenPointer fails every last-message update.
type brokenPointer struct {
	Directory
	calls int
}

func (b *brokenPointer) RecordMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	b.calls++
	return apperr.Internal(errors.New("connection reset"))
}

func TestSendMessageSurvivesPointerFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	broken := &brokenPointer{Directory: h.dir}
	svc := NewService(broken, h.led)

	convo, _, err := svc.StartConversation(ctx, h.alice, h.bob)
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, h.alice, convo.ID, "still here")
	require.NoError(t, err)
	assert.Equal(t, 1, broken.calls)

	msgs, err := svc.ListMessages(ctx, h.bob, convo.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)

	reloaded, err := h.dir.Get(ctx, convo.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.LastMessageID)
}
