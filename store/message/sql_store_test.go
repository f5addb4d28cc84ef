package message

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-im/dm/store/sqldb"
	"github.com/nexus-im/dm/tests/testutil"
)

func seedConversation(t *testing.T, db *testutil.DB, id, low, high string) {
	t.Helper()
	now := sqldb.Now()
	_, err := db.Exec(`
		INSERT INTO conversations (id, participant_low, participant_high, singleton, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, low, high, true, now, now)
	require.NoError(t, err)
}

func TestCreateAndListOrdered(t *testing.T) {
	db := testutil.OpenSQLite(t)
	seedConversation(t, db, "c1", "a", "b")
	store := NewSQLStore(db.DB)
	ctx := context.Background()

	same := sqldb.Now()
	first := &Message{ConversationID: "c1", SenderID: "a", ReceiverID: "b", Text: "first", CreatedAt: same}
	second := &Message{ConversationID: "c1", SenderID: "b", ReceiverID: "a", Text: "second", CreatedAt: same}
	third := &Message{ConversationID: "c1", SenderID: "a", ReceiverID: "b", Text: "third"}
	for _, m := range []*Message{first, second, third} {
		require.NoError(t, store.Create(ctx, m))
		assert.False(t, m.IsRead)
	}

	list, err := store.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].CreatedAt.Before(list[i-1].CreatedAt))
	}
	assert.True(t, first.CreatedAt.Equal(list[0].CreatedAt))

	empty, err := store.ListByConversation(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCreateMissingConversation(t *testing.T) {
	db := testutil.OpenSQLite(t)
	store := NewSQLStore(db.DB)

	err := store.Create(context.Background(), &Message{ConversationID: "gone", SenderID: "a", ReceiverID: "b", Text: "hi"})
	assert.ErrorIs(t, err, ErrConversationMissing)
}

func TestUnreadAggregationAndMarkRead(t *testing.T) {
	db := testutil.OpenSQLite(t)
	seedConversation(t, db, "c1", "a", "b")
	seedConversation(t, db, "c2", "a", "c")
	store := NewSQLStore(db.DB)
	ctx := context.Background()

	send := func(convo, from, to string) *Message {
		m := &Message{ConversationID: convo, SenderID: from, ReceiverID: to, Text: "x"}
		require.NoError(t, store.Create(ctx, m))
		return m
	}
	send("c1", "b", "a")
	send("c1", "b", "a")
	send("c1", "a", "b")
	send("c2", "c", "a")

	total, err := store.CountUnread(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	byConvo, err := store.CountUnreadByConversation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 2, "c2": 1}, byConvo)

	n, err := store.MarkAllRead(ctx, "c1", "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = store.MarkAllRead(ctx, "c1", "a")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	total, err = store.CountUnread(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	// b's unread message in c1 is untouched by a's read.
	bUnread, err := store.CountUnread(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, bUnread)
}

func TestMarkReadOnlyObserved(t *testing.T) {
	db := testutil.OpenSQLite(t)
	seedConversation(t, db, "c1", "a", "b")
	store := NewSQLStore(db.DB)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	seen := &Message{ConversationID: "c1", SenderID: "a", ReceiverID: "b", Text: "seen", CreatedAt: base.Add(time.Second)}
	require.NoError(t, store.Create(ctx, seen))

	observed, err := store.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, observed, 1)

	// Stamped before the observed message but committed after the listing.
	late := &Message{ConversationID: "c1", SenderID: "a", ReceiverID: "b", Text: "late", CreatedAt: base}
	require.NoError(t, store.Create(ctx, late))

	n, err := store.MarkRead(ctx, "c1", "b", []string{observed[0].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	list, err := store.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, late.ID, list[0].ID)
	assert.False(t, list[0].IsRead)
	assert.Equal(t, seen.ID, list[1].ID)
	assert.True(t, list[1].IsRead)

	unread, err := store.CountUnread(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestMarkReadIgnoresOtherRecipients(t *testing.T) {
	db := testutil.OpenSQLite(t)
	seedConversation(t, db, "c1", "a", "b")
	store := NewSQLStore(db.DB)
	ctx := context.Background()

	toA := &Message{ConversationID: "c1", SenderID: "b", ReceiverID: "a", Text: "to a"}
	toB := &Message{ConversationID: "c1", SenderID: "a", ReceiverID: "b", Text: "to b"}
	require.NoError(t, store.Create(ctx, toA))
	require.NoError(t, store.Create(ctx, toB))

	n, err := store.MarkRead(ctx, "c1", "a", []string{toA.ID, toB.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.MarkRead(ctx, "c1", "a", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	unread, err := store.CountUnread(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestMarkReadPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`AND id IN ($6, $7)`)).
		WithArgs(true, sqlmock.AnyArg(), "c1", "b", false, "m1", "m2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.MarkRead(context.Background(), "c1", "b", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByConversation(t *testing.T) {
	db := testutil.OpenSQLite(t)
	seedConversation(t, db, "c1", "a", "b")
	seedConversation(t, db, "c2", "a", "c")
	store := NewSQLStore(db.DB)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, &Message{ConversationID: "c1", SenderID: "a", ReceiverID: "b", Text: "x"}))
	}
	require.NoError(t, store.Create(ctx, &Message{ConversationID: "c2", SenderID: "a", ReceiverID: "c", Text: "x"}))

	n, err := store.DeleteByConversation(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	left, err := store.ListByConversation(ctx, "c2")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestCreatePostgresForeignKeyViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(sqlmock.AnyArg(), "c1", "a", "b", "hi", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23503"})

	store := NewSQLStore(db)
	err = store.Create(context.Background(), &Message{ConversationID: "c1", SenderID: "a", ReceiverID: "b", Text: "hi"})
	assert.ErrorIs(t, err, ErrConversationMissing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountUnreadByConversationPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY conversation_id")).
		WithArgs("u1", false).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "count"}).
			AddRow("c1", 4).
			AddRow("c2", 1))

	store := NewSQLStore(db)
	counts, err := store.CountUnreadByConversation(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 4, "c2": 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}
