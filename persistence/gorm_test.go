package persistence

import (
	"testing"
	"time"

	"github.com/streamcart/livechat/config"
	"github.com/streamcart/livechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	cfg := &config.Config{
		PersistenceConfig: config.PersistenceConfig{Type: "sqlite", DSN: "file::memory:?cache=shared"},
	}
	store, err := NewGormStore(cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { store.Close() })
	return store
}

func storeTestMessage(t *testing.T, store Store, streamId, body string, ts time.Time) types.ChatMessage {
	t.Helper()
	msg := types.ChatMessage{
		Id:          types.NewMessageId(ts),
		StreamId:    streamId,
		UserId:      "u1",
		DisplayName: "Alice",
		Body:        body,
		Timestamp:   ts,
	}
	require.NoError(t, store.StoreMessage(msg))
	return msg
}

func TestMessageHistoryOrderingAndSoftDelete(t *testing.T) {
	store := newTestStore(t)
	streamId := "stream-history"
	base := time.Now().Add(-time.Minute)

	storeTestMessage(t, store, streamId, "first", base)
	second := storeTestMessage(t, store, streamId, "second", base.Add(time.Second))
	storeTestMessage(t, store, streamId, "third", base.Add(2*time.Second))

	messages, err := store.GetMessageHistory(streamId, 10)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{messages[0].Body, messages[1].Body, messages[2].Body}, "oldest first")

	// limit keeps the most recent messages
	messages, err = store.GetMessageHistory(streamId, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "second", messages[0].Body)

	require.NoError(t, store.SoftDeleteMessage(second.Id, "owner", time.Now()))

	messages, err = store.GetMessageHistory(streamId, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, []string{"first", "third"}, []string{messages[0].Body, messages[1].Body})

	// the soft-deleted record stays retrievable by id for audit
	audit, err := store.GetMessage(second.Id)
	require.NoError(t, err)
	assert.True(t, audit.Deleted)
	assert.Equal(t, "owner", audit.DeletedByUserId)
	require.NotNil(t, audit.DeletedAt)
}

func TestSoftDeleteUnknownMessage(t *testing.T) {
	store := newTestStore(t)
	err := store.SoftDeleteMessage("nope", "owner", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMessageNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetMessage("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBanUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	streamId := "stream-bans"

	require.NoError(t, store.UpsertBan(types.BanRecord{
		StreamId: streamId, UserId: "u2", BannedByUserId: "owner", Reason: "spam", IsActive: true,
	}))
	require.NoError(t, store.UpsertBan(types.BanRecord{
		StreamId: streamId, UserId: "u2", BannedByUserId: "owner", Reason: "worse spam", IsActive: true,
	}))

	bans, err := store.GetActiveBans(streamId)
	require.NoError(t, err)
	require.Len(t, bans, 1, "re-banning must not create a duplicate record")
	assert.Equal(t, "worse spam", bans[0].Reason)
}

func TestDeactivateBan(t *testing.T) {
	store := newTestStore(t)
	streamId := "stream-unban"

	require.NoError(t, store.UpsertBan(types.BanRecord{
		StreamId: streamId, UserId: "u2", BannedByUserId: "owner", IsActive: true,
	}))
	require.NoError(t, store.DeactivateBan(streamId, "u2"))

	bans, err := store.GetActiveBans(streamId)
	require.NoError(t, err)
	assert.Empty(t, bans)

	// the record is kept for audit, only deactivated
	ban, err := store.GetBan(streamId, "u2")
	require.NoError(t, err)
	assert.False(t, ban.IsActive)

	// deactivating a pair that was never banned is a no-op
	require.NoError(t, store.DeactivateBan(streamId, "nobody"))
}

func TestDeactivateExpiredBans(t *testing.T) {
	store := newTestStore(t)
	streamId := "stream-expiry"
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, store.UpsertBan(types.BanRecord{
		StreamId: streamId, UserId: "expired", BannedByUserId: "owner", ExpiresAt: &past, IsActive: true,
	}))
	require.NoError(t, store.UpsertBan(types.BanRecord{
		StreamId: streamId, UserId: "current", BannedByUserId: "owner", ExpiresAt: &future, IsActive: true,
	}))
	require.NoError(t, store.UpsertBan(types.BanRecord{
		StreamId: streamId, UserId: "forever", BannedByUserId: "owner", IsActive: true,
	}))

	n, err := store.DeactivateExpiredBans(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	bans, err := store.GetActiveBans(streamId)
	require.NoError(t, err)
	require.Len(t, bans, 2)
	for _, ban := range bans {
		assert.NotEqual(t, "expired", ban.UserId)
	}
}

func TestCloseReleasesConnections(t *testing.T) {
	cfg := &config.Config{
		PersistenceConfig: config.PersistenceConfig{Type: "sqlite", DSN: "file::memory:?cache=shared"},
	}
	store, err := NewGormStore(cfg)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	_, err = store.GetMessage("anything")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound, "queries after Close must fail on the closed pool")
}

func TestStreamRecords(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.StoreStream(types.Stream{Id: "s1", OwnerUserId: "owner", Title: "Launch"}))
	stream, err := store.GetStream("s1")
	require.NoError(t, err)
	assert.Equal(t, "owner", stream.OwnerUserId)

	// upsert updates in place
	require.NoError(t, store.StoreStream(types.Stream{Id: "s1", OwnerUserId: "owner", Title: "Relaunch"}))
	stream, err = store.GetStream("s1")
	require.NoError(t, err)
	assert.Equal(t, "Relaunch", stream.Title)

	_, err = store.GetStream("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
