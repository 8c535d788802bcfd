package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
	"github.com/zhouzirui/emochat/backend/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Ping(context.Background()))
	require.NoError(t, second.Close())
}

func TestQueryUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	alice, err := store.CreateUser(ctx, "Alice", "secret", "10.0.0.2")
	require.NoError(t, err)

	got, err := store.QueryUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Nickname)
	assert.Equal(t, "10.0.0.2", got.IPAddress)

	_, err = store.QueryUser(ctx, alice.ID+100)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateUserRejectsDuplicateNickname(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "Alice", "a", "")
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, "Alice", "b", "")
	require.Error(t, err)
}

func TestBindAvatarReplacesExistingBinding(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "Bob", "pw", "")
	require.NoError(t, err)

	_, found, err := store.QueryAvatarBinding(ctx, user.ID, emotion.Happy)
	require.NoError(t, err)
	assert.False(t, found)

	first, err := store.BindAvatar(ctx, user.ID, emotion.Happy, "/static/avatars/u1_happy.png")
	require.NoError(t, err)
	second, err := store.BindAvatar(ctx, user.ID, emotion.Happy, "/static/avatars/u1_happy.jpg")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	path, found, err := store.QueryAvatarBinding(ctx, user.ID, emotion.Happy)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/static/avatars/u1_happy.jpg", path)

	var rows int
	require.NoError(t, store.sqlDB.QueryRow(
		`SELECT COUNT(*) FROM avatars WHERE user_id = ? AND emotion_tag = ?`, user.ID, "happy",
	).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestBindAvatarRejectsUnknownLabel(t *testing.T) {
	store := openTestStore(t)
	_, err := store.BindAvatar(context.Background(), 1, emotion.Label("bored"), "/x.png")
	require.Error(t, err)
}

func TestQueryRecentNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	alice, err := store.CreateUser(ctx, "Alice", "pw", "")
	require.NoError(t, err)

	for _, content := range []string{"A", "B", "C", "D"} {
		_, err := store.SaveEvent(ctx, alice.ID, content, emotion.Neutral)
		require.NoError(t, err)
	}

	events, err := store.QueryRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "D", events[0].Content)
	assert.Equal(t, "C", events[1].Content)
	assert.Equal(t, "B", events[2].Content)
	assert.Equal(t, "Alice", events[0].SenderDisplayName)
}

func TestQueryRecentEmptyAndUnknownSender(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events, err := store.QueryRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = store.SaveEvent(ctx, 42, "orphan", emotion.Sad)
	require.NoError(t, err)

	events, err = store.QueryRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "", events[0].SenderDisplayName)
	assert.Equal(t, emotion.Sad, events[0].Emotion)
}

func TestSaveEventRejectsInvalidLabel(t *testing.T) {
	store := openTestStore(t)
	_, err := store.SaveEvent(context.Background(), 1, "hi", emotion.Label("Happy."))
	require.Error(t, err)
}

func TestQueryUserByNickname(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	carol, err := store.CreateUser(ctx, "Carol", "hash", "")
	require.NoError(t, err)

	got, err := store.QueryUserByNickname(ctx, " Carol ")
	require.NoError(t, err)
	assert.Equal(t, carol.ID, got.ID)

	_, err = store.QueryUserByNickname(ctx, "carol")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
