package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
	model "github.com/zhouzirui/emochat/backend/internal/model/chat"
	"github.com/zhouzirui/emochat/backend/internal/service/avatar"
	chat "github.com/zhouzirui/emochat/backend/internal/service/chat"
	"github.com/zhouzirui/emochat/backend/internal/service/history"
	"github.com/zhouzirui/emochat/backend/internal/storage/memory"
)

type stubClassifier struct {
	label   emotion.Label
	history []model.HistoryEntry
	message string
	calls   int
}

func (c *stubClassifier) Classify(_ context.Context, history []model.HistoryEntry, message string) emotion.Label {
	c.calls++
	c.history = history
	c.message = message
	return c.label
}

type recordingHub struct {
	mu     sync.Mutex
	frames []any
}

func (h *recordingHub) Broadcast(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, v)
}

func (h *recordingHub) received() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.frames...)
}

type failingPersister struct{ err error }

func (p failingPersister) SaveEvent(context.Context, int64, string, emotion.Label) (model.Event, error) {
	return model.Event{}, p.err
}

type failingHistory struct{}

func (failingHistory) Recent(context.Context, int) ([]model.HistoryEntry, error) {
	return nil, errors.New("database is locked")
}

type fixture struct {
	store      *memory.Store
	classifier *stubClassifier
	hub        *recordingHub
	deps       chat.Dependencies
}

func newFixture(label emotion.Label) *fixture {
	store := memory.NewStore()
	f := &fixture{
		store:      store,
		classifier: &stubClassifier{label: label},
		hub:        &recordingHub{},
	}
	f.deps = chat.Dependencies{
		History:    history.NewProvider(store),
		Classifier: f.classifier,
		Persister:  store,
		Avatars:    avatar.NewResolver(store, "", nil),
		Users:      store,
		Hub:        f.hub,
	}
	return f
}

func (f *fixture) service(t *testing.T) *chat.Service {
	t.Helper()
	svc, err := chat.NewService(f.deps, 10, nil)
	require.NoError(t, err)
	return svc
}

func TestHandleEndToEnd(t *testing.T) {
	f := newFixture(emotion.Happy)
	ctx := context.Background()
	alice, err := f.store.CreateUser(ctx, "Alice", "pw", "127.0.0.1")
	require.NoError(t, err)

	out, err := f.service(t).Handle(ctx, alice.ID, "I'm so happy today!")
	require.NoError(t, err)

	want := model.Broadcast{
		UserID:   alice.ID,
		Nickname: "Alice",
		Content:  "I'm so happy today!",
		Emotion:  emotion.Happy,
		Avatar:   "/static/default_avatar.png",
	}
	assert.Equal(t, want, out)
	assert.Equal(t, []any{want}, f.hub.received())
	assert.Empty(t, f.classifier.history)

	events, err := f.store.QueryRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, emotion.Happy, events[0].Emotion)
	assert.Equal(t, "I'm so happy today!", events[0].Content)
}

func TestHandleUsesBoundAvatar(t *testing.T) {
	f := newFixture(emotion.Sad)
	ctx := context.Background()
	bob, err := f.store.CreateUser(ctx, "Bob", "pw", "")
	require.NoError(t, err)
	_, err = f.store.BindAvatar(ctx, bob.ID, emotion.Neutral, "/static/avatars/bob_neutral.png")
	require.NoError(t, err)

	out, err := f.service(t).Handle(ctx, bob.ID, "my cat ran away")
	require.NoError(t, err)
	assert.Equal(t, "/static/avatars/bob_neutral.png", out.Avatar)
}

func TestHandleRejectsBlankContent(t *testing.T) {
	f := newFixture(emotion.Happy)
	svc := f.service(t)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.Handle(context.Background(), 1, content)
		require.ErrorIs(t, err, chat.ErrEmptyContent)
	}
	assert.Zero(t, f.classifier.calls)
	assert.Empty(t, f.hub.received())

	events, err := f.store.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHandlePersistFailureAbortsBroadcast(t *testing.T) {
	f := newFixture(emotion.Angry)
	f.deps.Persister = failingPersister{err: errors.New("disk full")}

	_, err := f.service(t).Handle(context.Background(), 1, "I'm furious")
	require.ErrorIs(t, err, chat.ErrPersist)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, f.hub.received())
}

func TestHandleHistoryFailureDegrades(t *testing.T) {
	f := newFixture(emotion.Surprised)
	f.deps.History = failingHistory{}

	out, err := f.service(t).Handle(context.Background(), 1, "no way!")
	require.NoError(t, err)
	assert.Equal(t, emotion.Surprised, out.Emotion)
	assert.Equal(t, 1, f.classifier.calls)
	assert.Empty(t, f.classifier.history)
}

func TestHandleUnknownSenderGetsPlaceholder(t *testing.T) {
	f := newFixture(emotion.Neutral)

	out, err := f.service(t).Handle(context.Background(), 404, "hello?")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownSender, out.Nickname)
	assert.Len(t, f.hub.received(), 1)
}

func TestHandleCoercesInvalidLabel(t *testing.T) {
	f := newFixture(emotion.Label("Joyful"))

	out, err := f.service(t).Handle(context.Background(), 1, "hi")
	require.NoError(t, err)
	assert.Equal(t, emotion.Neutral, out.Emotion)
}

func TestHandlePassesHistoryOldestFirst(t *testing.T) {
	f := newFixture(emotion.Neutral)
	ctx := context.Background()
	alice, err := f.store.CreateUser(ctx, "Alice", "pw", "")
	require.NoError(t, err)
	svc := f.service(t)

	for _, content := range []string{"A", "B", "C"} {
		_, err := svc.Handle(ctx, alice.ID, content)
		require.NoError(t, err)
	}
	_, err = svc.Handle(ctx, alice.ID, "D")
	require.NoError(t, err)

	require.Len(t, f.classifier.history, 3)
	assert.Equal(t, "A", f.classifier.history[0].Content)
	assert.Equal(t, "C", f.classifier.history[2].Content)
	assert.Equal(t, "Alice", f.classifier.history[0].DisplayName)
	assert.Equal(t, "D", f.classifier.message)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	f := newFixture(emotion.Happy)
	deps := f.deps
	deps.Hub = nil

	_, err := chat.NewService(deps, 0, nil)
	require.Error(t, err)
}
