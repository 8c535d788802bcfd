package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	frames  []any
	failErr error
	closed  bool
}

func (f *fakeTransport) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) received() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.frames...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func registered(h *Hub, session *Session) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[session]
	return ok
}

func TestBroadcastIsolatesBrokenSession(t *testing.T) {
	hub := NewHub(nil)
	healthy := &fakeTransport{}
	broken := &fakeTransport{failErr: errors.New("broken pipe")}
	s1 := NewSession(1, healthy)
	s2 := NewSession(2, broken)
	hub.Register(s1)
	hub.Register(s2)

	event := map[string]string{"content": "hello"}
	require.NotPanics(t, func() { hub.Broadcast(event) })

	assert.Equal(t, []any{event}, healthy.received())
	assert.True(t, registered(hub, s1))
	assert.False(t, registered(hub, s2))
	assert.True(t, broken.isClosed())
	assert.Equal(t, 1, hub.Len())

	hub.Broadcast("again")
	assert.Len(t, healthy.received(), 2)
}

func TestUnregisterToleratesDoubleRemoval(t *testing.T) {
	hub := NewHub(nil)
	s := NewSession(1, &fakeTransport{})
	hub.Register(s)

	hub.Unregister(s)
	hub.Unregister(s)
	hub.Unregister(NewSession(9, &fakeTransport{}))
	assert.Equal(t, 0, hub.Len())
}

func TestBroadcastToEmptyHub(t *testing.T) {
	hub := NewHub(nil)
	require.NotPanics(t, func() { hub.Broadcast("nobody") })
}

func TestSendEvictsOnFailure(t *testing.T) {
	hub := NewHub(nil)
	ok := NewSession(1, &fakeTransport{})
	bad := NewSession(2, &fakeTransport{failErr: errors.New("reset")})
	hub.Register(ok)
	hub.Register(bad)

	require.NoError(t, hub.Send(ok, "x"))
	require.Error(t, hub.Send(bad, "x"))
	assert.False(t, registered(hub, bad))
	assert.True(t, registered(hub, ok))
}

func TestClosedSessionRejectsWrites(t *testing.T) {
	transport := &fakeTransport{}
	s := NewSession(1, transport)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Send("x"), ErrSessionClosed)
	assert.True(t, s.closed.Load())
	assert.Empty(t, transport.received())
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil)
	a, b := &fakeTransport{}, &fakeTransport{}
	hub.Register(NewSession(1, a))
	hub.Register(NewSession(2, b))

	hub.Close()
	assert.Equal(t, 0, hub.Len())
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
}

func TestConcurrentRegisterBroadcast(t *testing.T) {
	hub := NewHub(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		s := NewSession(int64(i), &fakeTransport{})
		go func() {
			defer wg.Done()
			hub.Register(s)
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast("tick")
		}()
		go func() {
			defer wg.Done()
			hub.Unregister(s)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, hub.Len(), 20)
}

func TestSessionIDsAreUnique(t *testing.T) {
	a := NewSession(1, &fakeTransport{})
	b := NewSession(1, &fakeTransport{})
	assert.NotEqual(t, a.ID, b.ID)
}
