package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned when writing to a session that was closed.
var ErrSessionClosed = errors.New("session closed")

// WriteWait bounds every write to a peer, data frames and control frames alike.
const WriteWait = 10 * time.Second

// Transport is the write side of one live connection. *websocket.Conn satisfies it.
type Transport interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live real-time connection owned by the Hub.
type Session struct {
	ID     string
	UserID int64

	transport Transport
	mu        sync.Mutex
	closed    atomic.Bool
}

// NewSession wraps transport for userID.
func NewSession(userID int64, transport Transport) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		transport: transport,
	}
}

// Send writes one JSON frame. Writes are serialized and bounded by a deadline.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.transport.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}
	return s.transport.WriteJSON(v)
}

// Close shuts the transport down once; it does not wait for an in-flight Send.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.transport.Close()
}
