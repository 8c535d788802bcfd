package relay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/emochat/backend/internal/logging"
	"github.com/zhouzirui/emochat/backend/internal/metrics"
)

// Hub maintains the live sessions and fans broadcasts out to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		logger:   logging.OrNop(logger).Named("hub"),
	}
}

// Register adds session to the live set.
func (h *Hub) Register(session *Session) {
	h.mu.Lock()
	h.sessions[session] = struct{}{}
	count := len(h.sessions)
	h.mu.Unlock()

	metrics.RelaySessions.Set(float64(count))
	h.logger.Info("session registered",
		zap.String("session_id", session.ID),
		zap.Int64("user_id", session.UserID),
		zap.Int("live", count),
	)
}

// Unregister removes session if present. Removing an absent session is a no-op.
func (h *Hub) Unregister(session *Session) {
	h.mu.Lock()
	_, ok := h.sessions[session]
	delete(h.sessions, session)
	count := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.RelaySessions.Set(float64(count))
	h.logger.Info("session unregistered",
		zap.String("session_id", session.ID),
		zap.Int64("user_id", session.UserID),
		zap.Int("live", count),
	)
}

// Broadcast delivers v to every registered session. The live set is copied
// under the lock and written without it; a session whose write fails is
// removed and closed, and delivery continues with the rest.
func (h *Hub) Broadcast(v any) {
	var failed []*Session
	for _, session := range h.snapshot() {
		if err := session.Send(v); err != nil {
			h.logger.Warn("broadcast delivery failed",
				zap.String("session_id", session.ID),
				zap.Int64("user_id", session.UserID),
				zap.Error(err),
			)
			failed = append(failed, session)
		}
	}

	for _, session := range failed {
		metrics.RelayDeliveryFailures.Inc()
		h.evict(session)
	}
}

// Send delivers v to a single session, evicting it on failure.
func (h *Hub) Send(session *Session, v any) error {
	if err := session.Send(v); err != nil {
		h.logger.Warn("direct delivery failed",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		metrics.RelayDeliveryFailures.Inc()
		h.evict(session)
		return err
	}
	return nil
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close closes and removes every session.
func (h *Hub) Close() {
	for _, session := range h.snapshot() {
		h.evict(session)
	}
}

func (h *Hub) evict(session *Session) {
	h.Unregister(session)
	if err := session.Close(); err != nil {
		h.logger.Debug("close session", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for session := range h.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}
