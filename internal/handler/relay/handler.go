package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/emochat/backend/internal/logging"
	"github.com/zhouzirui/emochat/backend/internal/model/chat"
	realtime "github.com/zhouzirui/emochat/backend/internal/relay"
	chatservice "github.com/zhouzirui/emochat/backend/internal/service/chat"
	"github.com/zhouzirui/emochat/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	inboxSize  = 16

	persistNotice = "message could not be saved, please retry"
)

// Pipeline processes one inbound message.
type Pipeline interface {
	Handle(ctx context.Context, userID int64, content string) (chat.Broadcast, error)
}

// Handler upgrades /ws/{userID} requests and feeds inbound frames into the
// chat pipeline.
type Handler struct {
	hub      *realtime.Hub
	pipeline Pipeline
	upgrader websocket.Upgrader
	logger   *zap.Logger

	pongWait   time.Duration
	pingPeriod time.Duration
}

// New builds a Handler. An empty allowedOrigins accepts any origin.
func New(hub *realtime.Hub, pipeline Pipeline, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		hub:      hub,
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:     logging.OrNop(logger).Named("ws"),
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

// RegisterRoutes mounts the real-time endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{userID}", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "userID must be a positive integer")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	session := realtime.NewSession(userID, conn)
	h.hub.Register(session)
	defer func() {
		h.hub.Unregister(session)
		_ = session.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	go h.pingLoop(ctx, conn)

	// Messages are handled in arrival order off the read loop, so a slow
	// pipeline never starves pong processing. Persistence and broadcast
	// outlive the client connection.
	inbox := make(chan string, inboxSize)
	drained := make(chan struct{})
	go h.work(context.WithoutCancel(ctx), session, inbox, drained)
	defer func() {
		close(inbox)
		<-drained
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("read loop ended", zap.Int64("user_id", userID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))

		var frame chat.Inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug("dropping malformed frame", zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		if strings.TrimSpace(frame.Content) == "" {
			continue
		}

		inbox <- frame.Content
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	}
}

func (h *Handler) work(ctx context.Context, session *realtime.Session, inbox <-chan string, drained chan<- struct{}) {
	defer close(drained)
	for content := range inbox {
		h.dispatch(ctx, session, content)
	}
}

func (h *Handler) dispatch(ctx context.Context, session *realtime.Session, content string) {
	_, err := h.pipeline.Handle(ctx, session.UserID, content)
	switch {
	case err == nil, errors.Is(err, chatservice.ErrEmptyContent):
	case errors.Is(err, chatservice.ErrPersist):
		if sendErr := h.hub.Send(session, chat.Notice{Error: persistNotice}); sendErr != nil {
			h.logger.Debug("notice not delivered", zap.String("session_id", session.ID), zap.Error(sendErr))
		}
	default:
		h.logger.Error("pipeline failed", zap.Int64("user_id", session.UserID), zap.Error(err))
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(realtime.WriteWait)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin = strings.TrimSpace(origin); origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
