package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
	"github.com/zhouzirui/emochat/backend/internal/logging"
	"github.com/zhouzirui/emochat/backend/internal/model/chat"
	"github.com/zhouzirui/emochat/backend/internal/service/account"
	"github.com/zhouzirui/emochat/backend/internal/storage"
	"github.com/zhouzirui/emochat/backend/pkg/utils"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxAvatarBytes      = 5 << 20
)

var avatarExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

// Accounts signs users in or registers them.
type Accounts interface {
	Enter(ctx context.Context, nickname, password, ipAddress string) (chat.User, bool, error)
}

// Store is the persistence the REST surface reads and writes.
type Store interface {
	QueryUser(ctx context.Context, userID int64) (chat.User, error)
	BindAvatar(ctx context.Context, userID int64, label emotion.Label, imagePath string) (chat.AvatarBinding, error)
	QueryRecent(ctx context.Context, limit int) ([]chat.Event, error)
}

// AvatarResolver picks the avatar shown next to a history entry.
type AvatarResolver interface {
	Resolve(ctx context.Context, userID int64, label emotion.Label) string
}

// Handler 聊天室的 HTTP 接口：注册登录、头像上传、历史消息。
type Handler struct {
	accounts  Accounts
	store     Store
	avatars   AvatarResolver
	staticDir string
	logger    *zap.Logger
}

// New 创建聊天处理器。staticDir 为 /static 对应的本地目录。
func New(accounts Accounts, store Store, avatars AvatarResolver, staticDir string, logger *zap.Logger) *Handler {
	return &Handler{
		accounts:  accounts,
		store:     store,
		avatars:   avatars,
		staticDir: staticDir,
		logger:    logging.OrNop(logger).Named("rest"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/avatars", h.handleUploadAvatar)
	r.Get("/history", h.handleHistory)
}

type credentials struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

// handleRegister 新昵称注册，已有昵称校验密码后登录。
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload credentials
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		payload.Nickname = r.FormValue("nickname")
		payload.Password = r.FormValue("password")
	}

	user, created, err := h.accounts.Enter(r.Context(), payload.Nickname, payload.Password, clientIP(r))
	switch {
	case errors.Is(err, account.ErrWrongPassword):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.RespondJSON(w, status, user)
}

// handleUploadAvatar 保存带情绪标签的头像并建立绑定。
func (h *Handler) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes+1<<20)
	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	userID, err := strconv.ParseInt(r.FormValue("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "user_id must be a positive integer")
		return
	}
	label, ok := emotion.Parse(r.FormValue("emotion"))
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "emotion must be one of the supported labels")
		return
	}
	if _, err := h.store.QueryUser(r.Context(), userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("user lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "user lookup failed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !avatarExtensions[ext] {
		utils.RespondError(w, http.StatusBadRequest, "unsupported image type")
		return
	}

	filename := fmt.Sprintf("u%d_%s%s", userID, label, ext)
	if err := h.saveAvatar(filename, file); err != nil {
		h.logger.Error("saving avatar failed", zap.String("file", filename), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "could not store avatar")
		return
	}

	webPath := "/static/avatars/" + filename
	if _, err := h.store.BindAvatar(r.Context(), userID, label, webPath); err != nil {
		h.logger.Error("binding avatar failed", zap.Int64("user_id", userID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "could not bind avatar")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{"status": "success", "url": webPath})
}

func (h *Handler) saveAvatar(filename string, src io.Reader) error {
	dir := filepath.Join(h.staticDir, "avatars")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// handleHistory 返回最近的消息（按时间正序），用于前端初始化。
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := h.store.QueryRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("history query failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	out := make([]chat.Broadcast, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		name := event.SenderDisplayName
		if name == "" {
			name = chat.UnknownSender
		}
		out = append(out, chat.Broadcast{
			UserID:   event.SenderID,
			Nickname: name,
			Content:  event.Content,
			Emotion:  event.Emotion,
			Avatar:   h.avatars.Resolve(r.Context(), event.SenderID, event.Emotion),
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
