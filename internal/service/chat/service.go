package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
	"github.com/zhouzirui/emochat/backend/internal/logging"
	"github.com/zhouzirui/emochat/backend/internal/metrics"
	"github.com/zhouzirui/emochat/backend/internal/model/chat"
)

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrPersist      = errors.New("persist chat event")
)

// DefaultHistoryLimit is the classifier context window when none is configured.
const DefaultHistoryLimit = 10

const (
	resultDelivered = "delivered"
	resultEmpty     = "empty"
	resultFailed    = "persist_failed"
)

// Classifier maps history plus a new message to a label in the closed set.
type Classifier interface {
	Classify(ctx context.Context, history []chat.HistoryEntry, message string) emotion.Label
}

// HistoryProvider returns recent entries, oldest first.
type HistoryProvider interface {
	Recent(ctx context.Context, limit int) ([]chat.HistoryEntry, error)
}

// AvatarResolver picks the image for a sender and label. It never fails.
type AvatarResolver interface {
	Resolve(ctx context.Context, userID int64, label emotion.Label) string
}

// Persister appends chat events.
type Persister interface {
	SaveEvent(ctx context.Context, userID int64, content string, label emotion.Label) (chat.Event, error)
}

// UserDirectory looks up senders.
type UserDirectory interface {
	QueryUser(ctx context.Context, userID int64) (chat.User, error)
}

// Broadcaster fans a frame out to every live session.
type Broadcaster interface {
	Broadcast(v any)
}

// Dependencies groups the collaborators a Service drives.
type Dependencies struct {
	History    HistoryProvider
	Classifier Classifier
	Persister  Persister
	Avatars    AvatarResolver
	Users      UserDirectory
	Hub        Broadcaster
}

// Service runs the per-message pipeline: history, classification,
// persistence, avatar resolution, then broadcast.
type Service struct {
	deps         Dependencies
	historyLimit int
	logger       *zap.Logger
}

// NewService validates deps. A non-positive historyLimit uses DefaultHistoryLimit.
func NewService(deps Dependencies, historyLimit int, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.History == nil:
		return nil, errors.New("chat: history provider is required")
	case deps.Classifier == nil:
		return nil, errors.New("chat: classifier is required")
	case deps.Persister == nil:
		return nil, errors.New("chat: persister is required")
	case deps.Avatars == nil:
		return nil, errors.New("chat: avatar resolver is required")
	case deps.Users == nil:
		return nil, errors.New("chat: user directory is required")
	case deps.Hub == nil:
		return nil, errors.New("chat: broadcaster is required")
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Service{
		deps:         deps,
		historyLimit: historyLimit,
		logger:       logging.OrNop(logger).Named("pipeline"),
	}, nil
}

// Handle processes one inbound message from userID and broadcasts the result.
// Only blank content and persistence failures are reported as errors; every
// other step degrades to a safe default.
func (s *Service) Handle(ctx context.Context, userID int64, content string) (chat.Broadcast, error) {
	if strings.TrimSpace(content) == "" {
		metrics.ChatMessages.WithLabelValues(resultEmpty).Inc()
		return chat.Broadcast{}, ErrEmptyContent
	}

	started := time.Now()
	defer func() {
		metrics.ChatPipelineSeconds.Observe(time.Since(started).Seconds())
	}()

	history, err := s.deps.History.Recent(ctx, s.historyLimit)
	if err != nil {
		s.logger.Warn("history unavailable, classifying without context",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		history = nil
	}

	label := s.deps.Classifier.Classify(ctx, history, content)
	if !label.Valid() {
		s.logger.Warn("classifier returned label outside closed set",
			zap.String("label", string(label)),
		)
		label = emotion.Neutral
	}

	if _, err := s.deps.Persister.SaveEvent(ctx, userID, content, label); err != nil {
		metrics.ChatMessages.WithLabelValues(resultFailed).Inc()
		s.logger.Error("persist chat event failed",
			zap.Int64("user_id", userID),
			zap.String("emotion", string(label)),
			zap.Error(err),
		)
		return chat.Broadcast{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	avatar := s.deps.Avatars.Resolve(ctx, userID, label)

	out := chat.Broadcast{
		UserID:   userID,
		Nickname: s.displayName(ctx, userID),
		Content:  content,
		Emotion:  label,
		Avatar:   avatar,
	}
	s.deps.Hub.Broadcast(out)
	metrics.ChatMessages.WithLabelValues(resultDelivered).Inc()

	s.logger.Debug("chat message relayed",
		zap.Int64("user_id", userID),
		zap.String("emotion", string(label)),
	)
	return out, nil
}

func (s *Service) displayName(ctx context.Context, userID int64) string {
	user, err := s.deps.Users.QueryUser(ctx, userID)
	if err != nil {
		s.logger.Warn("sender lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return chat.UnknownSender
	}
	if strings.TrimSpace(user.Nickname) == "" {
		return chat.UnknownSender
	}
	return user.Nickname
}
