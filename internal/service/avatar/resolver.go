package avatar

import (
	"context"

	"go.uber.org/zap"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
	"github.com/zhouzirui/emochat/backend/internal/logging"
)

// DefaultImage is served to users without any matching binding.
const DefaultImage = "/static/default_avatar.png"

// Store looks up a single avatar binding.
type Store interface {
	QueryAvatarBinding(ctx context.Context, userID int64, label emotion.Label) (string, bool, error)
}

// Resolver picks the image shown next to a message.
type Resolver struct {
	store        Store
	defaultImage string
	logger       *zap.Logger
}

// NewResolver wraps store; an empty defaultImage falls back to DefaultImage.
func NewResolver(store Store, defaultImage string, logger *zap.Logger) *Resolver {
	if defaultImage == "" {
		defaultImage = DefaultImage
	}
	return &Resolver{
		store:        store,
		defaultImage: defaultImage,
		logger:       logging.OrNop(logger).Named("avatar"),
	}
}

// Resolve never fails. It tries the exact (user, label) binding, then the
// user's neutral binding, then the system default.
func (r *Resolver) Resolve(ctx context.Context, userID int64, label emotion.Label) string {
	if path, ok := r.lookup(ctx, userID, label); ok {
		return path
	}
	if label != emotion.Neutral {
		if path, ok := r.lookup(ctx, userID, emotion.Neutral); ok {
			return path
		}
	}
	return r.defaultImage
}

func (r *Resolver) lookup(ctx context.Context, userID int64, label emotion.Label) (string, bool) {
	path, found, err := r.store.QueryAvatarBinding(ctx, userID, label)
	if err != nil {
		r.logger.Warn("avatar lookup failed",
			zap.Int64("user_id", userID),
			zap.String("emotion", string(label)),
			zap.Error(err),
		)
		return "", false
	}
	if !found || path == "" {
		return "", false
	}
	return path, true
}
