package storage

import (
	"context"
	"errors"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
	"github.com/zhouzirui/emochat/backend/internal/model/chat"
)

// ErrNotFound is returned by lookups that found no row.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator consumed by the relay.
type Store interface {
	CreateUser(ctx context.Context, nickname, password, ipAddress string) (chat.User, error)
	QueryUser(ctx context.Context, userID int64) (chat.User, error)
	QueryUserByNickname(ctx context.Context, nickname string) (chat.User, error)
	BindAvatar(ctx context.Context, userID int64, label emotion.Label, imagePath string) (chat.AvatarBinding, error)
	QueryAvatarBinding(ctx context.Context, userID int64, label emotion.Label) (string, bool, error)
	SaveEvent(ctx context.Context, userID int64, content string, label emotion.Label) (chat.Event, error)
	QueryRecent(ctx context.Context, limit int) ([]chat.Event, error)
	Ping(ctx context.Context) error
	Close() error
}
