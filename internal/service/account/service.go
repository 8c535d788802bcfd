package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/emochat/backend/internal/logging"
	"github.com/zhouzirui/emochat/backend/internal/model/chat"
	"github.com/zhouzirui/emochat/backend/internal/storage"
)

var (
	ErrNicknameRequired = errors.New("nickname is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrWrongPassword    = errors.New("wrong password for existing nickname")
)

const maxNicknameLen = 32

// Store is the user persistence the service needs.
type Store interface {
	CreateUser(ctx context.Context, nickname, password, ipAddress string) (chat.User, error)
	QueryUserByNickname(ctx context.Context, nickname string) (chat.User, error)
}

// Service registers nicknames and signs existing users back in.
type Service struct {
	store  Store
	cost   int
	logger *zap.Logger
}

// NewService wraps store with bcrypt.DefaultCost hashing.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost, logger: logging.OrNop(logger).Named("account")}
}

// Enter creates the user when the nickname is new, otherwise checks the
// password against the stored hash. created reports which branch ran.
func (s *Service) Enter(ctx context.Context, nickname, password, ipAddress string) (user chat.User, created bool, err error) {
	nickname = strings.TrimSpace(nickname)
	switch {
	case nickname == "":
		return chat.User{}, false, ErrNicknameRequired
	case len([]rune(nickname)) > maxNicknameLen:
		return chat.User{}, false, fmt.Errorf("nickname longer than %d characters", maxNicknameLen)
	case password == "":
		return chat.User{}, false, ErrPasswordRequired
	}

	existing, err := s.store.QueryUserByNickname(ctx, nickname)
	switch {
	case err == nil:
		if bcrypt.CompareHashAndPassword([]byte(existing.Password), []byte(password)) != nil {
			return chat.User{}, false, ErrWrongPassword
		}
		return existing, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return chat.User{}, false, fmt.Errorf("lookup nickname: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return chat.User{}, false, fmt.Errorf("hash password: %w", err)
	}
	user, err = s.store.CreateUser(ctx, nickname, string(hash), ipAddress)
	if err != nil {
		return chat.User{}, false, err
	}
	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("nickname", nickname))
	return user, true, nil
}
