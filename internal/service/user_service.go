package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// UserService manages helper and admin roles.
type UserService struct {
	users  repository.UserRepository
	logger *zap.Logger
}

// NewUserService constructs the service.
func NewUserService(users repository.UserRepository, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, logger: logger}
}

// SetRoles grants or revokes the helper and admin roles. Unknown chat users
// are created so roles can be assigned before their first question.
func (s *UserService) SetRoles(ctx context.Context, chatUserID string, helper, admin bool) (*domain.User, error) {
	chatUserID = strings.TrimSpace(chatUserID)
	if chatUserID == "" {
		return nil, errorutil.NewValidationError("chat user id is required", nil)
	}
	user, err := s.users.SetRoles(ctx, chatUserID, helper, admin)
	if err != nil {
		return nil, err
	}
	s.logger.Info("updated user roles",
		zap.String("user", chatUserID),
		zap.Bool("helper", helper),
		zap.Bool("admin", admin))
	return user, nil
}

// Helpers lists every helper.
func (s *UserService) Helpers(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx, repository.UserFilter{HelpersOnly: true})
}
