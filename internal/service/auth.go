package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/quickpass/qr-login-server-go/internal/errors"
	"github.com/quickpass/qr-login-server-go/internal/model"
	"github.com/quickpass/qr-login-server-go/internal/repository"
	"github.com/quickpass/qr-login-server-go/internal/util"
)

// AuthService handles the bootstrap password login that gives the scanning
// device its initial session.
type AuthService struct {
	users    repository.UserRepository
	sessions *SessionService
}

func NewAuthService(users repository.UserRepository, sessions *SessionService) *AuthService {
	return &AuthService{users: users, sessions: sessions}
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*model.User, *model.Session, string, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, "", apperrors.Database(err)
	}

	// Same failure for unknown user and wrong password.
	if user == nil || !util.CheckPasswordHash(password, user.PasswordHash) {
		log.Warn().Str("username", username).Msg("login failed")
		return nil, nil, "", apperrors.Unauthorized("Invalid username or password")
	}

	session, token, err := s.sessions.Create(ctx, user.ID, model.SessionSourceLogin)
	if err != nil {
		return nil, nil, "", apperrors.SessionCreationFailed(err)
	}

	return user, session, token, nil
}
