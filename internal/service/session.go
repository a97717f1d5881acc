package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quickpass/qr-login-server-go/internal/model"
	"github.com/quickpass/qr-login-server-go/internal/repository"
	"github.com/quickpass/qr-login-server-go/internal/util"
)

// SessionService mints and resolves long-lived login sessions. Sessions
// created by password login and by QR claim go through the same path; only
// the recorded source differs.
type SessionService struct {
	sessions repository.SessionRepository
	ttl      time.Duration
}

func NewSessionService(sessions repository.SessionRepository, ttl time.Duration) *SessionService {
	return &SessionService{sessions: sessions, ttl: ttl}
}

// Create mints a session and returns it together with the bearer token.
// The token is only ever held in memory; the store keeps its hash.
func (s *SessionService) Create(ctx context.Context, userID string, source model.SessionSource) (*model.Session, string, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate session token: %w", err)
	}

	session, err := s.sessions.Create(ctx, model.CreateSessionParams{
		ID:          uuid.NewString(),
		UserID:      userID,
		TokenHash:   util.HashToken(token),
		CreatedFrom: source,
		ExpiresAt:   time.Now().Add(s.ttl),
	})
	if err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("userId", userID).
		Str("source", string(source)).
		Time("expiresAt", session.ExpiresAt).
		Msg("session created")

	return session, token, nil
}

// Authenticate resolves a bearer token to its live session, or nil.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	return s.sessions.FindByTokenHash(ctx, util.HashToken(token))
}

func (s *SessionService) Revoke(ctx context.Context, id string) error {
	return s.sessions.Delete(ctx, id)
}
