package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/quickpass/qr-login-server-go/internal/errors"
	"github.com/quickpass/qr-login-server-go/internal/model"
	"github.com/quickpass/qr-login-server-go/internal/qrcode"
	"github.com/quickpass/qr-login-server-go/internal/repository"
	"github.com/quickpass/qr-login-server-go/internal/util"
)

// QRPayload is the JSON object encoded into the scannable image.
type QRPayload struct {
	TokenID   string `json:"tokenId"`
	Token     string `json:"token"`
	ServerURL string `json:"serverUrl"`
}

type GenerateResult struct {
	TokenID   string    `json:"tokenId"`
	QRCode    string    `json:"qrCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type VerifyResult struct {
	UserID                        string      `json:"userId"`
	User                          *model.User `json:"user"`
	SessionCreationToken          string      `json:"sessionCreationToken"`
	SessionCreationTokenExpiresAt time.Time   `json:"sessionCreationTokenExpiresAt"`
}

type TokenStatus string

const (
	StatusPending   TokenStatus = "pending"
	StatusCompleted TokenStatus = "completed"
	StatusExpired   TokenStatus = "expired"
)

type StatusResult struct {
	Status                        TokenStatus `json:"status"`
	UserID                        *string     `json:"userId,omitempty"`
	SessionCreationToken          *string     `json:"sessionCreationToken,omitempty"`
	SessionCreationTokenExpiresAt *time.Time  `json:"sessionCreationTokenExpiresAt,omitempty"`
}

type ClaimResult struct {
	Success      bool        `json:"success"`
	UserID       string      `json:"userId"`
	User         *model.User `json:"user"`
	SessionToken string      `json:"sessionToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
}

type QRLoginConfig struct {
	ServerOrigin            string
	TokenTTL                time.Duration
	MinTokenTTL             time.Duration
	MaxTokenTTL             time.Duration
	SessionCreationTokenTTL time.Duration
}

// QRLoginService owns the token lifecycle: PENDING -> VERIFIED -> CLAIMED,
// with EXPIRED reachable from either of the first two. The scanning device
// authenticates verify with its own session; the requesting device learns
// the session-creation token only through PollStatus and trades it for an
// independent session via ClaimSession. The two devices never see each
// other's credentials.
type QRLoginService struct {
	tokens   repository.QRTokenRepository
	users    repository.UserRepository
	sessions *SessionService
	cfg      QRLoginConfig
}

func NewQRLoginService(
	tokens repository.QRTokenRepository,
	users repository.UserRepository,
	sessions *SessionService,
	cfg QRLoginConfig,
) *QRLoginService {
	return &QRLoginService{
		tokens:   tokens,
		users:    users,
		sessions: sessions,
		cfg:      cfg,
	}
}

// Generate mints a fresh PENDING token and renders its QR payload.
// ttl outside the configured bounds is clamped; zero means the default.
func (s *QRLoginService) Generate(ctx context.Context, ttl time.Duration, imageSize int) (*GenerateResult, error) {
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}
	if ttl < s.cfg.MinTokenTTL {
		ttl = s.cfg.MinTokenTTL
	}
	if ttl > s.cfg.MaxTokenTTL {
		ttl = s.cfg.MaxTokenTTL
	}

	id, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token id: %w", err)
	}
	secret, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}

	token, err := s.tokens.Create(ctx, model.CreateQRTokenParams{
		ID:        id,
		Secret:    secret,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	payload, err := json.Marshal(QRPayload{
		TokenID:   token.ID,
		Token:     secret,
		ServerURL: s.cfg.ServerOrigin,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal qr payload: %w", err)
	}

	image, err := qrcode.EncodeDataURL(payload, imageSize)
	if err != nil {
		return nil, apperrors.Internal("Failed to render QR code").WithCause(err)
	}

	log.Info().
		Str("tokenId", util.MaskToken(token.ID)).
		Time("expiresAt", token.ExpiresAt).
		Msg("qr token generated")

	return &GenerateResult{
		TokenID:   token.ID,
		QRCode:    image,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Verify binds the scanning device's authenticated user to the token and
// mints the one-time session-creation token. Exactly one Verify can succeed
// per token id; concurrent losers observe "already used".
func (s *QRLoginService) Verify(ctx context.Context, id, secret string, user *model.User) (*VerifyResult, error) {
	if user == nil {
		return nil, apperrors.Unauthorized("Authentication required")
	}

	token, err := s.tokens.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if token == nil {
		log.Warn().Str("tokenId", util.MaskToken(id)).Msg("verify: unknown qr token")
		return nil, apperrors.QRTokenNotFound()
	}

	now := time.Now()
	if now.After(token.ExpiresAt) {
		s.evict(ctx, token.ID)
		return nil, apperrors.QRTokenExpired()
	}

	if !util.ConstantTimeEqual(secret, token.Secret) {
		log.Warn().Str("tokenId", util.MaskToken(id)).Msg("verify: secret mismatch")
		return nil, apperrors.InvalidQRSecret()
	}

	if token.Used {
		return nil, apperrors.AlreadyUsed()
	}

	sct, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session creation token: %w", err)
	}
	sctExpiresAt := now.Add(s.cfg.SessionCreationTokenTTL)

	won, err := s.tokens.MarkVerified(ctx, model.VerifyQRTokenParams{
		ID:                            token.ID,
		UserID:                        user.ID,
		VerifiedAt:                    now,
		SessionCreationToken:          sct,
		SessionCreationTokenExpiresAt: sctExpiresAt,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !won {
		// Lost the race against a concurrent verify.
		return nil, apperrors.AlreadyUsed()
	}

	log.Info().
		Str("tokenId", util.MaskToken(token.ID)).
		Str("userId", user.ID).
		Time("sessionCreationTokenExpiresAt", sctExpiresAt).
		Msg("qr token verified")

	return &VerifyResult{
		UserID:                        user.ID,
		User:                          user,
		SessionCreationToken:          sct,
		SessionCreationTokenExpiresAt: sctExpiresAt,
	}, nil
}

// PollStatus reports the token's state to the requesting device. The
// session-creation token is disclosed here and nowhere else, and only once
// the token is verified and inside the handoff window. Dead records are
// evicted lazily.
func (s *QRLoginService) PollStatus(ctx context.Context, id string) (*StatusResult, error) {
	token, err := s.tokens.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if token == nil {
		return nil, apperrors.QRTokenNotFound()
	}

	if token.Expired(time.Now()) {
		s.evict(ctx, token.ID)
		return &StatusResult{Status: StatusExpired}, nil
	}

	if !token.Used {
		return &StatusResult{Status: StatusPending}, nil
	}

	return &StatusResult{
		Status:                        StatusCompleted,
		UserID:                        token.UserID,
		SessionCreationToken:          token.SessionCreationToken,
		SessionCreationTokenExpiresAt: token.SessionCreationTokenExpiresAt,
	}, nil
}

// ClaimSession exchanges a session-creation token for a brand-new session
// bound to the verified user. Exactly one claim can succeed per token; the
// record is deleted afterwards.
func (s *QRLoginService) ClaimSession(ctx context.Context, sct string) (*ClaimResult, error) {
	token, err := s.tokens.FindBySessionCreationToken(ctx, sct)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if token == nil {
		return nil, apperrors.InvalidSessionCreationToken()
	}

	if !token.Used || token.UserID == nil {
		return nil, apperrors.NotVerified()
	}

	if token.SessionCreationTokenExpiresAt == nil || time.Now().After(*token.SessionCreationTokenExpiresAt) {
		s.evict(ctx, token.ID)
		return nil, apperrors.QRTokenExpired()
	}

	won, err := s.tokens.ClearSessionCreationToken(ctx, sct)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !won {
		// A concurrent claim got here first.
		return nil, apperrors.InvalidSessionCreationToken()
	}

	user, err := s.users.FindByID(ctx, *token.UserID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.Internal("Verified user no longer exists")
	}

	session, sessionToken, err := s.sessions.Create(ctx, user.ID, model.SessionSourceQR)
	if err != nil {
		return nil, apperrors.SessionCreationFailed(err)
	}

	// The cleared token already made the record inert; deleting it now just
	// keeps the table small.
	s.evict(ctx, token.ID)

	log.Info().
		Str("tokenId", util.MaskToken(token.ID)).
		Str("userId", user.ID).
		Str("sessionId", session.ID).
		Msg("session claimed from qr token")

	return &ClaimResult{
		Success:      true,
		UserID:       user.ID,
		User:         user,
		SessionToken: sessionToken,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// SweepExpired deletes records whose relevant TTL has elapsed. Idempotent
// and safe to run concurrently with in-flight requests.
func (s *QRLoginService) SweepExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx)
}

func (s *QRLoginService) evict(ctx context.Context, id string) {
	if err := s.tokens.Delete(ctx, id); err != nil {
		log.Error().Err(err).Str("tokenId", util.MaskToken(id)).Msg("failed to evict qr token")
	}
}
