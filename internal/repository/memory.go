package repository

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/quickpass/qr-login-server-go/internal/model"
)

// In-memory implementations of the repositories. Each operation holds the
// store mutex for its whole precondition-check-plus-mutation, which gives
// the same per-key compare-and-set guarantees as the SQL implementations.
// Used by the engine tests and handy for running the server without a
// database in local development.

type MemoryQRTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*model.QRToken
}

func NewMemoryQRTokenRepository() *MemoryQRTokenRepository {
	return &MemoryQRTokenRepository{tokens: make(map[string]*model.QRToken)}
}

func (r *MemoryQRTokenRepository) FindByID(ctx context.Context, id string) (*model.QRToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok {
		return nil, nil
	}
	return copyToken(token), nil
}

func (r *MemoryQRTokenRepository) FindBySessionCreationToken(ctx context.Context, sct string) (*model.QRToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.SessionCreationToken != nil && *token.SessionCreationToken == sct {
			return copyToken(token), nil
		}
	}
	return nil, nil
}

func (r *MemoryQRTokenRepository) Create(ctx context.Context, params model.CreateQRTokenParams) (*model.QRToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token := &model.QRToken{
		ID:        params.ID,
		Secret:    params.Secret,
		CreatedAt: time.Now(),
		ExpiresAt: params.ExpiresAt,
	}
	r.tokens[params.ID] = token
	return copyToken(token), nil
}

func (r *MemoryQRTokenRepository) MarkVerified(ctx context.Context, params model.VerifyQRTokenParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[params.ID]
	if !ok || token.Used {
		return false, nil
	}
	userID := params.UserID
	verifiedAt := params.VerifiedAt
	sct := params.SessionCreationToken
	sctExpiresAt := params.SessionCreationTokenExpiresAt
	token.Used = true
	token.UserID = &userID
	token.VerifiedAt = &verifiedAt
	token.SessionCreationToken = &sct
	token.SessionCreationTokenExpiresAt = &sctExpiresAt
	return true, nil
}

func (r *MemoryQRTokenRepository) ClearSessionCreationToken(ctx context.Context, sct string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.SessionCreationToken != nil && *token.SessionCreationToken == sct {
			token.SessionCreationToken = nil
			token.SessionCreationTokenExpiresAt = nil
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryQRTokenRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, id)
	return nil
}

func (r *MemoryQRTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var deleted int64
	for id, token := range r.tokens {
		if token.Expired(now) {
			delete(r.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

// SetExpiry rewrites the stored TTLs. Test helper.
func (r *MemoryQRTokenRepository) SetExpiry(id string, expiresAt time.Time, sctExpiresAt *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token, ok := r.tokens[id]; ok {
		token.ExpiresAt = expiresAt
		token.SessionCreationTokenExpiresAt = sctExpiresAt
	}
}

// Len reports the number of live records. Test helper.
func (r *MemoryQRTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func copyToken(t *model.QRToken) *model.QRToken {
	c := *t
	return &c
}

type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]*model.User
	seq   int
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*model.User)}
}

func (r *MemoryUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	c := *user
	return &c, nil
}

func (r *MemoryUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			c := *user
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	user := &model.User{
		ID:           "user-" + strconv.Itoa(r.seq),
		Username:     params.Username,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now(),
	}
	r.users[user.ID] = user
	c := *user
	return &c, nil
}

type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]*model.Session)}
}

func (r *MemorySessionRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.TokenHash == tokenHash && time.Now().Before(session.ExpiresAt) {
			c := *session
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemorySessionRepository) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := &model.Session{
		ID:          params.ID,
		UserID:      params.UserID,
		TokenHash:   params.TokenHash,
		CreatedFrom: params.CreatedFrom,
		ExpiresAt:   params.ExpiresAt,
		CreatedAt:   time.Now(),
	}
	r.sessions[session.ID] = session
	c := *session
	return &c, nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var deleted int64
	for id, session := range r.sessions {
		if now.After(session.ExpiresAt) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}
