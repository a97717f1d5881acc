package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickpass/qr-login-server-go/internal/middleware"
	"github.com/quickpass/qr-login-server-go/internal/model"
	"github.com/quickpass/qr-login-server-go/internal/repository"
	"github.com/quickpass/qr-login-server-go/internal/service"
	"github.com/quickpass/qr-login-server-go/internal/util"
)

// testServer wires the handlers onto a router the same way main does,
// backed by the in-memory repositories and without the redis limiter.
type testServer struct {
	router *chi.Mux
	tokens *repository.MemoryQRTokenRepository
	user   *model.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tokens := repository.NewMemoryQRTokenRepository()
	users := repository.NewMemoryUserRepository()
	sessions := repository.NewMemorySessionRepository()

	hash, err := util.HashPassword("correct horse")
	require.NoError(t, err)
	user, err := users.Create(context.Background(), model.CreateUserParams{
		Username:     "alice",
		DisplayName:  "Alice",
		PasswordHash: hash,
	})
	require.NoError(t, err)

	sessionService := service.NewSessionService(sessions, 30*24*time.Hour)
	authService := service.NewAuthService(users, sessionService)
	qrService := service.NewQRLoginService(tokens, users, sessionService, service.QRLoginConfig{
		ServerOrigin:            "http://localhost:8080",
		TokenTTL:                5 * time.Minute,
		MinTokenTTL:             time.Minute,
		MaxTokenTTL:             30 * time.Minute,
		SessionCreationTokenTTL: 5 * time.Minute,
	})

	authMiddleware := middleware.NewAuthMiddleware(sessions, users)
	authHandler := NewAuthHandler(authService, sessionService)
	qrHandler := NewQRLoginHandler(qrService)

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
		})
	})
	r.Route("/qr", func(r chi.Router) {
		r.Post("/generate", qrHandler.Generate)
		r.Get("/status", qrHandler.Status)
		r.Post("/claim-session", qrHandler.ClaimSession)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Post("/verify", qrHandler.Verify)
		})
	})

	return &testServer{router: r, tokens: tokens, user: user}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// login returns a session token for the seeded user.
func (s *testServer) login(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice",
		"password": "correct horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	token, _ := body["sessionToken"].(string)
	require.NotEmpty(t, token)
	return token
}

// generate mints a token and returns its id together with the stored secret.
func (s *testServer) generate(t *testing.T) (string, string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/qr/generate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	tokenID, _ := body["tokenId"].(string)
	require.NotEmpty(t, tokenID)

	record, err := s.tokens.FindByID(context.Background(), tokenID)
	require.NoError(t, err)
	require.NotNil(t, record)
	return tokenID, record.Secret
}

func TestGenerateEndpoint(t *testing.T) {
	t.Run("returns the token id, image and expiry", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/qr/generate", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.NotEmpty(t, body["tokenId"])
		assert.Contains(t, body["qrCode"], "data:image/png;base64,")
		assert.NotEmpty(t, body["expiresAt"])
	})

	t.Run("never exposes the secret in the response", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/qr/generate", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.NotContains(t, body, "secret")
	})

	t.Run("requires no authentication", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodPost, "/qr/generate", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestVerifyEndpoint(t *testing.T) {
	t.Run("returns the session creation token for a valid scan", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)
		tokenID, secret := s.generate(t)

		rec := s.do(t, http.MethodPost, "/qr/verify", bearer, map[string]string{
			"tokenId": tokenID,
			"token":   secret,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, s.user.ID, body["userId"])
		assert.NotEmpty(t, body["sessionCreationToken"])
	})

	t.Run("rejects an unauthenticated caller", func(t *testing.T) {
		s := newTestServer(t)
		tokenID, secret := s.generate(t)

		rec := s.do(t, http.MethodPost, "/qr/verify", "", map[string]string{
			"tokenId": tokenID,
			"token":   secret,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects missing fields with 400", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)

		rec := s.do(t, http.MethodPost, "/qr/verify", bearer, map[string]string{"token": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodPost, "/qr/verify", bearer, map[string]string{"tokenId": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a wrong secret with 401", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)
		tokenID, _ := s.generate(t)

		rec := s.do(t, http.MethodPost, "/qr/verify", bearer, map[string]string{
			"tokenId": tokenID,
			"token":   "not-the-secret",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects an unknown token with 404", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)

		rec := s.do(t, http.MethodPost, "/qr/verify", bearer, map[string]string{
			"tokenId": "no-such-token",
			"token":   "whatever",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects a second scan with 409", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)
		tokenID, secret := s.generate(t)

		body := map[string]string{"tokenId": tokenID, "token": secret}
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/qr/verify", bearer, body).Code)

		rec := s.do(t, http.MethodPost, "/qr/verify", bearer, body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rejects an expired token with 410", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)
		tokenID, secret := s.generate(t)
		s.tokens.SetExpiry(tokenID, time.Now().Add(-time.Minute), nil)

		rec := s.do(t, http.MethodPost, "/qr/verify", bearer, map[string]string{
			"tokenId": tokenID,
			"token":   secret,
		})
		assert.Equal(t, http.StatusGone, rec.Code)
	})
}

func TestStatusEndpoint(t *testing.T) {
	t.Run("requires tokenId", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodGet, "/qr/status", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 404 for an unknown token", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodGet, "/qr/status?tokenId=missing", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("reports pending", func(t *testing.T) {
		s := newTestServer(t)
		tokenID, _ := s.generate(t)

		rec := s.do(t, http.MethodGet, "/qr/status?tokenId="+tokenID, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "pending", body["status"])
		assert.NotContains(t, body, "sessionCreationToken")
	})

	t.Run("reports completed with the session creation token", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)
		tokenID, secret := s.generate(t)

		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/qr/verify", bearer, map[string]string{
			"tokenId": tokenID,
			"token":   secret,
		}).Code)

		rec := s.do(t, http.MethodGet, "/qr/status?tokenId="+tokenID, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "completed", body["status"])
		assert.NotEmpty(t, body["sessionCreationToken"])
		assert.Equal(t, s.user.ID, body["userId"])
	})

	t.Run("reports expired with 410 and a status body", func(t *testing.T) {
		s := newTestServer(t)
		tokenID, _ := s.generate(t)
		s.tokens.SetExpiry(tokenID, time.Now().Add(-time.Minute), nil)

		rec := s.do(t, http.MethodGet, "/qr/status?tokenId="+tokenID, "", nil)
		require.Equal(t, http.StatusGone, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "expired", body["status"])
	})
}

func TestClaimSessionEndpoint(t *testing.T) {
	// runExchange drives the flow up to a disclosed session-creation token.
	runExchange := func(t *testing.T, s *testServer) string {
		t.Helper()
		bearer := s.login(t)
		tokenID, secret := s.generate(t)
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/qr/verify", bearer, map[string]string{
			"tokenId": tokenID,
			"token":   secret,
		}).Code)

		rec := s.do(t, http.MethodGet, "/qr/status?tokenId="+tokenID, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[map[string]any](t, rec)
		sct, _ := body["sessionCreationToken"].(string)
		require.NotEmpty(t, sct)
		return sct
	}

	t.Run("exchanges the token for a working session", func(t *testing.T) {
		s := newTestServer(t)
		sct := runExchange(t, s)

		rec := s.do(t, http.MethodPost, "/qr/claim-session", "", map[string]string{
			"sessionCreationToken": sct,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, s.user.ID, body["userId"])
		sessionToken, _ := body["sessionToken"].(string)
		require.NotEmpty(t, sessionToken)

		// The minted session authenticates like any other.
		me := s.do(t, http.MethodGet, "/auth/me", sessionToken, nil)
		assert.Equal(t, http.StatusOK, me.Code)
	})

	t.Run("requires sessionCreationToken", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodPost, "/qr/claim-session", "", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects an unknown token with 404", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodPost, "/qr/claim-session", "", map[string]string{
			"sessionCreationToken": "never-issued",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects a second claim with 404", func(t *testing.T) {
		s := newTestServer(t)
		sct := runExchange(t, s)

		body := map[string]string{"sessionCreationToken": sct}
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/qr/claim-session", "", body).Code)

		rec := s.do(t, http.MethodPost, "/qr/claim-session", "", body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects a lapsed handoff window with 410", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)
		tokenID, secret := s.generate(t)

		verifyRec := s.do(t, http.MethodPost, "/qr/verify", bearer, map[string]string{
			"tokenId": tokenID,
			"token":   secret,
		})
		require.Equal(t, http.StatusOK, verifyRec.Code)
		verifyBody := decodeBody[map[string]any](t, verifyRec)
		sct, _ := verifyBody["sessionCreationToken"].(string)
		require.NotEmpty(t, sct)

		past := time.Now().Add(-time.Minute)
		s.tokens.SetExpiry(tokenID, time.Now().Add(5*time.Minute), &past)

		rec := s.do(t, http.MethodPost, "/qr/claim-session", "", map[string]string{
			"sessionCreationToken": sct,
		})
		assert.Equal(t, http.StatusGone, rec.Code)
	})
}
