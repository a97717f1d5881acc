package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginEndpoint(t *testing.T) {
	t.Run("returns the user and a session token", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
			"username": "alice",
			"password": "correct horse",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.NotEmpty(t, body["sessionToken"])
		assert.NotEmpty(t, body["expiresAt"])

		user, ok := body["user"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "alice", user["username"])
		assert.NotContains(t, user, "passwordHash")
	})

	t.Run("rejects bad credentials with 401", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
			"username": "alice",
			"password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects missing fields with 400", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMeEndpoint(t *testing.T) {
	t.Run("returns the authenticated user", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)

		rec := s.do(t, http.MethodGet, "/auth/me", bearer, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "alice", body["username"])
	})

	t.Run("rejects an unauthenticated request", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodGet, "/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogoutEndpoint(t *testing.T) {
	t.Run("revokes the session", func(t *testing.T) {
		s := newTestServer(t)
		bearer := s.login(t)

		rec := s.do(t, http.MethodPost, "/auth/logout", bearer, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		// The revoked token no longer authenticates.
		me := s.do(t, http.MethodGet, "/auth/me", bearer, nil)
		assert.Equal(t, http.StatusUnauthorized, me.Code)
	})
}
