package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/quickpass/qr-login-server-go/internal/audit"
	apperrors "github.com/quickpass/qr-login-server-go/internal/errors"
	"github.com/quickpass/qr-login-server-go/internal/middleware"
	"github.com/quickpass/qr-login-server-go/internal/model"
	"github.com/quickpass/qr-login-server-go/internal/service"
)

type AuthHandler struct {
	authService    *service.AuthService
	sessionService *service.SessionService
}

func NewAuthHandler(authService *service.AuthService, sessionService *service.SessionService) *AuthHandler {
	return &AuthHandler{authService: authService, sessionService: sessionService}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User         *model.User `json:"user"`
	SessionToken string      `json:"sessionToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
}

// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, apperrors.MissingRequired("username and password"))
		return
	}

	user, session, token, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginFailure})
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginSuccess, UserID: user.ID})

	writeJSON(w, http.StatusOK, loginResponse{
		User:         user,
		SessionToken: token,
		ExpiresAt:    session.ExpiresAt,
	})
}

// GET /auth/me (authenticated)
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// POST /auth/logout (authenticated)
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	if err := h.sessionService.Revoke(r.Context(), session.ID); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout, UserID: session.UserID})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
