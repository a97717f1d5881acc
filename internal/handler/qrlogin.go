package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quickpass/qr-login-server-go/internal/audit"
	apperrors "github.com/quickpass/qr-login-server-go/internal/errors"
	"github.com/quickpass/qr-login-server-go/internal/middleware"
	"github.com/quickpass/qr-login-server-go/internal/service"
	"github.com/quickpass/qr-login-server-go/internal/util"
)

// QRLoginHandler maps the four exchange operations onto HTTP. It parses and
// validates input, delegates to the lifecycle engine, and translates engine
// outcomes to status codes; it carries no state of its own.
type QRLoginHandler struct {
	qrService *service.QRLoginService
}

func NewQRLoginHandler(qrService *service.QRLoginService) *QRLoginHandler {
	return &QRLoginHandler{qrService: qrService}
}

type generateRequest struct {
	TTLMinutes int `json:"ttlMinutes"`
	ImageSize  int `json:"imageSize"`
}

type verifyRequest struct {
	TokenID string `json:"tokenId"`
	Token   string `json:"token"`
}

type claimRequest struct {
	SessionCreationToken string `json:"sessionCreationToken"`
}

// POST /qr/generate
func (h *QRLoginHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	// The body is optional; an empty one means all defaults.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.qrService.Generate(r.Context(), time.Duration(req.TTLMinutes)*time.Minute, req.ImageSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate qr token")
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventQRGenerate,
		TokenID: util.MaskToken(result.TokenID),
	})

	writeJSON(w, http.StatusOK, result)
}

// POST /qr/verify (authenticated)
func (h *QRLoginHandler) Verify(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.TokenID == "" {
		writeError(w, apperrors.MissingRequired("tokenId"))
		return
	}
	if req.Token == "" {
		writeError(w, apperrors.MissingRequired("token"))
		return
	}

	result, err := h.qrService.Verify(r.Context(), req.TokenID, req.Token, user)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventQRVerifyFailure,
			UserID:  user.ID,
			TokenID: util.MaskToken(req.TokenID),
			Details: map[string]interface{}{"code": string(apperrors.GetCode(err))},
		})
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventQRVerifySuccess,
		UserID:  user.ID,
		TokenID: util.MaskToken(req.TokenID),
	})

	writeJSON(w, http.StatusOK, result)
}

// GET /qr/status?tokenId=...
func (h *QRLoginHandler) Status(w http.ResponseWriter, r *http.Request) {
	tokenID := r.URL.Query().Get("tokenId")
	if tokenID == "" {
		writeError(w, apperrors.MissingRequired("tokenId"))
		return
	}

	result, err := h.qrService.PollStatus(r.Context(), tokenID)
	if err != nil {
		writeError(w, err)
		return
	}

	// An expired token is reported, not errored, but 410 tells polling
	// clients the outcome is terminal.
	if result.Status == service.StatusExpired {
		writeJSON(w, http.StatusGone, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /qr/claim-session
func (h *QRLoginHandler) ClaimSession(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.SessionCreationToken == "" {
		writeError(w, apperrors.MissingRequired("sessionCreationToken"))
		return
	}

	result, err := h.qrService.ClaimSession(r.Context(), req.SessionCreationToken)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventClaimFailure,
			Details: map[string]interface{}{"code": string(apperrors.GetCode(err))},
		})
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:   audit.EventSessionClaim,
		UserID: result.UserID,
	})

	writeJSON(w, http.StatusOK, result)
}
