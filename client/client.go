// Package client is a Go adapter for the QR login exchange protocol. It
// wraps the four endpoints and provides a cancellable polling loop for the
// requesting device.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from the server. Protocol failures are
// terminal for the current flow: the caller must restart with a fresh
// Generate, not retry the same call. Input failures indicate a caller bug.
// Network failures never produce an APIError; they surface as the
// underlying transport error and may be retried.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// InputError reports whether the request itself was malformed.
func (e *APIError) InputError() bool {
	return e.StatusCode == http.StatusBadRequest
}

// ProtocolError reports whether the exchange was rejected (wrong secret,
// already used, expired, not found). Not retryable without a new flow.
func (e *APIError) ProtocolError() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict, http.StatusGone:
		return true
	}
	return false
}

type Client struct {
	baseURL      string
	sessionToken string
	httpClient   *http.Client
}

type Option func(*Client)

// WithSessionToken sets the bearer token used by Verify. Only the scanning
// device needs one.
func WithSessionToken(token string) Option {
	return func(c *Client) { c.sessionToken = token }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type GenerateResponse struct {
	TokenID   string    `json:"tokenId"`
	QRCode    string    `json:"qrCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type VerifyResponse struct {
	UserID                        string    `json:"userId"`
	User                          *User     `json:"user"`
	SessionCreationToken          string    `json:"sessionCreationToken"`
	SessionCreationTokenExpiresAt time.Time `json:"sessionCreationTokenExpiresAt"`
}

type StatusResponse struct {
	Status                        string     `json:"status"`
	UserID                        *string    `json:"userId,omitempty"`
	SessionCreationToken          *string    `json:"sessionCreationToken,omitempty"`
	SessionCreationTokenExpiresAt *time.Time `json:"sessionCreationTokenExpiresAt,omitempty"`
}

type ClaimResponse struct {
	Success      bool      `json:"success"`
	UserID       string    `json:"userId"`
	User         *User     `json:"user"`
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type GenerateRequest struct {
	TTLMinutes int `json:"ttlMinutes,omitempty"`
	ImageSize  int `json:"imageSize,omitempty"`
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.post(ctx, "/qr/generate", req, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Verify(ctx context.Context, tokenID, secret string) (*VerifyResponse, error) {
	body := map[string]string{"tokenId": tokenID, "token": secret}
	var resp VerifyResponse
	if err := c.post(ctx, "/qr/verify", body, &resp, c.sessionToken); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status(ctx context.Context, tokenID string) (*StatusResponse, error) {
	endpoint := c.baseURL + "/qr/status?tokenId=" + url.QueryEscape(tokenID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	// 410 carries a valid status body: the token is expired, terminally.
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusGone {
		return nil, decodeAPIError(httpResp)
	}

	var resp StatusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &resp, nil
}

func (c *Client) ClaimSession(ctx context.Context, sessionCreationToken string) (*ClaimResponse, error) {
	body := map[string]string{"sessionCreationToken": sessionCreationToken}
	var resp ClaimResponse
	if err := c.post(ctx, "/qr/claim-session", body, &resp, ""); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any, bearer string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return decodeAPIError(httpResp)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "UNKNOWN"
		apiErr.Message = resp.Status
	}
	return apiErr
}
