package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func pollTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func awaitResult(t *testing.T, p *Poller) PollResult {
	t.Helper()
	select {
	case result, ok := <-p.Results():
		if !ok {
			t.Fatal("result channel closed without a result")
		}
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a poll result")
		return PollResult{}
	}
}

func TestPoller(t *testing.T) {
	t.Run("keeps polling through pending and emits completed", func(t *testing.T) {
		var calls atomic.Int32
		c := pollTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{
				"status":               "completed",
				"userId":               "user-1",
				"sessionCreationToken": "sct-1",
			})
		})

		p := c.StartPolling(context.Background(), "token-1", 10*time.Millisecond)
		defer p.Stop()

		result := awaitResult(t, p)
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Status != "completed" || result.UserID != "user-1" || result.SessionCreationToken != "sct-1" {
			t.Fatalf("unexpected result: %+v", result)
		}
		if calls.Load() < 3 {
			t.Fatalf("expected at least 3 polls, got %d", calls.Load())
		}
	})

	t.Run("expired is a terminal outcome", func(t *testing.T) {
		c := pollTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusGone, map[string]string{"status": "expired"})
		})

		p := c.StartPolling(context.Background(), "token-1", 10*time.Millisecond)
		defer p.Stop()

		result := awaitResult(t, p)
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Status != "expired" {
			t.Fatalf("expected expired, got %q", result.Status)
		}
	})

	t.Run("a 4xx response is terminal", func(t *testing.T) {
		c := pollTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "Invalid or expired QR token",
				"code":  "NOT_FOUND",
			})
		})

		p := c.StartPolling(context.Background(), "token-1", 10*time.Millisecond)
		defer p.Stop()

		result := awaitResult(t, p)
		var apiErr *APIError
		if !errors.As(result.Err, &apiErr) {
			t.Fatalf("expected an APIError, got %v", result.Err)
		}
		if apiErr.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", apiErr.StatusCode)
		}
	})

	t.Run("retries through 5xx responses", func(t *testing.T) {
		var calls atomic.Int32
		c := pollTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "Database error",
					"code":  "DATABASE_ERROR",
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{
				"status":               "completed",
				"userId":               "user-1",
				"sessionCreationToken": "sct-1",
			})
		})

		p := c.StartPolling(context.Background(), "token-1", 10*time.Millisecond)
		defer p.Stop()

		result := awaitResult(t, p)
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Status != "completed" {
			t.Fatalf("expected completed, got %q", result.Status)
		}
	})

	t.Run("stop closes the result channel without a result", func(t *testing.T) {
		c := pollTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		})

		p := c.StartPolling(context.Background(), "token-1", 10*time.Millisecond)
		p.Stop()
		p.Stop() // safe to call twice

		select {
		case result, ok := <-p.Results():
			if ok {
				t.Fatalf("unexpected result after stop: %+v", result)
			}
		case <-time.After(time.Second):
			t.Fatal("result channel not closed after stop")
		}
	})

	t.Run("context cancellation tears the loop down", func(t *testing.T) {
		c := pollTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		})

		ctx, cancel := context.WithCancel(context.Background())
		p := c.StartPolling(ctx, "token-1", 10*time.Millisecond)
		cancel()

		select {
		case _, ok := <-p.Results():
			if ok {
				t.Fatal("unexpected result after cancellation")
			}
		case <-time.After(time.Second):
			t.Fatal("result channel not closed after cancellation")
		}
	})
}
