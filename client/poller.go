package client

import (
	"context"
	"sync"
	"time"
)

// PollResult is the terminal outcome of a polling loop.
type PollResult struct {
	// Status is "completed" or "expired" when Err is nil.
	Status               string
	UserID               string
	SessionCreationToken string
	Err                  error
}

// Poller is a client-owned repeating timer with an explicit cancellation
// handle. It polls the status endpoint until a terminal outcome and emits
// exactly one PollResult. Transient network errors are absorbed: the loop
// just waits for the next tick, matching the server's stateless polling
// contract.
type Poller struct {
	results  chan PollResult
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// StartPolling begins polling for the token's status every interval.
// Stop the poller (or cancel ctx) to tear the loop down early; the
// result channel is closed either way.
func (c *Client) StartPolling(ctx context.Context, tokenID string, interval time.Duration) *Poller {
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{
		results: make(chan PollResult, 1),
		cancel:  cancel,
	}
	go p.run(ctx, c, tokenID, interval)
	return p
}

// Results delivers at most one terminal result and is then closed.
func (p *Poller) Results() <-chan PollResult {
	return p.results
}

// Stop cancels the loop. Safe to call more than once and after completion.
func (p *Poller) Stop() {
	p.stopOnce.Do(p.cancel)
}

func (p *Poller) run(ctx context.Context, c *Client, tokenID string, interval time.Duration) {
	defer close(p.results)
	defer p.cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := c.Status(ctx, tokenID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				if apiErr.StatusCode >= 500 {
					// Transient server-side failure: retry next poll.
					continue
				}
				// Protocol and input failures are terminal; the flow
				// must be restarted with a fresh token.
				p.results <- PollResult{Err: apiErr}
				return
			}
			if ctx.Err() != nil {
				return
			}
			// Network failure: retry on the next scheduled poll.
			continue
		}

		switch status.Status {
		case "pending":
			continue
		case "completed":
			result := PollResult{Status: status.Status}
			if status.UserID != nil {
				result.UserID = *status.UserID
			}
			if status.SessionCreationToken != nil {
				result.SessionCreationToken = *status.SessionCreationToken
			}
			p.results <- result
			return
		default:
			// expired, or anything the server adds later: terminal.
			p.results <- PollResult{Status: status.Status}
			return
		}
	}
}
