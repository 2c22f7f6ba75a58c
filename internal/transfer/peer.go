package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// PeerTransferRequest is the body pushed to a destination operator's
// transfer API. Field names are fixed by the inter-operator protocol;
// id carries the citizen's document number.
type PeerTransferRequest struct {
	ID           int64               `json:"id"`
	CitizenName  string              `json:"citizenName"`
	CitizenEmail string              `json:"citizenEmail"`
	URLDocuments map[string][]string `json:"urlDocuments"`
	ConfirmAPI   string              `json:"confirmAPI"`
}

// PeerConfirmRequest is the confirmation callback body. ReqStatus 1
// acknowledges receipt, 0 rejects the transfer.
type PeerConfirmRequest struct {
	ID        int64 `json:"id"`
	ReqStatus int   `json:"req_status"`
}

const (
	ConfirmAccepted = 1
	ConfirmRejected = 0
)

// PeerClient calls other operators' transfer APIs. Peers are assumed
// flaky: both calls retry transient failures with the same bounded
// backoff shape as the Hub client.
type PeerClient struct {
	httpClient *http.Client
	logger     *slog.Logger

	// token mints the bearer token the named peer requires. nil sends
	// unauthenticated requests, which local setups allow.
	token func(operatorID string) (string, error)

	maxRetries  int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// PeerOption configures a PeerClient.
type PeerOption func(*PeerClient)

// WithPeerHTTPClient replaces the HTTP client.
func WithPeerHTTPClient(hc *http.Client) PeerOption {
	return func(c *PeerClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPeerTokenSource supplies the bearer token attached to every
// peer call, minted for the peer operator being called.
func WithPeerTokenSource(token func(operatorID string) (string, error)) PeerOption {
	return func(c *PeerClient) {
		c.token = token
	}
}

// WithPeerRetryPolicy overrides attempts and base backoff.
func WithPeerRetryPolicy(attempts int, base time.Duration) PeerOption {
	return func(c *PeerClient) {
		if attempts > 0 {
			c.maxRetries = attempts
		}
		if base > 0 {
			c.backoffBase = base
		}
	}
}

// WithPeerSleep injects the between-retry wait for tests.
func WithPeerSleep(sleep func(ctx context.Context, d time.Duration) error) PeerOption {
	return func(c *PeerClient) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func NewPeerClient(logger *slog.Logger, opts ...PeerOption) *PeerClient {
	c := &PeerClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		maxRetries:  3,
		backoffBase: time.Second,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendTransfer pushes a citizen's folder to the destination operator.
func (c *PeerClient) SendTransfer(ctx context.Context, transferURL, operatorID string, req PeerTransferRequest) error {
	return c.post(ctx, transferURL, operatorID, req)
}

// Confirm reports the outcome of a received transfer back to its
// source through the confirmAPI it supplied.
func (c *PeerClient) Confirm(ctx context.Context, confirmURL, operatorID string, citizenID int64, status int) error {
	return c.post(ctx, confirmURL, operatorID, PeerConfirmRequest{ID: citizenID, ReqStatus: status})
}

func (c *PeerClient) post(ctx context.Context, url, operatorID string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode peer request: %w", err)
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			delay := c.backoffBase << (i - 1)
			c.logger.Info("retrying peer call", "url", url, "attempt", i+1, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = c.once(ctx, url, operatorID, raw)
		if lastErr == nil {
			return nil
		}
		if !isRetryablePeerError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("peer call exhausted retries: %w", lastErr)
}

func (c *PeerClient) once(ctx context.Context, url, operatorID string, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		token, err := c.token(operatorID)
		if err != nil {
			return fmt.Errorf("mint peer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &peerStatusError{status: 0, cause: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &peerStatusError{status: resp.StatusCode}
}

type peerStatusError struct {
	status int
	cause  error
}

func (e *peerStatusError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("peer call failed: %v", e.cause)
	}
	return fmt.Sprintf("peer returned status %d", e.status)
}

func (e *peerStatusError) Unwrap() error { return e.cause }

func isRetryablePeerError(err error) bool {
	pe, ok := err.(*peerStatusError)
	if !ok {
		return false
	}
	// Connection failures and 5xx retry; a 4xx means the peer
	// understood and refused.
	return pe.status == 0 || pe.status >= 500
}
