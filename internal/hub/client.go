// Package hub is the client for the external Hub API. Every call runs
// the same pipeline: rate limiter gate, circuit breaker gate, HTTP
// exchange with a fixed timeout, outcome classification, bounded
// retry with exponential backoff for transient failures only, and a
// final outcome report back to the breaker.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"carpeta/internal/audit"
	"carpeta/internal/circuit"
	"carpeta/internal/hub/metrics"
	"carpeta/internal/ratelimit"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to the Hub. Construct once at startup and share; all
// methods are safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	breakers   *circuit.Registry
	cache      IdempotencyCache
	auditTrail chan<- audit.HubCall
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger

	maxRetries    int
	backoffBase   time.Duration
	backoffFactor float64
	sleep         func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, usually to shorten the
// timeout in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithIdempotencyCache replays cached terminal responses for repeated
// mutating calls instead of re-hitting the Hub.
func WithIdempotencyCache(cache IdempotencyCache) Option {
	return func(c *Client) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithAuditTrail sends a masked record of every finished call to the
// audit worker. The send never blocks; a full inbox drops the record.
func WithAuditTrail(inbox chan<- audit.HubCall) Option {
	return func(c *Client) { c.auditTrail = inbox }
}

// WithMetrics wires prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRetryPolicy overrides attempts and backoff. attempts counts the
// first try: 3 means at most two retries.
func WithRetryPolicy(attempts int, base time.Duration, factor float64) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxRetries = attempts
		}
		if base > 0 {
			c.backoffBase = base
		}
		if factor > 0 {
			c.backoffFactor = factor
		}
	}
}

// WithSleep injects the between-retry wait for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient constructs a Hub client. limiter and breakers are
// mandatory collaborators; everything else has a working default.
func NewClient(baseURL string, limiter ratelimit.Limiter, breakers *circuit.Registry, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: defaultRequestTimeout},
		limiter:       limiter,
		breakers:      breakers,
		tracer:        otel.Tracer("carpeta/hub"),
		logger:        logger,
		maxRetries:    3,
		backoffBase:   time.Second,
		backoffFactor: 2.0,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// callRequest describes one Hub exchange for the shared pipeline.
type callRequest struct {
	endpoint string
	method   string
	path     string
	body     any
	// idemKey, when set, replays a cached terminal response instead of
	// calling the Hub again.
	idemKey string
	// payload is the masked view of the request for logs and audit.
	payload map[string]string
}

// RegisterCitizen registers a citizen's folder with this operator.
// A 501 "ya se encuentra registrado" is a business rejection: it is
// not retried and surfaces as success=false.
func (c *Client) RegisterCitizen(ctx context.Context, req RegisterCitizenRequest) (Result, error) {
	sanitized, err := req.sanitized()
	if err != nil {
		return Result{}, &BusinessError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}
	result, _, err := c.call(ctx, callRequest{
		endpoint: EndpointRegisterCitizen,
		method:   http.MethodPost,
		path:     "/apis/registerCitizen",
		body:     sanitized,
		idemKey:  fmt.Sprintf("registerCitizen:%d", sanitized.ID),
		payload:  sanitized.maskedPayload(),
	})
	return result, err
}

// UnregisterCitizen removes a citizen's registration, freeing them to
// register with another operator.
func (c *Client) UnregisterCitizen(ctx context.Context, req UnregisterCitizenRequest) (Result, error) {
	result, _, err := c.call(ctx, callRequest{
		endpoint: EndpointUnregisterCitizen,
		method:   http.MethodDelete,
		path:     "/apis/unregisterCitizen",
		body:     req,
		idemKey:  fmt.Sprintf("unregisterCitizen:%d", req.ID),
		payload:  req.maskedPayload(),
	})
	return result, err
}

// AuthenticateDocument notifies the Hub that a document was verified.
// Only the citizen id, document URL and title are sent.
func (c *Client) AuthenticateDocument(ctx context.Context, req AuthenticateDocumentRequest) (Result, error) {
	sanitized := req.sanitized()
	result, _, err := c.call(ctx, callRequest{
		endpoint: EndpointAuthenticateDocument,
		method:   http.MethodPut,
		path:     "/apis/authenticateDocument",
		body:     sanitized,
		idemKey:  fmt.Sprintf("authdoc:%d:%x", sanitized.IDCitizen, shortHash(sanitized.URLDocument)),
		payload:  sanitized.maskedPayload(),
	})
	return result, err
}

// ValidateCitizen asks the Hub whether a citizen is registered
// anywhere. A 204 means "not registered", which is a clean answer,
// not a failure.
func (c *Client) ValidateCitizen(ctx context.Context, citizenID int64) (ValidateResult, error) {
	result, _, err := c.call(ctx, callRequest{
		endpoint: EndpointValidateCitizen,
		method:   http.MethodGet,
		path:     fmt.Sprintf("/apis/validateCitizen/%d", citizenID),
		payload: map[string]string{
			"id": MaskPII(fmt.Sprintf("%d", citizenID), 4),
		},
	})
	if err != nil {
		return ValidateResult{Result: result}, err
	}
	return ValidateResult{
		Result: result,
		Found:  result.StatusCode != http.StatusNoContent,
	}, nil
}

// GetOperators fetches the raw operator list. Callers wanting caching
// and normalization should go through the operators directory instead.
func (c *Client) GetOperators(ctx context.Context) ([]Operator, Result, error) {
	result, body, err := c.call(ctx, callRequest{
		endpoint: EndpointGetOperators,
		method:   http.MethodGet,
		path:     "/apis/getOperators",
	})
	if err != nil {
		return nil, result, err
	}
	if result.StatusCode == http.StatusNoContent {
		return nil, result, nil
	}

	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, result, &TransientError{StatusCode: result.StatusCode, Message: "malformed operator list"}
	}
	operators := make([]Operator, 0, len(raw))
	for _, entry := range raw {
		operators = append(operators, operatorFromRaw(entry))
	}
	return operators, result, nil
}

// operatorFromRaw tolerates the Hub's inconsistent operator field
// casing. Entries stay unvalidated here; the directory filters them.
func operatorFromRaw(entry map[string]any) Operator {
	var op Operator
	for key, value := range entry {
		s, _ := value.(string)
		switch strings.ToLower(key) {
		case "operatorid", "operator_id", "id":
			if f, ok := value.(float64); ok {
				s = fmt.Sprintf("%.0f", f)
			}
			op.ID = strings.TrimSpace(s)
		case "operatorname", "operator_name", "name":
			op.Name = strings.TrimSpace(s)
		case "transferapiurl", "transfer_api_url", "transferurl", "url":
			op.TransferAPIURL = strings.TrimSpace(s)
		}
	}
	return op
}

// RegisterOperator registers this operator with the Hub.
func (c *Client) RegisterOperator(ctx context.Context, req RegisterOperatorRequest) (Result, error) {
	result, _, err := c.call(ctx, callRequest{
		endpoint: EndpointRegisterOperator,
		method:   http.MethodPost,
		path:     "/apis/registerOperator",
		body:     req,
		payload:  map[string]string{"name": req.Name},
	})
	return result, err
}

// RegisterTransferEndpoint publishes this operator's transfer API URLs
// so peers can push citizen folders to us.
func (c *Client) RegisterTransferEndpoint(ctx context.Context, req RegisterTransferEndpointRequest) (Result, error) {
	result, _, err := c.call(ctx, callRequest{
		endpoint: EndpointRegisterTransferEndpoint,
		method:   http.MethodPut,
		path:     "/apis/registerTransferEndPoint",
		body:     req,
		payload:  map[string]string{"idOperator": req.IDOperator},
	})
	return result, err
}

func (c *Client) call(ctx context.Context, cr callRequest) (Result, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "hub."+cr.endpoint,
		trace.WithAttributes(attribute.String("hub.endpoint", cr.endpoint)))
	defer span.End()

	allowed, err := c.limiter.Allow(ctx, cr.endpoint)
	if err != nil {
		return Result{}, nil, err
	}
	if !allowed {
		if c.metrics != nil {
			c.metrics.IncrementRateLimited(cr.endpoint)
		}
		c.logger.Warn("hub rate limit exceeded", "endpoint", cr.endpoint)
		return Result{}, nil, fmt.Errorf("%s: %w", cr.endpoint, ErrRateLimited)
	}

	if cr.idemKey != "" && c.cache != nil {
		if cached, ok := c.cache.Get(ctx, cr.idemKey); ok {
			c.logger.Info("hub call replayed from idempotency cache",
				"endpoint", cr.endpoint, "status", cached.StatusCode)
			return cached, nil, nil
		}
	}

	breaker := c.breakers.Get(cr.endpoint)
	if err := breaker.Allow(); err != nil {
		if c.metrics != nil {
			c.metrics.IncrementCircuitOpen(cr.endpoint)
		}
		c.logger.Warn("hub circuit open", "endpoint", cr.endpoint)
		return Result{}, nil, fmt.Errorf("%s: %w", cr.endpoint, ErrCircuitOpen)
	}

	start := time.Now()
	result, body, attempts, err := c.attempt(ctx, cr)
	elapsed := time.Since(start)

	outcome := "success"
	switch {
	case err == nil:
		breaker.RecordSuccess()
	case IsBusiness(err):
		// The endpoint answered coherently; only transport-level
		// failures count against its health.
		breaker.RecordSuccess()
		outcome = "business_error"
	default:
		breaker.RecordFailure()
		outcome = "transient_error"
	}
	if c.metrics != nil {
		c.metrics.ObserveCall(cr.endpoint, outcome, elapsed.Seconds())
		c.metrics.SetBreakerState(cr.endpoint, breakerStateValue(breaker.Snapshot().State))
	}
	span.SetAttributes(
		attribute.Int("hub.status_code", result.StatusCode),
		attribute.Int("hub.attempts", attempts),
		attribute.String("hub.outcome", outcome),
	)

	c.recordAudit(cr, result, attempts, err == nil)

	if err != nil {
		return result, nil, err
	}
	if cr.idemKey != "" && c.cache != nil {
		c.cache.Put(ctx, cr.idemKey, result)
	}
	return result, body, nil
}

// attempt runs the HTTP exchange with bounded retries. Only transient
// outcomes consume the retry budget; business rejections return on the
// first occurrence.
func (c *Client) attempt(ctx context.Context, cr callRequest) (Result, []byte, int, error) {
	var lastResult Result
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			delay := c.backoffDelay(i)
			if c.metrics != nil {
				c.metrics.IncrementRetries(cr.endpoint)
			}
			c.logger.Info("retrying hub call",
				"endpoint", cr.endpoint, "attempt", i+1, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return lastResult, nil, i, &TransientError{cause: err}
			}
		}

		result, body, err := c.exchange(ctx, cr)
		if err != nil {
			lastResult, lastErr = Result{}, &TransientError{cause: err}
			continue
		}

		switch classify(result.StatusCode, result.Message) {
		case classSuccess:
			result.Success = true
			return result, body, i + 1, nil
		case classBusiness:
			result.Success = false
			c.logger.Warn("hub rejected request",
				"endpoint", cr.endpoint,
				"status", result.StatusCode,
				"message", truncateForLog(result.Message))
			return result, body, i + 1, &BusinessError{
				StatusCode: result.StatusCode,
				Message:    result.Message,
			}
		default:
			result.Success = false
			lastResult = result
			lastErr = &TransientError{StatusCode: result.StatusCode, Message: result.Message}
			c.logger.Warn("hub call failed",
				"endpoint", cr.endpoint,
				"status", result.StatusCode,
				"message", truncateForLog(result.Message))
		}
	}
	return lastResult, nil, c.maxRetries, lastErr
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := float64(c.backoffBase)
	for i := 1; i < attempt; i++ {
		delay *= c.backoffFactor
	}
	return time.Duration(delay)
}

// exchange performs one HTTP round trip and parses the Hub's body into
// a status and message. The Hub responds with either a JSON object
// holding a "message" field, a bare JSON string, or plain text.
func (c *Client) exchange(ctx context.Context, cr callRequest) (Result, []byte, error) {
	var reqBody io.Reader
	if cr.body != nil {
		raw, err := json.Marshal(cr.body)
		if err != nil {
			return Result{}, nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, cr.method, c.baseURL+cr.path, reqBody)
	if err != nil {
		return Result{}, nil, err
	}
	if cr.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, nil, err
	}

	return Result{
		StatusCode: resp.StatusCode,
		Message:    extractMessage(resp.StatusCode, body),
	}, body, nil
}

func extractMessage(status int, body []byte) string {
	message := strings.TrimSpace(string(body))

	var asObject map[string]any
	if err := json.Unmarshal(body, &asObject); err == nil {
		if m, ok := asObject["message"].(string); ok {
			message = m
		}
	} else {
		var asString string
		if err := json.Unmarshal(body, &asString); err == nil {
			message = asString
		}
	}

	if status == http.StatusNoContent && message == "" {
		message = "sin contenido"
	}
	return message
}

func (c *Client) recordAudit(cr callRequest, result Result, attempts int, success bool) {
	if c.auditTrail == nil {
		return
	}
	call := audit.HubCall{
		Timestamp: time.Now().UTC(),
		Operation: cr.endpoint,
		Payload:   cr.payload,
		Status:    result.StatusCode,
		Message:   truncateForLog(result.Message),
		Attempts:  attempts,
		Success:   success,
	}
	select {
	case c.auditTrail <- call:
	default:
		c.logger.Warn("audit inbox full, dropping hub call record",
			"endpoint", cr.endpoint)
	}
}

func breakerStateValue(s circuit.State) float64 {
	switch s {
	case circuit.StateOpen:
		return 1
	case circuit.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func shortHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
