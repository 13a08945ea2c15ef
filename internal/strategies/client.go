// -----------------------------------------------------------------------
// Backend client - strategy execution REST surface
// -----------------------------------------------------------------------

package strategies

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/curro/internal/models"
)

const (
	// DefaultBaseURL points at a locally running analysis backend.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout caps a single request round trip.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit spaces requests to avoid hammering the backend
	// while a poll loop is active.
	DefaultRateLimit = 100 * time.Millisecond
)

// Client is an HTTP client for the strategy execution endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL overrides the backend base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the minimum interval between requests.
func WithRateLimit(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a strategy backend client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:  arbor.NewLogger(),
		limiter: rate.NewLimiter(rate.Every(DefaultRateLimit), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Execute submits a strategy for execution. The request is validated
// locally before anything goes on the wire.
func (c *Client) Execute(ctx context.Context, req *models.StrategyExecutionRequest) (*models.ExecutionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution request: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution request: %w", err)
	}

	endpoint := "/strategies/execute"
	body, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}

	resp, warnings, err := models.DecodeExecutionResponse(body)
	if err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}
	c.logWarnings(endpoint, warnings)

	c.logger.Info().
		Str("run_id", resp.RunID).
		Str("strategy", resp.StrategyCode).
		Int("total_tickers", resp.TotalTickers).
		Msg("Strategy execution submitted")

	return resp, nil
}

// FetchStatus retrieves the current execution status for a run.
func (c *Client) FetchStatus(ctx context.Context, runID string) (*models.ExecutionStatus, error) {
	endpoint := "/strategies/status/" + url.PathEscape(runID)
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	status, warnings, err := models.DecodeExecutionStatus(body)
	if err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}
	c.logWarnings(endpoint, warnings)

	return status, nil
}

// FetchResults retrieves the result payload for a completed run. The
// payload shape belongs to the strategy, so it is passed through opaque.
func (c *Client) FetchResults(ctx context.Context, runID string) (json.RawMessage, error) {
	endpoint := "/strategies/results/" + url.PathEscape(runID)
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, &DecodeError{Endpoint: endpoint, Err: fmt.Errorf("results payload is not valid JSON")}
	}

	return json.RawMessage(body), nil
}

// Cancel requests cancellation of a run. A response with Cancelled false
// is not an error; the backend declined and the caller should re-fetch
// status to learn the authoritative state.
func (c *Client) Cancel(ctx context.Context, runID string) (*models.CancelResponse, error) {
	endpoint := "/strategies/cancel/" + url.PathEscape(runID)
	body, err := c.do(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := models.DecodeCancelResponse(body)
	if err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}

	c.logger.Info().
		Str("run_id", runID).
		Bool("cancelled", resp.Cancelled).
		Msg("Cancellation request answered")

	return resp, nil
}

// FetchQueue retrieves the backend execution queue.
func (c *Client) FetchQueue(ctx context.Context) (*models.ExecutionQueueResponse, error) {
	endpoint := "/strategies/queue"
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	queue, warnings, err := models.DecodeExecutionQueue(body)
	if err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}
	c.logWarnings(endpoint, warnings)

	if queue.ExceedsConcurrencyLimit() {
		c.logger.Warn().
			Int("running", queue.RunningCount()).
			Int("max_concurrent", queue.MaxConcurrent).
			Msg("Queue reports more running executions than its concurrency limit")
	}

	return queue, nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs a single request and returns the raw response body.
// Connectivity failures map to TransportError, non-2xx responses to
// ServerError.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Msg("Requesting strategy backend")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &ServerError{
			StatusCode: resp.StatusCode,
			Message:    message,
			Endpoint:   endpoint,
		}
	}

	return body, nil
}

func (c *Client) logWarnings(endpoint string, warnings []string) {
	for _, warning := range warnings {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg(warning)
	}
}
