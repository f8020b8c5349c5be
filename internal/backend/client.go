// Package backend acquires reply candidates from the reply-generation service,
// walking a fixed list of local endpoints and falling back to offline replies.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"chataide/internal/domain"
	"chataide/internal/provider"
)

// OfflineNotice is shown to the user whenever offline replies are returned.
const OfflineNotice = "backend unavailable, showing offline suggestions"

const (
	defaultScheme         = "http"
	defaultHost           = "localhost"
	defaultBasePort       = 5000
	defaultPortSpan       = 3
	defaultPath           = "/generate-replies"
	defaultAttemptTimeout = 4 * time.Second

	maxResponseBytes = 64 << 10
)

// StatusError is returned for a non-2xx backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

type Config struct {
	Scheme         string
	Host           string
	BasePort       int
	PortSpan       int
	Path           string
	AttemptTimeout time.Duration
	Age            *int // forwarded to the service when set
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Acquisition is the outcome of one Acquire call. Replies always holds three
// non-empty strings.
type Acquisition struct {
	Replies   domain.ReplySet         `json:"replies"`
	Source    domain.ReplySource      `json:"source"`
	Endpoint  string                  `json:"endpoint,omitempty"`
	Attempts  []domain.BackendAttempt `json:"attempts"`
	LastError error                   `json:"-"`
	Notice    string                  `json:"notice,omitempty"`
}

// Client tries each endpoint once, in order, and stops at the first good
// answer. It has no per-call state and may be shared.
type Client struct {
	endpoints []string
	timeout   time.Duration
	age       *int
	http      *http.Client
	logger    *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.Scheme == "" {
		cfg.Scheme = defaultScheme
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.BasePort <= 0 {
		cfg.BasePort = defaultBasePort
	}
	if cfg.PortSpan <= 0 {
		cfg.PortSpan = defaultPortSpan
	}
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = provider.SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	endpoints := make([]string, cfg.PortSpan)
	for i := range endpoints {
		endpoints[i] = fmt.Sprintf("%s://%s:%d%s", cfg.Scheme, cfg.Host, cfg.BasePort+i, cfg.Path)
	}
	return &Client{
		endpoints: endpoints,
		timeout:   cfg.AttemptTimeout,
		age:       cfg.Age,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
	}
}

// Endpoints returns the candidate URLs in the order they are tried.
func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// Acquire returns reply candidates for conv. It never fails: when every
// endpoint is exhausted it returns the offline replies for the conversation
// tone and sets Notice and LastError.
func (c *Client) Acquire(ctx context.Context, conv domain.Conversation) Acquisition {
	body, err := json.Marshal(domain.ReplyRequest{Messages: conv.Texts(), Age: c.age})
	if err != nil {
		return c.fallback(conv, nil, fmt.Errorf("encode request: %w", err))
	}

	attempts := make([]domain.BackendAttempt, 0, len(c.endpoints))
	var lastErr error
	for i, ep := range c.endpoints {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		start := time.Now()
		replies, err := c.try(ctx, ep, body)
		attempt := domain.BackendAttempt{
			Endpoint:  ep,
			Outcome:   classify(err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err == nil {
			attempts = append(attempts, attempt)
			c.logger.Info("replies acquired", "endpoint", ep, "attempt", i+1, "latency_ms", attempt.LatencyMs)
			return Acquisition{
				Replies:  replies,
				Source:   domain.SourceRemote,
				Endpoint: ep,
				Attempts: attempts,
			}
		}

		var se *StatusError
		if errors.As(err, &se) {
			attempt.Status = se.Code
		}
		attempt.Err = err.Error()
		attempts = append(attempts, attempt)
		lastErr = err
		c.logger.Debug("backend attempt failed, trying next",
			"endpoint", ep, "attempt", i+1, "outcome", attempt.Outcome, "error", err)
	}

	return c.fallback(conv, attempts, lastErr)
}

func (c *Client) fallback(conv domain.Conversation, attempts []domain.BackendAttempt, lastErr error) Acquisition {
	c.logger.Warn("all backend endpoints failed, using offline replies",
		"attempts", len(attempts), "tone", conv.Tone, "last_error", lastErr)
	if attempts == nil {
		attempts = []domain.BackendAttempt{}
	}
	err := domain.ErrBackendUnreachable
	if lastErr != nil {
		err = fmt.Errorf("%w: %v", domain.ErrBackendUnreachable, lastErr)
	}
	return Acquisition{
		Replies:   OfflineReplies(conv.Tone),
		Source:    domain.SourceFallback,
		Attempts:  attempts,
		LastError: err,
		Notice:    OfflineNotice,
	}
}

// try performs a single POST bounded by the per-attempt timeout.
func (c *Client) try(ctx context.Context, endpoint string, body []byte) (domain.ReplySet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.ReplySet{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ReplySet{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.ReplySet{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ReplySet{}, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}

	var rr domain.ReplyResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return domain.ReplySet{}, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	set, ok := domain.ReplySetFrom(rr.Replies)
	if !ok {
		return domain.ReplySet{}, fmt.Errorf("%w: expected 3 non-empty replies, got %d", domain.ErrMalformedResponse, len(rr.Replies))
	}
	return set, nil
}

func classify(err error) domain.Outcome {
	if err == nil {
		return domain.OutcomeOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return domain.OutcomeHTTPError
	}
	if errors.Is(err, domain.ErrMalformedResponse) {
		return domain.OutcomeMalformed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.OutcomeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.OutcomeTimeout
	}
	return domain.OutcomeNetworkError
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
