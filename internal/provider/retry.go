package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// retryPolicy bounds doWithRetry. The reply service answers a client that
// waits only a few seconds per attempt, so the default is one quick retry.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration // cap for server-requested Retry-After
}

var defaultRetry = retryPolicy{maxRetries: 1, baseDelay: 250 * time.Millisecond, maxDelay: 2 * time.Second}

// retryableError is a 5xx or 429 answer.
type retryableError struct {
	statusCode int
	body       string
	retryAfter time.Duration
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// backoff is quadratic with jitter, or the server's Retry-After when it is
// shorter than the policy cap.
func (p retryPolicy) backoff(attempt int, lastErr error) time.Duration {
	if re, ok := lastErr.(*retryableError); ok && re.retryAfter > 0 && re.retryAfter <= p.maxDelay {
		return re.retryAfter
	}
	base := time.Duration(attempt*attempt) * p.baseDelay
	return base + time.Duration(rand.Int63n(int64(base/2+1)))
}

func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// doWithRetry sends the request built by buildReq, retrying network failures,
// 5xx and 429 answers up to policy.maxRetries times.
func doWithRetry(ctx context.Context, client *http.Client, policy retryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.maxRetries; attempt++ {
		if attempt > 0 {
			wait := policy.backoff(attempt, lastErr)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body), retryAfter: retryAfter(resp.Header)}
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", policy.maxRetries, lastErr)
}
