// File: internal/platform/client.go
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wyatt727/BSTI/api/schemas"
	"github.com/wyatt727/BSTI/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errorBodyLimit caps how much of a failure response is kept for the error
// message.
const errorBodyLimit = 2 * 1024

// Client talks to the reporting platform. It is safe for concurrent use; the
// rate limiter and session token are shared across all callers.
type Client struct {
	cfg        config.PlatformConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	baseURL    string

	token  tokenState
	authMu sync.Mutex
}

// NewClient validates the endpoint configuration and builds the client.
func NewClient(cfg config.PlatformConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("platform")

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing platform base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("platform base URL %q must be http or https", cfg.BaseURL)
	}

	return &Client{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg, logger),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateBurst),
		logger:     logger,
		baseURL:    strings.TrimRight(base.String(), "/"),
	}, nil
}

// apiRequest is one platform call, replayable across retries because the
// body is held as bytes.
type apiRequest struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	// anonymous requests skip the bearer token; only authentication itself.
	anonymous bool
}

// do issues the request with rate limiting, bounded retries with exponential
// backoff on transient failures, and a single re-authentication replay on an
// unexpected 401. A 2xx response is decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, req apiRequest, out any) error {
	var (
		lastErr    error
		lastStatus int
		reauthed   bool
		attempt    int
	)

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		status, retryAfter, usedToken, err := c.send(ctx, req, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Authentication failures already exhausted their own retries.
		var authErr *schemas.AuthError
		if errors.As(err, &authErr) {
			return err
		}

		// A 401 on an authenticated call means the cached token died early.
		// Re-authenticate once and replay without consuming an attempt.
		if status == http.StatusUnauthorized && !req.anonymous && !reauthed {
			reauthed = true
			c.token.invalidate(usedToken)
			c.logger.Warn("Session token rejected mid-run; re-authenticating once.",
				zap.String("op", req.op))
			if _, authErr := c.ensureToken(ctx); authErr != nil {
				return &schemas.UploadError{Op: req.op, StatusCode: status, Attempts: attempt + 1, Err: authErr}
			}
			continue
		}

		attempt++
		lastErr = err
		lastStatus = status
		if attempt >= c.cfg.MaxAttempts || !transient(status) {
			break
		}

		delay := c.backoffDelay(attempt, retryAfter)
		c.logger.Warn("Platform call failed; backing off.",
			zap.String("op", req.op),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	return &schemas.UploadError{Op: req.op, StatusCode: lastStatus, Attempts: attempt, Err: lastErr}
}

// send performs exactly one HTTP exchange. It returns the status code (zero
// when the request never completed), any Retry-After hint, and the token the
// request carried.
func (c *Client) send(ctx context.Context, req apiRequest, out any) (int, time.Duration, string, error) {
	var token string
	if !req.anonymous {
		var err error
		if token, err = c.ensureToken(ctx); err != nil {
			return 0, 0, "", err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, bytes.NewReader(req.body))
	if err != nil {
		return 0, 0, token, fmt.Errorf("building %s %s: %w", req.method, req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, 0, token, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	if err := decodeResponse(resp); err != nil {
		return resp.StatusCode, 0, token, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), token,
			fmt.Errorf("%s %s: status %d: %s", req.method, req.path, resp.StatusCode,
				strings.TrimSpace(string(excerpt)))
	}

	if out == nil {
		// Drain so the connection returns to the pool.
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, 0, token, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, 0, token, fmt.Errorf("reading %s %s response: %w", req.method, req.path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, 0, token, fmt.Errorf("decoding %s %s response: %w", req.method, req.path, err)
		}
	}
	return resp.StatusCode, 0, token, nil
}

// transient reports whether a failed call is worth retrying: transport
// errors (status zero), rate limiting, and server-side errors. Client errors
// other than 429 are final.
func transient(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// backoffDelay doubles the initial backoff per attempt with plus/minus 20%
// jitter, capped at the configured maximum. A server-provided Retry-After
// wins over the computed delay.
func (c *Client) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > c.cfg.RetryBackoffMax {
			return c.cfg.RetryBackoffMax
		}
		return retryAfter
	}

	delay := c.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.RetryBackoffMax {
			delay = c.cfg.RetryBackoffMax
			break
		}
	}
	jittered := time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
	if jittered > c.cfg.RetryBackoffMax {
		return c.cfg.RetryBackoffMax
	}
	return jittered
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
