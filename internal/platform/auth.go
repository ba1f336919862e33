// File: internal/platform/auth.go
package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
)

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

// tokenState holds the bearer token shared by all workers. expiresAt is zero
// when the token carries no readable exp claim.
type tokenState struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (s *tokenState) get() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.expiresAt
}

func (s *tokenState) set(token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = expiresAt
}

// invalidate clears the token only if it still matches the one a request
// failed with, so a 401 racing a fresh re-authentication cannot wipe the new
// token.
func (s *tokenState) invalidate(stale string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == stale {
		s.token = ""
		s.expiresAt = time.Time{}
	}
}

// tokenExpiry extracts the exp claim without verifying the signature. The
// client only schedules refreshes from it; the platform remains the
// authority on validity.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Authenticate performs the credential handshake and caches the bearer
// token. It is called once up front by the upload pipeline and again by the
// client itself when a token approaches expiry.
func (c *Client) Authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return &schemas.AuthError{Reason: "platform credentials not configured"}
	}

	body, err := json.Marshal(authRequest{Username: c.cfg.Username, Password: c.cfg.Password})
	if err != nil {
		return &schemas.AuthError{Reason: "encoding credentials", Err: err}
	}

	var resp authResponse
	err = c.do(ctx, apiRequest{
		op:          "authenticate",
		method:      "POST",
		path:        "/api/v1/authenticate",
		body:        body,
		contentType: "application/json",
		anonymous:   true,
	}, &resp)
	if err != nil {
		return &schemas.AuthError{Reason: "credential handshake rejected", Err: err}
	}
	if resp.Token == "" {
		return &schemas.AuthError{Reason: "platform returned an empty token"}
	}

	expiresAt := tokenExpiry(resp.Token)
	c.token.set(resp.Token, expiresAt)

	fields := []zap.Field{zap.String("username", c.cfg.Username)}
	if !expiresAt.IsZero() {
		fields = append(fields, zap.Time("token_expires", expiresAt))
	}
	c.logger.Info("Authenticated against reporting platform.", fields...)
	return nil
}

// ensureToken returns a token that is expected to outlive the request about
// to be issued, re-authenticating when the cached one is missing or inside
// the refresh window.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	token, expiresAt := c.token.get()
	if tokenUsable(token, expiresAt, c.cfg.TokenRefreshWindow) {
		return token, nil
	}

	c.authMu.Lock()
	defer c.authMu.Unlock()
	// Another worker may have refreshed while we waited for the lock.
	token, expiresAt = c.token.get()
	if tokenUsable(token, expiresAt, c.cfg.TokenRefreshWindow) {
		return token, nil
	}

	if token != "" {
		c.logger.Info("Session token near expiry; re-authenticating.",
			zap.Time("token_expires", expiresAt))
	}
	if err := c.authenticateLocked(ctx); err != nil {
		return "", fmt.Errorf("refreshing session token: %w", err)
	}
	token, _ = c.token.get()
	return token, nil
}

func tokenUsable(token string, expiresAt time.Time, window time.Duration) bool {
	if token == "" {
		return false
	}
	if expiresAt.IsZero() {
		return true
	}
	return time.Until(expiresAt) > window
}
