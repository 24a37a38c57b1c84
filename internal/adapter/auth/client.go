package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"prism-chat/internal/domain"
	"prism-chat/internal/infra/config"
	"prism-chat/internal/usecase/eventbus"
)

// defaultCacheTTL bounds how long a fetched session is trusted without
// revalidation.
const defaultCacheTTL = 30 * time.Second

// Session is an authenticated session against the auth service.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         domain.User
}

// Expired reports whether the access token is past (or within a minute of)
// its expiry.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Until(s.ExpiresAt) < time.Minute
}

// Client talks to a GoTrue-compatible auth service. Sessions are cached for
// a short TTL so chatty callers don't hammer the user endpoint. A successful
// refresh publishes EventTokenRefreshed on the bus so interested stores can
// clear stale auth errors.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	bus     *eventbus.Bus
	logger  *slog.Logger

	mu       sync.Mutex
	session  *Session
	cachedAt time.Time
	cacheTTL time.Duration
}

// NewClient creates an auth client.
func NewClient(cfg config.AuthConfig, bus *eventbus.Bus, logger *slog.Logger) *Client {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = defaultCacheTTL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		bus:      bus,
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

// SetSession seeds the client with tokens obtained out of band (config,
// browser handshake). The session is validated lazily on first use.
func (c *Client) SetSession(accessToken, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = &Session{AccessToken: accessToken, RefreshToken: refreshToken}
	c.cachedAt = time.Time{}
}

// GetSession returns the current session, revalidating against the auth
// service when the cache has gone stale. A 401 during revalidation triggers
// one refresh attempt before failing.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	session := c.session
	fresh := session != nil && !session.Expired() && time.Since(c.cachedAt) < c.cacheTTL
	c.mu.Unlock()

	if session == nil {
		return nil, domain.NewDomainError("auth.GetSession", domain.ErrAuthInvalid, "no session")
	}
	if fresh {
		return session, nil
	}

	user, err := c.fetchUser(ctx, session.AccessToken)
	if err != nil {
		if domain.HTTPStatus(err) == http.StatusUnauthorized || session.Expired() {
			if rerr := c.RefreshSession(ctx); rerr != nil {
				return nil, rerr
			}
			c.mu.Lock()
			session = c.session
			c.mu.Unlock()
			return session, nil
		}
		return nil, err
	}

	c.mu.Lock()
	session.User = *user
	c.cachedAt = time.Now()
	c.mu.Unlock()
	return session, nil
}

// RefreshSession exchanges the refresh token for a new session and announces
// the new token on the event bus.
func (c *Client) RefreshSession(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil || session.RefreshToken == "" {
		return domain.NewDomainError("auth.RefreshSession", domain.ErrAuthInvalid, "no refresh token")
	}

	body, _ := json.Marshal(map[string]string{"refresh_token": session.RefreshToken})
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}

	refreshed := &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		User:         resp.User.toDomain(),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = session.RefreshToken
	}

	c.mu.Lock()
	c.session = refreshed
	c.cachedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("session refreshed", "user", refreshed.User.ID)
	c.bus.Publish(ctx, domain.Event{
		Type:      domain.EventTokenRefreshed,
		Payload:   refreshed.User.ID,
		Timestamp: time.Now(),
	})
	return nil
}

// GetCurrentUser returns the authenticated user, optionally bypassing the
// session cache.
func (c *Client) GetCurrentUser(ctx context.Context, forceRefresh bool) (*domain.User, error) {
	if forceRefresh {
		c.mu.Lock()
		c.cachedAt = time.Time{}
		c.mu.Unlock()
	}
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	user := session.User
	return &user, nil
}

// AccessToken returns a usable bearer token, refreshing an expired session
// first. Satisfies the data store's token source.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return "", domain.NewDomainError("auth.AccessToken", domain.ErrAuthInvalid, "no session")
	}
	if session.Expired() {
		if err := c.RefreshSession(ctx); err != nil {
			return "", err
		}
		c.mu.Lock()
		session = c.session
		c.mu.Unlock()
	}
	return session.AccessToken, nil
}

// SignOut revokes the session server-side, drops local state and announces
// the sign-out.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.cachedAt = time.Time{}
	c.mu.Unlock()

	if session == nil {
		return nil
	}

	if err := c.do(ctx, http.MethodPost, "/logout", session.AccessToken, nil, nil); err != nil {
		c.logger.Warn("server-side logout failed", "error", err)
	}

	c.bus.Publish(ctx, domain.Event{
		Type:      domain.EventSignedOut,
		Timestamp: time.Now(),
	})
	return nil
}

func (c *Client) fetchUser(ctx context.Context, token string) (*domain.User, error) {
	var wire wireUser
	if err := c.do(ctx, http.MethodGet, "/user", token, nil, &wire); err != nil {
		return nil, err
	}
	user := wire.toDomain()
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth request: %w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sentinel := domain.ErrAuthInvalid
		if resp.StatusCode >= 500 {
			sentinel = domain.ErrNetwork
		}
		return &domain.ProviderHTTPError{Status: resp.StatusCode, Body: string(respBody), Err: sentinel}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// --- auth service wire types ---

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	User         wireUser `json:"user"`
}

type wireUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

func (u wireUser) toDomain() domain.User {
	user := domain.User{ID: u.ID, Email: u.Email}
	if t, err := time.Parse(time.RFC3339, u.CreatedAt); err == nil {
		user.CreatedAt = t
	}
	return user
}
