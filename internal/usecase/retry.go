package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"prism-chat/internal/domain"
)

const (
	maxRetryAttempts = 5
	retryBaseDelay   = time.Second
	retryMaxDelay    = 5 * time.Second
)

// HealthChecker probes whether the data store is reachable. The data store
// implementations satisfy it with Ping.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SessionRefresher renews an expired or soon-to-expire session. The auth
// client satisfies it.
type SessionRefresher interface {
	RefreshSession(ctx context.Context) error
}

// RetryPolicy reruns flaky data store operations. Auth-class failures get a
// session refresh before the next attempt; network-class failures get a
// health probe, with a proactive refresh when the store looks down.
// Anything else is not retried.
type RetryPolicy struct {
	health   HealthChecker
	sessions SessionRefresher
	logger   *slog.Logger

	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration)
}

// NewRetryPolicy creates a retry policy. health may be nil when no probe is
// available.
func NewRetryPolicy(health HealthChecker, sessions SessionRefresher, logger *slog.Logger) *RetryPolicy {
	return &RetryPolicy{
		health:      health,
		sessions:    sessions,
		logger:      logger,
		maxAttempts: maxRetryAttempts,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

// WithRetry runs fn up to maxAttempts times with exponential backoff capped
// at retryMaxDelay. The last error is returned unchanged on exhaustion so
// callers can still classify it.
func (p *RetryPolicy) WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		authClass := IsAuthError(lastErr)
		netClass := isNetworkError(lastErr)
		if !authClass && !netClass {
			return lastErr
		}
		if attempt == p.maxAttempts || ctx.Err() != nil {
			break
		}

		p.logger.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"auth_error", authClass,
			"error", lastErr,
		)

		if authClass {
			if err := p.sessions.RefreshSession(ctx); err != nil {
				p.logger.Warn("session refresh failed", "op", op, "error", err)
			}
		} else if p.health != nil {
			if err := p.health.Ping(ctx); err != nil {
				p.logger.Warn("health probe failed, refreshing session", "op", op, "error", err)
				if rerr := p.sessions.RefreshSession(ctx); rerr != nil {
					p.logger.Warn("session refresh failed", "op", op, "error", rerr)
				}
			}
		}

		p.sleep(ctx, backoffDelay(attempt))
	}
	return lastErr
}

// backoffDelay doubles from retryBaseDelay per attempt, capped at
// retryMaxDelay.
func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

var authErrorMarkers = []string{"jwt", "auth", "session", "expired", "pgrst301", "pgrst116"}

// IsAuthError reports whether err looks like a credential or session
// problem: the auth sentinel, a 401, or service error text mentioning
// tokens and sessions.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrAuthInvalid) {
		return true
	}
	if domain.HTTPStatus(err) == 401 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var networkErrorMarkers = []string{"fetch", "network", "timeout", "connection refused"}

// isNetworkError reports whether err looks transient: network or timeout
// sentinels, matching error text, or any failure that never produced an
// HTTP status.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrNetwork) || errors.Is(err, domain.ErrTimeout) {
		return true
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range networkErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return domain.HTTPStatus(err) == 0
}
