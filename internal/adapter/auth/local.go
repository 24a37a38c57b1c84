package auth

import (
	"context"
	"time"

	"prism-chat/internal/domain"
)

// LocalProvider is the signed-in identity for local deployments with no auth
// backend: one fixed user, refreshes are no-ops, sessions never expire.
type LocalProvider struct {
	user domain.User
}

// NewLocalProvider builds a provider for the given local user.
func NewLocalProvider(user domain.User) *LocalProvider {
	if user.ID == "" {
		user.ID = "local-user"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	return &LocalProvider{user: user}
}

// GetCurrentUser returns the fixed local user.
func (p *LocalProvider) GetCurrentUser(_ context.Context, _ bool) (*domain.User, error) {
	user := p.user
	return &user, nil
}

// RefreshSession is a no-op: there is no remote session to renew.
func (p *LocalProvider) RefreshSession(context.Context) error { return nil }

// AccessToken returns an empty token; the sqlite backend ignores it.
func (p *LocalProvider) AccessToken(context.Context) (string, error) { return "", nil }
