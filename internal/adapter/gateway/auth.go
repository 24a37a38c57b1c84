package gateway

import (
	"crypto/subtle"

	"prism-chat/internal/domain"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// StaticTokenAuth authenticates clients against a single shared token using
// constant-time comparison. An empty configured token admits everyone, which
// is only sensible for localhost development.
type StaticTokenAuth struct {
	token []byte
}

// NewStaticTokenAuth builds an authenticator for the given shared token.
func NewStaticTokenAuth(token string) *StaticTokenAuth {
	return &StaticTokenAuth{token: []byte(token)}
}

// Authenticate returns client info when the token matches.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if len(s.token) == 0 {
		return &ClientInfo{Name: "local"}, nil
	}
	if subtle.ConstantTimeCompare([]byte(token), s.token) == 1 {
		return &ClientInfo{Name: "browser"}, nil
	}
	return nil, domain.ErrAuthInvalid
}
