package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Wrap these with fmt.Errorf("%w: ...")
// so callers can classify with errors.Is.
var (
	ErrNotFound          = fmt.Errorf("not found")
	ErrTimeout           = fmt.Errorf("operation timed out")
	ErrInvalidInput      = fmt.Errorf("invalid input")
	ErrCredentialMissing = fmt.Errorf("provider credential not configured")
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrNetwork           = fmt.Errorf("network unavailable")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
	ErrProvider          = fmt.Errorf("provider error")
	ErrProviderNotFound  = fmt.Errorf("llm provider not found")
	ErrNoConversation    = fmt.Errorf("no conversation selected")
	ErrEmptyResponse     = fmt.Errorf("no response content generated")
)

// ProviderHTTPError carries the HTTP status and body of a failed provider call.
// It wraps the sentinel matching its status class so errors.Is still works.
type ProviderHTTPError struct {
	Status int
	Body   string
	Err    error
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

func (e *ProviderHTTPError) Unwrap() error { return e.Err }

// HTTPStatus extracts the HTTP status from err if it wraps a
// ProviderHTTPError, and 0 otherwise.
func HTTPStatus(err error) int {
	var pe *ProviderHTTPError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "ChatStore.SendMessage")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
