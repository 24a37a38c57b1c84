package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"prism-chat/internal/domain"
)

type fakeHealth struct {
	err   error
	calls int
}

func (f *fakeHealth) Ping(context.Context) error {
	f.calls++
	return f.err
}

type fakeRefresher struct {
	err   error
	calls int
}

func (f *fakeRefresher) RefreshSession(context.Context) error {
	f.calls++
	return f.err
}

func newTestPolicy(health *fakeHealth, refresher *fakeRefresher) (*RetryPolicy, *[]time.Duration) {
	p := NewRetryPolicy(health, refresher, slog.Default())
	delays := &[]time.Duration{}
	p.sleep = func(_ context.Context, d time.Duration) {
		*delays = append(*delays, d)
	}
	return p, delays
}

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	p, delays := newTestPolicy(&fakeHealth{}, &fakeRefresher{})

	calls := 0
	err := p.WithRetry(context.Background(), "load", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if calls != 1 || len(*delays) != 0 {
		t.Errorf("calls = %d, delays = %v", calls, *delays)
	}
}

func TestWithRetryBackoffSchedule(t *testing.T) {
	p, delays := newTestPolicy(&fakeHealth{}, &fakeRefresher{})

	calls := 0
	err := p.WithRetry(context.Background(), "load", func(context.Context) error {
		calls++
		return domain.ErrNetwork
	})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("err = %v, want last error re-raised", err)
	}
	if calls != maxRetryAttempts {
		t.Errorf("calls = %d, want %d", calls, maxRetryAttempts)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestWithRetryAuthErrorRefreshesSession(t *testing.T) {
	refresher := &fakeRefresher{}
	p, _ := newTestPolicy(&fakeHealth{}, refresher)

	calls := 0
	err := p.WithRetry(context.Background(), "load", func(context.Context) error {
		calls++
		if refresher.calls == 0 {
			return &domain.ProviderHTTPError{Status: 401, Body: `{"code":"PGRST301"}`, Err: domain.ErrAuthInvalid}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", refresher.calls)
	}
}

func TestWithRetryNetworkErrorProbesHealth(t *testing.T) {
	health := &fakeHealth{err: fmt.Errorf("connection refused")}
	refresher := &fakeRefresher{}
	p, _ := newTestPolicy(health, refresher)

	attempts := 0
	p.WithRetry(context.Background(), "load", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.ErrNetwork
		}
		return nil
	})

	if health.calls != 2 {
		t.Errorf("health probes = %d, want 2", health.calls)
	}
	// Unhealthy probe escalates to a session refresh.
	if refresher.calls != 2 {
		t.Errorf("refresh calls = %d, want 2", refresher.calls)
	}
}

func TestWithRetryNonRetryableReturnsImmediately(t *testing.T) {
	p, delays := newTestPolicy(&fakeHealth{}, &fakeRefresher{})

	calls := 0
	err := p.WithRetry(context.Background(), "load", func(context.Context) error {
		calls++
		return domain.ErrNotFound
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 || len(*delays) != 0 {
		t.Errorf("calls = %d, delays = %v, want single attempt", calls, *delays)
	}
}

func TestIsAuthErrorClassification(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{domain.ErrAuthInvalid, true},
		{&domain.ProviderHTTPError{Status: 401, Body: "x", Err: domain.ErrAuthInvalid}, true},
		{fmt.Errorf("JWT expired"), true},
		{fmt.Errorf("session missing"), true},
		{fmt.Errorf("PGRST116: no rows"), true},
		{domain.ErrNetwork, false},
		{fmt.Errorf("syntax error"), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsAuthError(tt.err); got != tt.want {
			t.Errorf("IsAuthError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsNetworkErrorClassification(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{domain.ErrNetwork, true},
		{domain.ErrTimeout, true},
		{fmt.Errorf("fetch failed"), true},
		{fmt.Errorf("request timeout"), true},
		{domain.ErrNotFound, false},
		{domain.ErrInvalidInput, false},
		{&domain.ProviderHTTPError{Status: 400, Body: "x", Err: domain.ErrInvalidInput}, false},
		// No status attached at all: assume transient.
		{fmt.Errorf("something odd happened"), true},
		{nil, false},
	}

	for _, tt := range tests {
		if got := isNetworkError(tt.err); got != tt.want {
			t.Errorf("isNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
