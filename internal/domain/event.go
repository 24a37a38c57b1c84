package domain

import (
	"context"
	"time"
)

// EventType identifies a class of in-process event.
type EventType string

// Auth lifecycle events published on the bus. The chat store subscribes to
// these instead of being called directly by the auth layer.
const (
	EventTokenRefreshed EventType = "auth.token_refreshed"
	EventSignedOut      EventType = "auth.signed_out"
)

// Event is an in-process notification with an optional payload.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event Event)
