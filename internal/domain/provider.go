package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g. "openai", "google").
	Name() string
}

// StreamingLLMProvider extends LLMProvider with streaming support.
// The returned channel is finite and single-pass; it is closed when the
// stream ends, the caller's ctx is cancelled, or the transport fails.
type StreamingLLMProvider interface {
	LLMProvider
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}
