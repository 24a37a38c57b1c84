package llm

import (
	"context"
	"log/slog"

	"prism-chat/internal/domain"
	"prism-chat/internal/infra/config"
)

// defaultTemperature is applied when the caller does not specify one.
const defaultTemperature = 0.7

// Gateway routes chat requests to the configured provider adapters and
// guarantees a response: when no credential is configured anywhere, when the
// requested provider has no credential, or when a real provider call fails
// for any reason, the demo responder answers instead. Provider errors never
// escape to callers.
type Gateway struct {
	providers map[string]domain.StreamingLLMProvider
	demo      *DemoProvider
	logger    *slog.Logger
}

// NewGateway builds the gateway from configuration. Only providers with a
// resolvable credential get a real adapter; each one is wrapped in a circuit
// breaker when breakers are enabled.
func NewGateway(cfg config.LLMConfig, logger *slog.Logger) *Gateway {
	g := &Gateway{
		providers: make(map[string]domain.StreamingLLMProvider),
		demo:      NewDemoProvider(logger),
		logger:    logger,
	}

	for _, pc := range cfg.Providers {
		if pc.APIKey == "" {
			logger.Info("provider has no credential, demo fallback will answer", "provider", pc.Name)
			continue
		}

		var provider domain.StreamingLLMProvider
		switch pc.Name {
		case "openai":
			provider = NewOpenAIProvider(pc, logger)
		case "anthropic":
			provider = NewAnthropicProvider(pc, logger)
		case "google":
			provider = NewGeminiProvider(pc, logger)
		default:
			logger.Warn("unknown provider in config, skipping", "provider", pc.Name)
			continue
		}

		if cfg.CircuitBreaker.Enabled {
			provider = NewCircuitBreakerProvider(provider, cfg.CircuitBreaker, logger)
		}
		g.providers[pc.Name] = provider
	}

	return g
}

// DemoMode reports whether no provider credential is configured at all.
func (g *Gateway) DemoMode() bool { return len(g.providers) == 0 }

// SendMessage sends a chat request and returns the complete response.
func (g *Gateway) SendMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}
	req = g.trimToContext(req)

	provider, ok := g.pick(req.Provider)
	if !ok {
		return g.demo.Chat(ctx, req)
	}

	resp, err := provider.Chat(ctx, req)
	if err != nil {
		g.logger.Warn("provider call failed, falling back to demo",
			"provider", req.Provider, "error", err)
		return g.demo.Chat(ctx, req)
	}
	return resp, nil
}

// StreamMessage sends a chat request and returns a channel of deltas. The
// channel is finite and single-pass: it closes after the Done delta. Failure
// to open a real stream falls back to the demo responder; errors after the
// stream opens surface as a short or empty stream for the caller to handle.
func (g *Gateway) StreamMessage(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}
	req = g.trimToContext(req)

	provider, ok := g.pick(req.Provider)
	if !ok {
		return g.demo.ChatStream(ctx, req)
	}

	ch, err := provider.ChatStream(ctx, req)
	if err != nil {
		g.logger.Warn("provider stream failed to open, falling back to demo",
			"provider", req.Provider, "error", err)
		return g.demo.ChatStream(ctx, req)
	}
	return ch, nil
}

// trimToContext drops the oldest non-system turns until the request fits the
// model's context window. The leading system message and the final turn are
// never dropped.
func (g *Gateway) trimToContext(req domain.ChatRequest) domain.ChatRequest {
	if FitsContext(req) || len(req.Messages) == 0 {
		return req
	}

	head := 0
	if req.Messages[0].Role == domain.RoleSystem {
		head = 1
	}
	msgs := make([]domain.ChatMessage, len(req.Messages))
	copy(msgs, req.Messages)
	dropped := 0
	for len(msgs) > head+1 {
		trial := req
		trial.Messages = msgs
		if FitsContext(trial) {
			break
		}
		msgs = append(msgs[:head], msgs[head+1:]...)
		dropped++
	}
	if dropped > 0 {
		g.logger.Warn("conversation exceeds context window, dropped oldest turns",
			"provider", req.Provider, "model", req.Model, "dropped", dropped)
	}
	req.Messages = msgs
	return req
}

// pick resolves the adapter for a provider name. The ok result is false when
// the gateway is in demo mode or the named provider has no credential.
func (g *Gateway) pick(name string) (domain.StreamingLLMProvider, bool) {
	if g.DemoMode() {
		g.logger.Debug("no credentials configured, using demo mode")
		return nil, false
	}
	provider, ok := g.providers[name]
	if !ok {
		g.logger.Debug("provider not available, using demo mode", "provider", name)
		return nil, false
	}
	return provider, true
}
