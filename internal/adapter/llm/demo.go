package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"prism-chat/internal/domain"
)

// DemoProvider produces canned responses when no real provider credential is
// available. It satisfies the same interfaces as the transport adapters so
// the gateway can substitute it transparently.
type DemoProvider struct {
	logger *slog.Logger

	// sleep is swappable so tests don't wait out the streaming jitter.
	sleep func(ctx context.Context, d time.Duration)
}

// NewDemoProvider creates a demo responder.
func NewDemoProvider(logger *slog.Logger) *DemoProvider {
	return &DemoProvider{
		logger: logger,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

// Name implements domain.LLMProvider.
func (p *DemoProvider) Name() string { return "demo" }

// Chat implements domain.LLMProvider.
func (p *DemoProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	content := demoResponse(req.LastUserText(), req.Provider)
	p.logger.Debug("demo response generated", "provider", req.Provider, "model", req.Model)

	return &domain.ChatResponse{
		ID:    fmt.Sprintf("demo-%d", time.Now().UnixMilli()),
		Model: req.Model,
		Message: domain.ChatMessage{
			Role:    domain.RoleAssistant,
			Content: content,
		},
		FinishReason: "stop",
		Usage: domain.Usage{
			PromptTokens:     50,
			CompletionTokens: 100,
			TotalTokens:      150,
		},
		CreatedAt: time.Now(),
	}, nil
}

// ChatStream implements domain.StreamingLLMProvider. The canned response is
// split on whitespace and paced with 50-150ms of jitter per word to read
// like a live stream.
func (p *DemoProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	content := demoResponse(req.LastUserText(), req.Provider)

	ch := make(chan domain.StreamDelta)
	go func() {
		defer close(ch)

		words := strings.Fields(content)
		for i, word := range words {
			p.sleep(ctx, time.Duration(50+rand.Intn(100))*time.Millisecond)

			chunk := word
			if i < len(words)-1 {
				chunk += " "
			}
			select {
			case ch <- domain.StreamDelta{Content: chunk}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case ch <- domain.StreamDelta{
			Done:  true,
			Usage: &domain.Usage{PromptTokens: 50, CompletionTokens: 100, TotalTokens: 150},
		}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

var demoTemplates = map[string][]string{
	"openai": {
		"🤖 **GPT Demo Response**: You asked about %q. This is a simulated GPT response. To get real OpenAI responses, set OPENAI_API_KEY in the environment or config.",
		"🧠 **OpenAI Simulation**: Regarding %q - I'd provide a detailed analysis if this were the real GPT model. Configure your OpenAI API key to unlock actual AI conversations!",
		"⚡ **GPT-4 Demo**: %q is an interesting topic! This is a placeholder response. Add your OpenAI API key to experience the real power of GPT models.",
	},
	"anthropic": {
		"🎭 **Claude Demo Response**: You mentioned %q. This is a simulated Claude response. To chat with the real Claude, set ANTHROPIC_API_KEY in the environment or config.",
		"🤔 **Anthropic Simulation**: About %q - I'd give you a thoughtful, nuanced response if this were the actual Claude model. Configure your Anthropic API key for real conversations!",
		"📚 **Claude Demo**: %q deserves a proper response! This is just a demo. Add your Anthropic API key to unlock Claude's full capabilities.",
	},
	"google": {
		"🌟 **Gemini Demo Response**: You asked about %q. This is a simulated Gemini response. To get real Google AI responses, set GOOGLE_API_KEY in the environment or config.",
		"🚀 **Google AI Simulation**: Regarding %q - I'd provide multimodal insights if this were the real Gemini model. Configure your Google API key for actual AI conversations!",
		"💎 **Gemini Demo**: %q is fascinating! This is a placeholder response. Add your Google API key to experience Gemini's advanced capabilities.",
	},
}

var demoGenericTemplates = []string{
	"🤖 **Demo Mode**: You asked about %q. This is a simulated AI response. To get real AI conversations, please configure your API keys.",
	"💭 **AI Simulation**: Thanks for your message about %q. I'm currently in demo mode. Add your API keys to unlock real AI-powered conversations!",
	"🎯 **Demo Response**: %q is an interesting topic! This is a placeholder. Configure your API credentials to start real conversations with AI models.",
	"⭐ **Test Mode**: Regarding %q - I'd love to give you a proper response! Add your API keys to unlock the full chat experience.",
	"🔧 **Demo Chat**: I see you're interested in %q. This is a demo response. Configure your API keys to start real AI conversations.",
}

// demoResponse picks a template for the provider (or the generic pool) and
// echoes the user's last message into it.
func demoResponse(userMessage, provider string) string {
	pool, ok := demoTemplates[provider]
	if !ok {
		pool = demoGenericTemplates
	}
	return fmt.Sprintf(pool[rand.Intn(len(pool))], userMessage)
}

var (
	_ domain.LLMProvider          = (*DemoProvider)(nil)
	_ domain.StreamingLLMProvider = (*DemoProvider)(nil)
)
