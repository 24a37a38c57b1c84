package llm

import (
	"strings"
	"testing"

	"prism-chat/internal/domain"
)

func TestEstimateTokensHeuristic(t *testing.T) {
	if got := EstimateTokens("anthropic", strings.Repeat("a", 40)); got != 10 {
		t.Errorf("EstimateTokens = %d, want 10", got)
	}
	if got := EstimateTokens("google", "ab"); got != 1 {
		t.Errorf("EstimateTokens for short text = %d, want at least 1", got)
	}
	if got := EstimateTokens("google", ""); got != 0 {
		t.Errorf("EstimateTokens for empty text = %d, want 0", got)
	}
}

func TestEstimateRequestTokensIncludesOverhead(t *testing.T) {
	req := domain.ChatRequest{
		Provider: "anthropic",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: strings.Repeat("a", 40)},
			{Role: domain.RoleAssistant, Content: strings.Repeat("b", 40)},
		},
	}
	want := 2 * (10 + perMessageOverhead)
	if got := EstimateRequestTokens(req); got != want {
		t.Errorf("EstimateRequestTokens = %d, want %d", got, want)
	}
}

func TestFitsContext(t *testing.T) {
	small := domain.ChatRequest{
		Provider: "openai",
		Model:    "gpt-4o",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	}
	if !FitsContext(small) {
		t.Error("small request reported as not fitting")
	}

	unknown := domain.ChatRequest{
		Provider: "mystery",
		Model:    "whatever",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: strings.Repeat("x", 1<<20)}},
	}
	if !FitsContext(unknown) {
		t.Error("unknown model should always fit")
	}

	huge := domain.ChatRequest{
		Provider: "anthropic",
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: strings.Repeat("x", 1<<21)}},
	}
	if FitsContext(huge) {
		t.Error("oversized request reported as fitting")
	}
}
