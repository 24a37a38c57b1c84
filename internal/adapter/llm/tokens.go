package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"prism-chat/internal/domain"
)

// perMessageOverhead approximates the per-turn wrapping tokens the chat
// format adds around each message.
const perMessageOverhead = 4

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// getEncoder lazily loads the cl100k_base encoding shared by current OpenAI
// chat models. Nil when the BPE ranks are unavailable, in which case the
// heuristic estimate is used.
func getEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			return
		}
		encoder = enc
	})
	return encoder
}

// EstimateTokens estimates the token count of a piece of text. OpenAI-style
// vocabularies are counted exactly via tiktoken; other providers get a
// rune/4 heuristic, which is close enough for budget trimming.
func EstimateTokens(providerID, text string) int {
	if providerID == "openai" {
		if enc := getEncoder(); enc != nil {
			return len(enc.Encode(text, nil, nil))
		}
	}
	n := utf8.RuneCountInString(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// EstimateRequestTokens estimates the prompt size of a full request,
// including per-message overhead.
func EstimateRequestTokens(req domain.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += EstimateTokens(req.Provider, m.Content) + perMessageOverhead
	}
	return total
}

// FitsContext reports whether the request plus its reserved output budget
// fits the model's context window. Unknown models always fit.
func FitsContext(req domain.ChatRequest) bool {
	limit := ContextLength(req.Provider, req.Model)
	if limit <= 0 {
		return true
	}
	return EstimateRequestTokens(req)+OptimalMaxTokens(req.Provider, req.Model) <= limit
}
