package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"prism-chat/internal/domain"
	"prism-chat/internal/infra/config"
	"prism-chat/internal/infra/tracer"
)

// geminiFallbackDelay paces the simulated word stream emitted when the
// streaming endpoint is overloaded and the request is replayed without
// streaming.
const geminiFallbackDelay = 30 * time.Millisecond

// GeminiProvider implements domain.LLMProvider for the Google Gemini
// generateContent API.
type GeminiProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	fallbackDelay time.Duration
}

// NewGeminiProvider creates a provider with configured timeouts.
func NewGeminiProvider(cfg config.ProviderConfig, logger *slog.Logger) *GeminiProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	return &GeminiProvider{
		name:          cfg.Name,
		model:         cfg.Model,
		apiKey:        cfg.APIKey,
		baseURL:       baseURL,
		client:        NewHTTPClient(cfg),
		logger:        logger,
		fallbackDelay: geminiFallbackDelay,
	}
}

// Name implements domain.LLMProvider.
func (p *GeminiProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *GeminiProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if err := p.checkCredential(); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if req.Model == "" {
		req.Model = p.model
	}
	req.MaxTokens = OptimalMaxTokens(p.name, req.Model)

	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)
	respBody, err := doJSONRequest(ctx, p.client, url, body, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(respBody, &gemResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromGeminiResponse(gemResp, req.Model)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider. When the streaming
// endpoint answers 503 the request is replayed against the non-streaming
// endpoint and the full reply is re-emitted word by word, so callers never
// see the overload at all.
func (p *GeminiProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if err := p.checkCredential(); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = p.model
	}
	req.MaxTokens = OptimalMaxTokens(p.name, req.Model)

	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, req.Model, p.apiKey)
	httpResp, err := doStreamRequest(ctx, p.client, url, body, nil)
	if err != nil {
		if domain.HTTPStatus(err) == http.StatusServiceUnavailable {
			p.logger.Warn("gemini stream overloaded, replaying without streaming", "model", req.Model)
			return p.simulatedStream(ctx, req)
		}
		return nil, err
	}

	ch := parseSSEStream(ctx, httpResp.Body, p.logger, func(data []byte) (*domain.StreamDelta, error) {
		var chunk geminiResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}

		delta := &domain.StreamDelta{}
		if len(chunk.Candidates) > 0 {
			c := chunk.Candidates[0]
			for _, part := range c.Content.Parts {
				delta.Content += part.Text
			}
			if c.FinishReason != "" {
				delta.Done = true
			}
		}
		if chunk.UsageMetadata != nil {
			delta.Usage = &domain.Usage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			}
		}
		return delta, nil
	})

	return ch, nil
}

// simulatedStream fetches the complete response and paces it out as a word
// stream.
func (p *GeminiProvider) simulatedStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.StreamDelta)
	go func() {
		defer close(ch)

		words := strings.Fields(resp.Message.Content)
		for i, word := range words {
			chunk := word
			if i < len(words)-1 {
				chunk += " "
			}
			select {
			case ch <- domain.StreamDelta{Content: chunk}:
			case <-ctx.Done():
				return
			}
			if p.fallbackDelay > 0 {
				select {
				case <-time.After(p.fallbackDelay):
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case ch <- domain.StreamDelta{Done: true, Usage: &resp.Usage}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

func (p *GeminiProvider) checkCredential() error {
	if p.apiKey == "" {
		return domain.NewDomainError("GeminiProvider", domain.ErrCredentialMissing, p.name)
	}
	return nil
}

// --- Gemini API wire types ---

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// toGeminiRequest converts a gateway request to the generateContent shape.
// The API has no system or assistant roles: assistant turns become "model"
// and system turns become user turns with a "System: " prefix. Attachments
// ride the final turn as inline_data parts with the data-URL prefix
// stripped; PDF page images are always image/png.
func toGeminiRequest(req domain.ChatRequest) geminiRequest {
	contents := make([]geminiContent, 0, len(req.Messages))
	for i, m := range req.Messages {
		isLast := i == len(req.Messages)-1

		role := "user"
		text := m.Content
		switch m.Role {
		case domain.RoleAssistant:
			role = "model"
		case domain.RoleSystem:
			text = "System: " + text
		}

		parts := []geminiPart{}
		if text != "" {
			parts = append(parts, geminiPart{Text: text})
		}

		if isLast && len(req.Attachments) > 0 {
			for _, att := range req.Attachments {
				switch att.Kind {
				case domain.AttachmentImage:
					mimeType := att.MimeType
					if mimeType == "" {
						mimeType = "image/jpeg"
					}
					parts = append(parts, geminiPart{
						InlineData: &geminiInlineData{
							MimeType: mimeType,
							Data:     base64Payload(att.Base64),
						},
					})
				case domain.AttachmentPDF:
					parts = append(parts, geminiPart{Text: formatPDFContent(att)})
					if att.PDF != nil {
						for _, img := range att.PDF.Images {
							parts = append(parts, geminiPart{
								InlineData: &geminiInlineData{
									MimeType: "image/png",
									Data:     base64Payload(img.Base64),
								},
							})
						}
					}
				}
			}
		}

		contents = append(contents, geminiContent{Role: role, Parts: parts})
	}

	gemReq := geminiRequest{Contents: contents}
	genCfg := &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	if req.Temperature > 0 {
		genCfg.Temperature = &req.Temperature
	}
	gemReq.GenerationConfig = genCfg
	return gemReq
}

func fromGeminiResponse(resp geminiResponse, model string) *domain.ChatResponse {
	result := &domain.ChatResponse{
		Model:     model,
		CreatedAt: time.Now(),
	}

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		result.Message = domain.ChatMessage{
			Role:    domain.RoleAssistant,
			Content: text.String(),
		}
		result.FinishReason = candidate.FinishReason
	}

	if resp.UsageMetadata != nil {
		result.Usage = domain.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return result
}

var (
	_ domain.LLMProvider          = (*GeminiProvider)(nil)
	_ domain.StreamingLLMProvider = (*GeminiProvider)(nil)
)
