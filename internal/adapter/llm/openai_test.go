package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"prism-chat/internal/domain"
	"prism-chat/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.Default()
}

func openaiTestResponse(content string) openaiResponse {
	return openaiResponse{
		ID:    "chatcmpl-123",
		Model: "gpt-4o-mini",
		Choices: []openaiChoice{
			{
				Index: 0,
				Message: openaiMessage{
					Role:    "assistant",
					Content: openaiContent{Text: content},
				},
				FinishReason: "stop",
			},
		},
		Usage: openaiUsage{
			PromptTokens:     10,
			CompletionTokens: 8,
			TotalTokens:      18,
		},
	}
}

func TestOpenAIProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openaiTestResponse("Hello! How can I help?"))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(config.ProviderConfig{
		Name:    "openai",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, newTestLogger())

	req := domain.ChatRequest{
		Provider: "openai",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "Hello"},
		},
	}

	resp, err := provider.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "Hello! How can I help?" {
		t.Errorf("Content = %q, want %q", resp.Message.Content, "Hello! How can I help?")
	}
	if resp.Usage.TotalTokens != 18 {
		t.Errorf("TotalTokens = %d, want 18", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want %q", resp.FinishReason, "stop")
	}
}

func TestOpenAIProviderChatNoAPIKey(t *testing.T) {
	provider := NewOpenAIProvider(config.ProviderConfig{
		Name:  "openai",
		Model: "gpt-4o-mini",
	}, newTestLogger())

	_, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, domain.ErrCredentialMissing) {
		t.Errorf("err = %v, want ErrCredentialMissing", err)
	}
}

func TestOpenAIProviderChatHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(config.ProviderConfig{
		Name:    "openai",
		BaseURL: server.URL,
		APIKey:  "bad-key",
		Model:   "gpt-4o-mini",
	}, newTestLogger())

	_, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, domain.ErrAuthInvalid) {
		t.Errorf("err = %v, want ErrAuthInvalid", err)
	}
	if domain.HTTPStatus(err) != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", domain.HTTPStatus(err))
	}
}

// A lone text turn must marshal as a plain JSON string, not a part list.
func TestToOpenAIRequestCollapsesSingleTextPart(t *testing.T) {
	req := toOpenAIRequest(domain.ChatRequest{
		Model: "gpt-4o",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "just text"},
		},
	}, false)

	raw, err := json.Marshal(req.Messages[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Content[0] != '"' {
		t.Errorf("content = %s, want JSON string", decoded.Content)
	}
}

func TestToOpenAIRequestAttachmentsOnLastMessageOnly(t *testing.T) {
	req := toOpenAIRequest(domain.ChatRequest{
		Model: "gpt-4o",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "earlier turn"},
			{Role: domain.RoleAssistant, Content: "reply"},
			{Role: domain.RoleUser, Content: "look at this"},
		},
		Attachments: []domain.FileAttachment{
			{Name: "cat.png", Kind: domain.AttachmentImage, Base64: "data:image/png;base64,QUJD"},
		},
	}, false)

	if got := req.Messages[0].Content; got.Parts != nil {
		t.Errorf("first message has %d parts, want plain string", len(got.Parts))
	}

	last := req.Messages[2].Content
	if len(last.Parts) != 2 {
		t.Fatalf("last message parts = %d, want 2", len(last.Parts))
	}
	if last.Parts[0].Type != "text" || last.Parts[0].Text != "look at this" {
		t.Errorf("part[0] = %+v, want text part", last.Parts[0])
	}
	if last.Parts[1].Type != "image_url" || last.Parts[1].ImageURL.URL != "data:image/png;base64,QUJD" {
		t.Errorf("part[1] = %+v, want image_url part", last.Parts[1])
	}
}

func TestToOpenAIRequestPDFAttachment(t *testing.T) {
	req := toOpenAIRequest(domain.ChatRequest{
		Model: "gpt-4o",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "summarize"},
		},
		Attachments: []domain.FileAttachment{
			{
				Name: "report.pdf",
				Kind: domain.AttachmentPDF,
				Size: 2048,
				PDF: &domain.PDFData{
					Text:     "Quarterly numbers",
					Metadata: domain.PDFMetadata{Pages: 3, HasText: true},
					Images: []domain.PDFImage{
						{ID: "img-1", Base64: "data:image/png;base64,QUJD"},
					},
				},
			},
		},
	}, false)

	parts := req.Messages[0].Content.Parts
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want text + pdf text + image", len(parts))
	}
	if parts[1].Type != "text" {
		t.Errorf("part[1].Type = %q, want synthesized text block", parts[1].Type)
	}
	if parts[2].Type != "image_url" {
		t.Errorf("part[2].Type = %q, want image_url", parts[2].Type)
	}
}

func TestOpenAIProviderChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !body.Stream {
			t.Error("stream = false, want true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"id":"c1","choices":[{"delta":{"content":"Hel"},"finish_reason":null}]}` + "\n\n"))
		w.Write([]byte(`data: {"id":"c1","choices":[{"delta":{"content":"lo"},"finish_reason":null}]}` + "\n\n"))
		w.Write([]byte(`data: {"id":"c1","choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(config.ProviderConfig{
		Name:    "openai",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, newTestLogger())

	ch, err := provider.ChatStream(context.Background(), domain.ChatRequest{
		Provider: "openai",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var content string
	var done bool
	for delta := range ch {
		content += delta.Content
		if delta.Done {
			done = true
		}
	}

	if content != "Hello" {
		t.Errorf("content = %q, want %q", content, "Hello")
	}
	if !done {
		t.Error("stream never signaled done")
	}
}
