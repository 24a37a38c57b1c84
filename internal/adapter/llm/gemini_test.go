package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"prism-chat/internal/domain"
	"prism-chat/internal/infra/config"
)

func TestToGeminiRequestRoleMapping(t *testing.T) {
	req := toGeminiRequest(domain.ChatRequest{
		Provider: "google",
		Model:    "gemini-2.0-flash",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "be terse"},
			{Role: domain.RoleUser, Content: "Hello"},
			{Role: domain.RoleAssistant, Content: "Hi"},
		},
	})

	if len(req.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(req.Contents))
	}
	if req.Contents[0].Role != "user" {
		t.Errorf("system role mapped to %q, want user", req.Contents[0].Role)
	}
	if got := req.Contents[0].Parts[0].Text; got != "System: be terse" {
		t.Errorf("system text = %q, want prefixed", got)
	}
	if req.Contents[2].Role != "model" {
		t.Errorf("assistant role mapped to %q, want model", req.Contents[2].Role)
	}
}

func TestToGeminiRequestInlineData(t *testing.T) {
	req := toGeminiRequest(domain.ChatRequest{
		Provider: "google",
		Model:    "gemini-2.0-flash",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "what is this"},
		},
		Attachments: []domain.FileAttachment{
			{
				Name:     "cat.jpg",
				Kind:     domain.AttachmentImage,
				MimeType: "image/jpeg",
				Base64:   "data:image/jpeg;base64,QUJD",
			},
			{
				Name: "doc.pdf",
				Kind: domain.AttachmentPDF,
				PDF: &domain.PDFData{
					Text:     "hello",
					Metadata: domain.PDFMetadata{Pages: 1, HasText: true},
					Images:   []domain.PDFImage{{ID: "i1", Base64: "data:image/png;base64,REVG"}},
				},
			},
		},
	})

	parts := req.Contents[0].Parts
	if len(parts) != 4 {
		t.Fatalf("parts = %d, want text + image + pdf text + pdf image", len(parts))
	}
	if parts[1].InlineData == nil || parts[1].InlineData.Data != "QUJD" {
		t.Errorf("image part = %+v, want data-URL prefix stripped", parts[1])
	}
	if parts[1].InlineData.MimeType != "image/jpeg" {
		t.Errorf("image mime = %q", parts[1].InlineData.MimeType)
	}
	if parts[3].InlineData == nil || parts[3].InlineData.MimeType != "image/png" {
		t.Errorf("pdf image part = %+v, want image/png inline data", parts[3])
	}
	if parts[3].InlineData.Data != "REVG" {
		t.Errorf("pdf image data = %q, want prefix stripped", parts[3].InlineData.Data)
	}
}

func TestGeminiProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("unexpected key: %s", r.URL.Query().Get("key"))
		}

		var body geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.GenerationConfig == nil || body.GenerationConfig.MaxOutputTokens != 8192 {
			t.Errorf("generationConfig = %+v, want maxOutputTokens 8192", body.GenerationConfig)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "Hi!"}}},
					FinishReason: "STOP",
				},
			},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 2, TotalTokenCount: 9},
		})
	}))
	defer server.Close()

	provider := NewGeminiProvider(config.ProviderConfig{
		Name:    "google",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gemini-2.0-flash",
	}, newTestLogger())

	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Provider: "google",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "Hi!" {
		t.Errorf("Content = %q, want %q", resp.Message.Content, "Hi!")
	}
	if resp.Usage.TotalTokens != 9 {
		t.Errorf("TotalTokens = %d, want 9", resp.Usage.TotalTokens)
	}
}

// An overloaded streaming endpoint must be invisible to the caller: the
// request is replayed without streaming and re-emitted as a word stream.
func TestGeminiProviderChatStream503Fallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, ":streamGenerateContent") {
			http.Error(w, `{"error":{"code":503,"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "one two three"}}},
					FinishReason: "STOP",
				},
			},
			UsageMetadata: &geminiUsageMetadata{TotalTokenCount: 3},
		})
	}))
	defer server.Close()

	provider := NewGeminiProvider(config.ProviderConfig{
		Name:    "google",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gemini-2.0-flash",
	}, newTestLogger())
	provider.fallbackDelay = 0

	ch, err := provider.ChatStream(context.Background(), domain.ChatRequest{
		Provider: "google",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "count"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var content string
	var chunks int
	var done bool
	for delta := range ch {
		content += delta.Content
		if delta.Content != "" {
			chunks++
		}
		if delta.Done {
			done = true
		}
	}

	if content != "one two three" {
		t.Errorf("content = %q, want %q", content, "one two three")
	}
	if chunks != 3 {
		t.Errorf("chunks = %d, want one per word", chunks)
	}
	if !done {
		t.Error("stream never signaled done")
	}
}

func TestGeminiProviderChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt = %q, want sse", r.URL.Query().Get("alt"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}` + "\n\n"))
		w.Write([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":5}}` + "\n\n"))
	}))
	defer server.Close()

	provider := NewGeminiProvider(config.ProviderConfig{
		Name:    "google",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gemini-2.0-flash",
	}, newTestLogger())

	ch, err := provider.ChatStream(context.Background(), domain.ChatRequest{
		Provider: "google",
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
