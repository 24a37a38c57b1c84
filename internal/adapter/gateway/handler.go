package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"prism-chat/internal/adapter/llm"
	"prism-chat/internal/domain"
	"prism-chat/internal/usecase"
)

// MethodChatDelta is the event frame pushed for each streamed content chunk.
const MethodChatDelta = "chat.delta"

// ChatService is the slice of the chat store the RPC surface exposes.
// *usecase.ChatStore satisfies it.
type ChatService interface {
	SetStreamSink(sink usecase.StreamSink)
	SendMessage(ctx context.Context, content string, stream bool, attachments []domain.FileAttachment) (*domain.Message, error)
	SelectConversation(ctx context.Context, id string) error
	EditMessage(ctx context.Context, messageID, content string) error
	RegenerateMessage(ctx context.Context, messageID string) error
	DeleteMessage(ctx context.Context, id string) error

	LoadConversations(ctx context.Context) error
	CreateConversation(ctx context.Context, title, provider, model, systemPrompt string) (*domain.Conversation, error)
	DuplicateConversation(ctx context.Context, id string) (*domain.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	UpdateConversationTitle(ctx context.Context, id, title string) error
	UpdateConversationModel(ctx context.Context, id, provider, model string) error

	ShareConversation(ctx context.Context, id string) (string, error)
	UnshareConversation(ctx context.Context, id string) error
	GetSharedConversation(ctx context.Context, shareID string) (*domain.SharedConversation, error)

	RefreshState(ctx context.Context, force bool) error

	Conversations() []domain.Conversation
	CurrentConversation() *domain.Conversation
	Messages() []domain.Message
	Err() string
	Streaming() bool
}

// HandlerDeps holds the collaborators the RPC handlers need.
type HandlerDeps struct {
	Store   ChatService
	LLM     *llm.Gateway
	Logger  *slog.Logger
	Version string
}

// DeltaEvent is the payload of a chat.delta event frame.
type DeltaEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
}

type sendParams struct {
	Content     string                  `json:"content"`
	Stream      bool                    `json:"stream"`
	Attachments []domain.FileAttachment `json:"attachments,omitempty"`
}

type selectParams struct {
	ConversationID string `json:"conversation_id"`
}

type messageParams struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content,omitempty"`
}

type conversationParams struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
}

type refreshParams struct {
	Force bool `json:"force"`
}

type stateSnapshot struct {
	Conversations []domain.Conversation `json:"conversations"`
	Current       *domain.Conversation  `json:"current,omitempty"`
	Messages      []domain.Message      `json:"messages"`
	Error         string                `json:"error,omitempty"`
	Streaming     bool                  `json:"streaming"`
}

// RegisterChatHandlers wires the chat RPC surface onto the server and hooks
// the store's stream sink up to event broadcasts.
func RegisterChatHandlers(s *Server, deps HandlerDeps) {
	store := deps.Store

	store.SetStreamSink(func(conversationID, messageID, content string) {
		s.Broadcast(MethodChatDelta, DeltaEvent{
			ConversationID: conversationID,
			MessageID:      messageID,
			Content:        content,
		})
	})

	s.RegisterHandler("chat.send", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p sendParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.Content == "" && len(p.Attachments) == 0 {
			return nil, fmt.Errorf("empty message: %w", domain.ErrInvalidInput)
		}
		msg, err := store.SendMessage(ctx, p.Content, p.Stream, p.Attachments)
		if err != nil {
			return nil, err
		}
		return json.Marshal(msg)
	})

	s.RegisterHandler("chat.select", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p selectParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if err := store.SelectConversation(ctx, p.ConversationID); err != nil {
			return nil, err
		}
		return snapshot(store)
	})

	s.RegisterHandler("chat.edit", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p messageParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if err := store.EditMessage(ctx, p.MessageID, p.Content); err != nil {
			return nil, err
		}
		return snapshot(store)
	})

	s.RegisterHandler("chat.regenerate", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p messageParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if err := store.RegenerateMessage(ctx, p.MessageID); err != nil {
			return nil, err
		}
		return snapshot(store)
	})

	s.RegisterHandler("message.delete", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p messageParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if err := store.DeleteMessage(ctx, p.MessageID); err != nil {
			return nil, err
		}
		return snapshot(store)
	})

	s.RegisterHandler("conversation.list", func(ctx context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		if err := store.LoadConversations(ctx); err != nil {
			return nil, err
		}
		return json.Marshal(store.Conversations())
	})

	s.RegisterHandler("conversation.create", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p conversationParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		conv, err := store.CreateConversation(ctx, p.Title, p.Provider, p.Model, p.SystemPrompt)
		if err != nil {
			return nil, err
		}
		return json.Marshal(conv)
	})

	s.RegisterHandler("conversation.duplicate", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p conversationParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		conv, err := store.DuplicateConversation(ctx, p.ConversationID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(conv)
	})

	s.RegisterHandler("conversation.delete", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p conversationParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if err := store.DeleteConversation(ctx, p.ConversationID); err != nil {
			return nil, err
		}
		return json.Marshal(store.Conversations())
	})

	s.RegisterHandler("conversation.rename", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p conversationParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if err := store.UpdateConversationTitle(ctx, p.ConversationID, p.Title); err != nil {
			return nil, err
		}
		return json.Marshal(store.Conversations())
	})

	s.RegisterHandler("conversation.model", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p conversationParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if _, ok := llm.Model(p.Provider, p.Model); !ok {
			return nil, fmt.Errorf("unknown model %s/%s: %w", p.Provider, p.Model, domain.ErrInvalidInput)
		}
		if err := store.UpdateConversationModel(ctx, p.ConversationID, p.Provider, p.Model); err != nil {
			return nil, err
		}
		return json.Marshal(store.Conversations())
	})

	s.RegisterHandler("conversation.share", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p conversationParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		token, err := store.ShareConversation(ctx, p.ConversationID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"share_id": token})
	})

	s.RegisterHandler("conversation.unshare", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p conversationParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if err := store.UnshareConversation(ctx, p.ConversationID); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"ok": true})
	})

	s.RegisterHandler("state.refresh", func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p refreshParams
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if err := store.RefreshState(ctx, p.Force); err != nil {
			return nil, err
		}
		return snapshot(store)
	})

	s.RegisterHandler("providers.list", func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(map[string]any{
			"providers": llm.Providers(),
			"demo_mode": deps.LLM.DemoMode(),
		})
	})
}

// RegisterHTTPHandlers adds the plain HTTP surface: a status probe and the
// auth-free shared conversation read.
func RegisterHTTPHandlers(s *Server, deps HandlerDeps) {
	start := time.Now()

	s.RegisterHTTPRoute("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{
			"status":         "ok",
			"version":        deps.Version,
			"uptime_seconds": int64(time.Since(start).Seconds()),
			"demo_mode":      deps.LLM.DemoMode(),
		})
	})

	s.RegisterHTTPRoute("/api/v1/shared", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		shareID := r.URL.Query().Get("id")
		if shareID == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		shared, err := deps.Store.GetSharedConversation(r.Context(), shareID)
		if err != nil {
			deps.Logger.Debug("shared conversation lookup failed", "share_id", shareID, "error", err)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, shared)
	})
}

func snapshot(store ChatService) (json.RawMessage, error) {
	return json.Marshal(stateSnapshot{
		Conversations: store.Conversations(),
		Current:       store.CurrentConversation(),
		Messages:      store.Messages(),
		Error:         store.Err(),
		Streaming:     store.Streaming(),
	})
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("bad params: %w", domain.ErrInvalidInput)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
