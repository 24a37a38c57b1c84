package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single turn in the ordered conversation sent to a provider.
// Attachments ride on the ChatRequest, not on individual messages; the
// formatters bind them to the final turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is sent to an LLM provider through the gateway.
type ChatRequest struct {
	Provider    string           `json:"provider"`
	Model       string           `json:"model"`
	Messages    []ChatMessage    `json:"messages"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Attachments []FileAttachment `json:"attachments,omitempty"`
}

// LastUserText returns the content of the last message, used by the demo
// responder to echo the user's prompt.
func (r ChatRequest) LastUserText() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}

// ChatResponse is the normalized shape every provider transport produces.
type ChatResponse struct {
	ID           string      `json:"id"`
	Model        string      `json:"model"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
	Usage        Usage       `json:"usage"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamDelta is a single incremental chunk from a streaming response.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Conversation is a persisted chat thread.
type Conversation struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	UserID        string     `json:"user_id"`
	ModelProvider string     `json:"model_provider"`
	ModelName     string     `json:"model_name"`
	SystemPrompt  string     `json:"system_prompt,omitempty"`
	IsShared      bool       `json:"is_shared,omitempty"`
	ShareID       string     `json:"share_id,omitempty"`
	SharedAt      *time.Time `json:"shared_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Message is a persisted message belonging to a conversation.
// An assistant message may exist briefly with empty content while a response
// is streaming; it is filled in or deleted, never left as a permanent empty
// placeholder.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// MessageMetadata records generation details alongside a persisted message.
type MessageMetadata struct {
	Model        string               `json:"model,omitempty"`
	Tokens       int                  `json:"tokens,omitempty"`
	FinishReason string               `json:"finish_reason,omitempty"`
	Attachments  []AttachmentMetadata `json:"attachments,omitempty"`
}

// AttachmentMetadata is the persisted record of a file bound to a message.
type AttachmentMetadata struct {
	Name   string `json:"name"`
	Kind   string `json:"type"`
	Size   int64  `json:"size"`
	Base64 string `json:"base64,omitempty"`
}

// User is the account that owns conversations.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
