package domain

import "context"

// ConversationFields are the writable fields when creating a conversation.
type ConversationFields struct {
	Title         string `json:"title"`
	UserID        string `json:"user_id"`
	ModelProvider string `json:"model_provider"`
	ModelName     string `json:"model_name"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
}

// MessageFields are the writable fields when creating a message.
type MessageFields struct {
	ConversationID string           `json:"conversation_id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
}

// ConversationPatch is a partial update of a conversation. Nil fields are
// left untouched.
type ConversationPatch struct {
	Title         *string `json:"title,omitempty"`
	ModelProvider *string `json:"model_provider,omitempty"`
	ModelName     *string `json:"model_name,omitempty"`
	UpdatedAt     *string `json:"updated_at,omitempty"`
}

// MessagePatch is a partial update of a message.
type MessagePatch struct {
	Content  *string          `json:"content,omitempty"`
	Metadata *MessageMetadata `json:"metadata,omitempty"`
}

// UserPatch is a partial update of a user record.
type UserPatch struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// SharedConversation is the auth-free read of a shared thread.
type SharedConversation struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

// DataStore is the remote persistence collaborator. Implementations may fail
// with auth-class errors (wrapping ErrAuthInvalid) or network-class errors
// (wrapping ErrNetwork or ErrTimeout); callers retry through the connection
// recovery helper.
type DataStore interface {
	GetConversations(ctx context.Context, userID string) ([]Conversation, error)
	CreateConversation(ctx context.Context, fields ConversationFields) (*Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch ConversationPatch) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// GetMessages returns the conversation's messages ordered oldest first.
	GetMessages(ctx context.Context, conversationID string) ([]Message, error)
	CreateMessage(ctx context.Context, fields MessageFields) (*Message, error)
	UpdateMessage(ctx context.Context, id string, patch MessagePatch) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error

	GetUser(ctx context.Context, id string) (*User, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error)

	ShareConversation(ctx context.Context, id string) (*Conversation, error)
	UnshareConversation(ctx context.Context, id string) (*Conversation, error)
	GetSharedConversation(ctx context.Context, shareID string) (*SharedConversation, error)

	// Ping is a lightweight health probe used before retries.
	Ping(ctx context.Context) error
}
