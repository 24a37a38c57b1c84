package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"prism-chat/internal/domain"
	"prism-chat/internal/usecase/eventbus"
)

// refreshDebounce suppresses repeated smart refreshes (tab refocus, network
// reconnect events firing in bursts).
const refreshDebounce = 2 * time.Second

// User-facing error strings. The raw error stays in the logs.
const (
	errSessionExpired = "Your session has expired. Please sign in again."
	errRequestTimeout = "The request timed out. Please try again."
	errNetworkTrouble = "Unable to reach the server. Check your connection and try again."
)

// ChatGateway sends chat requests to a language model. The LLM gateway
// satisfies it.
type ChatGateway interface {
	SendMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
	StreamMessage(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error)
}

// AuthProvider is the slice of the auth client the store needs.
type AuthProvider interface {
	SessionRefresher
	GetCurrentUser(ctx context.Context, forceRefresh bool) (*domain.User, error)
}

// StreamSink observes assistant deltas as they arrive, so a transport can
// forward them to the browser while the store accumulates state.
type StreamSink func(conversationID, messageID, content string)

// ChatStore is the conversation state machine. All mutable state lives
// behind one mutex; collaborators are injected and never reached through
// globals. Reads return snapshots, so callers can't alias internal slices.
type ChatStore struct {
	data    domain.DataStore
	gateway ChatGateway
	auth    AuthProvider
	retry   *RetryPolicy
	logger  *slog.Logger

	mu                 sync.Mutex
	conversations      []domain.Conversation
	current            *domain.Conversation
	messages           []domain.Message
	loading            bool
	streaming          bool
	errMsg             string
	lastRefresh        time.Time
	lastConversationID string
	refreshing         bool
	selectGen          uint64

	sink StreamSink
	now  func() time.Time
}

// NewChatStore wires the store to its collaborators and subscribes it to
// auth events on the bus.
func NewChatStore(data domain.DataStore, gateway ChatGateway, auth AuthProvider, bus *eventbus.Bus, logger *slog.Logger) *ChatStore {
	s := &ChatStore{
		data:    data,
		gateway: gateway,
		auth:    auth,
		retry:   NewRetryPolicy(data, auth, logger),
		logger:  logger,
		now:     time.Now,
	}
	bus.Subscribe(domain.EventTokenRefreshed, func(context.Context, domain.Event) {
		s.HandleTokenRefresh()
	})
	return s
}

// SetStreamSink registers the delta observer. Pass nil to detach.
func (s *ChatStore) SetStreamSink(sink StreamSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// --- snapshot accessors ---

// Conversations returns a copy of the loaded conversation list.
func (s *ChatStore) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// CurrentConversation returns the selected conversation, or nil.
func (s *ChatStore) CurrentConversation() *domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	conv := *s.current
	return &conv
}

// Messages returns a copy of the current conversation's messages.
func (s *ChatStore) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Err returns the current user-facing error string, empty when healthy.
func (s *ChatStore) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Loading reports whether a conversation load is in flight.
func (s *ChatStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Streaming reports whether an assistant response is being streamed.
func (s *ChatStore) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// --- conversation list ---

// LoadConversations fetches the signed-in user's conversations.
func (s *ChatStore) LoadConversations(ctx context.Context) error {
	user, err := s.auth.GetCurrentUser(ctx, false)
	if err != nil {
		s.setError(err)
		return err
	}

	var convs []domain.Conversation
	err = s.retry.WithRetry(ctx, "load conversations", func(ctx context.Context) error {
		var lerr error
		convs, lerr = s.data.GetConversations(ctx, user.ID)
		return lerr
	})
	if err != nil {
		s.setError(err)
		return err
	}

	s.mu.Lock()
	s.conversations = convs
	s.errMsg = ""
	s.mu.Unlock()
	return nil
}

// CreateConversation creates and selects a new conversation.
func (s *ChatStore) CreateConversation(ctx context.Context, title, provider, model, systemPrompt string) (*domain.Conversation, error) {
	user, err := s.auth.GetCurrentUser(ctx, false)
	if err != nil {
		s.setError(err)
		return nil, err
	}
	if title == "" {
		title = "New chat"
	}

	conv, err := s.data.CreateConversation(ctx, domain.ConversationFields{
		Title:         title,
		UserID:        user.ID,
		ModelProvider: provider,
		ModelName:     model,
		SystemPrompt:  systemPrompt,
	})
	if err != nil {
		s.setError(err)
		return nil, err
	}

	s.mu.Lock()
	s.conversations = append([]domain.Conversation{*conv}, s.conversations...)
	s.current = conv
	s.messages = nil
	s.lastConversationID = conv.ID
	s.errMsg = ""
	s.selectGen++
	s.mu.Unlock()
	return conv, nil
}

// DuplicateConversation copies a conversation and its messages into a new
// thread owned by the same user.
func (s *ChatStore) DuplicateConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	source, err := s.findConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.data.GetMessages(ctx, id)
	if err != nil {
		s.setError(err)
		return nil, err
	}

	copyConv, err := s.data.CreateConversation(ctx, domain.ConversationFields{
		Title:         "Copy of " + source.Title,
		UserID:        source.UserID,
		ModelProvider: source.ModelProvider,
		ModelName:     source.ModelName,
		SystemPrompt:  source.SystemPrompt,
	})
	if err != nil {
		s.setError(err)
		return nil, err
	}
	for _, msg := range msgs {
		if _, err := s.data.CreateMessage(ctx, domain.MessageFields{
			ConversationID: copyConv.ID,
			Role:           msg.Role,
			Content:        msg.Content,
			Metadata:       msg.Metadata,
		}); err != nil {
			s.setError(err)
			return nil, err
		}
	}

	s.mu.Lock()
	s.conversations = append([]domain.Conversation{*copyConv}, s.conversations...)
	s.mu.Unlock()
	return copyConv, nil
}

// DeleteConversation removes a conversation; selecting state is cleared when
// the current one goes.
func (s *ChatStore) DeleteConversation(ctx context.Context, id string) error {
	if err := s.data.DeleteConversation(ctx, id); err != nil {
		s.setError(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = removeConversation(s.conversations, id)
	if s.current != nil && s.current.ID == id {
		s.current = nil
		s.messages = nil
		s.lastConversationID = ""
		s.selectGen++
	}
	return nil
}

// UpdateConversationTitle renames a conversation.
func (s *ChatStore) UpdateConversationTitle(ctx context.Context, id, title string) error {
	conv, err := s.data.UpdateConversation(ctx, id, domain.ConversationPatch{Title: &title})
	if err != nil {
		s.setError(err)
		return err
	}
	s.replaceConversation(*conv)
	return nil
}

// UpdateConversationModel switches the provider and model used for future
// turns in the conversation. Existing messages are untouched.
func (s *ChatStore) UpdateConversationModel(ctx context.Context, id, provider, model string) error {
	conv, err := s.data.UpdateConversation(ctx, id, domain.ConversationPatch{
		ModelProvider: &provider,
		ModelName:     &model,
	})
	if err != nil {
		s.setError(err)
		return err
	}
	s.replaceConversation(*conv)
	return nil
}

// --- selection ---

// SelectConversation makes id the current conversation and loads its
// messages. Re-selecting the already-loaded conversation is a no-op. An id
// missing from the loaded list is resolved against the data store before the
// message load, so the selection either lands on a real conversation or
// fails with ErrNotFound. The load runs through the retry policy, with one
// extra last-resort attempt on a freshly refreshed session; a superseded
// selection never overwrites the newer one's state.
func (s *ChatStore) SelectConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.current != nil && s.current.ID == id && len(s.messages) > 0 && s.errMsg == "" {
		s.mu.Unlock()
		return nil
	}
	s.selectGen++
	gen := s.selectGen
	s.loading = true
	s.errMsg = ""
	s.messages = nil
	var known bool
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			conv := s.conversations[i]
			s.current = &conv
			known = true
			break
		}
	}
	s.mu.Unlock()

	if !known {
		// Stale local list: the thread may have been created in another
		// session. Resolve it before loading so sends target the right
		// conversation.
		conv, ferr := s.findConversation(ctx, id)
		if ferr != nil {
			s.mu.Lock()
			defer s.mu.Unlock()
			if gen != s.selectGen {
				return nil
			}
			s.loading = false
			s.errMsg = userFacingError(ferr)
			return ferr
		}
		s.mu.Lock()
		if gen == s.selectGen {
			s.current = conv
			s.conversations = append([]domain.Conversation{*conv}, s.conversations...)
		}
		s.mu.Unlock()
	}

	var msgs []domain.Message
	policy := NewRetryPolicy(s.data, s.auth, s.logger)
	policy.maxAttempts = 3
	policy.sleep = s.retry.sleep
	err := policy.WithRetry(ctx, "load messages", func(ctx context.Context) error {
		var lerr error
		msgs, lerr = s.data.GetMessages(ctx, id)
		return lerr
	})
	if err != nil {
		// Last resort: force a fresh token and try once more directly.
		s.logger.Warn("message load exhausted retries, forcing session refresh", "conversation", id, "error", err)
		if rerr := s.auth.RefreshSession(ctx); rerr == nil {
			msgs, err = s.data.GetMessages(ctx, id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.selectGen {
		// A newer selection superseded this load.
		return nil
	}
	s.loading = false
	if err != nil {
		s.errMsg = userFacingError(err)
		return err
	}
	s.messages = msgs
	s.lastConversationID = id
	return nil
}

// --- messaging ---

// SendMessage persists the user's message and obtains the assistant's reply,
// streaming when asked to. On a streamed reply the assistant row is created
// empty up front and filled as deltas arrive; an empty or broken stream
// falls back to one non-streaming call, and if that fails too the
// placeholder is removed locally and remotely and the original error is
// re-raised.
func (s *ChatStore) SendMessage(ctx context.Context, content string, stream bool, attachments []domain.FileAttachment) (*domain.Message, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil, domain.ErrNoConversation
	}
	conv := *s.current
	s.mu.Unlock()

	userMsg, err := s.data.CreateMessage(ctx, domain.MessageFields{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        content,
		Metadata:       attachmentMetadata(attachments),
	})
	if err != nil {
		s.setError(err)
		return nil, err
	}
	s.appendMessage(*userMsg)

	req := s.buildRequest(conv, attachments)

	var reply *domain.Message
	if stream {
		reply, err = s.streamedReply(ctx, conv, req)
	} else {
		reply, err = s.directReply(ctx, conv, req)
	}
	if err != nil {
		s.setError(err)
		return nil, err
	}

	s.touchConversation(ctx, conv.ID)
	return reply, nil
}

// EditMessage rewrites a message's content. Editing a user message cascades:
// the assistant message immediately after it is regenerated in place from
// the edited context, or, when the edited message is the last one, exactly
// one new assistant reply is appended.
func (s *ChatStore) EditMessage(ctx context.Context, messageID, content string) error {
	s.mu.Lock()
	idx := indexOfMessage(s.messages, messageID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	edited := s.messages[idx]
	var conv domain.Conversation
	if s.current != nil {
		conv = *s.current
	}
	s.mu.Unlock()

	updated, err := s.data.UpdateMessage(ctx, messageID, domain.MessagePatch{Content: &content})
	if err != nil {
		s.setError(err)
		return err
	}
	s.replaceMessage(*updated)

	if edited.Role != domain.RoleUser || conv.ID == "" {
		return nil
	}

	s.mu.Lock()
	idx = indexOfMessage(s.messages, messageID)
	var followUp *domain.Message
	if idx >= 0 && idx+1 < len(s.messages) && s.messages[idx+1].Role == domain.RoleAssistant {
		next := s.messages[idx+1]
		followUp = &next
	}
	history := cloneMessages(s.messages[:idx+1])
	s.mu.Unlock()

	req := s.buildRequestFrom(conv, history, nil)
	if followUp != nil {
		return s.regenerateInto(ctx, conv, *followUp, req)
	}

	if _, err := s.streamedReply(ctx, conv, req); err != nil {
		s.setError(err)
		return err
	}
	s.touchConversation(ctx, conv.ID)
	return nil
}

// RegenerateMessage replaces an assistant message with a fresh reply built
// from the context strictly before it. The message keeps its id; if every
// attempt fails, the previous content is put back.
func (s *ChatStore) RegenerateMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	idx := indexOfMessage(s.messages, messageID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	target := s.messages[idx]
	if target.Role != domain.RoleAssistant {
		s.mu.Unlock()
		return fmt.Errorf("regenerate %s message: %w", target.Role, domain.ErrInvalidInput)
	}
	var conv domain.Conversation
	if s.current != nil {
		conv = *s.current
	}
	history := cloneMessages(s.messages[:idx])
	s.mu.Unlock()

	req := s.buildRequestFrom(conv, history, nil)
	return s.regenerateInto(ctx, conv, target, req)
}

// DeleteMessage removes a single message.
func (s *ChatStore) DeleteMessage(ctx context.Context, id string) error {
	if err := s.data.DeleteMessage(ctx, id); err != nil {
		s.setError(err)
		return err
	}
	s.mu.Lock()
	s.messages = removeMessage(s.messages, id)
	s.mu.Unlock()
	return nil
}

// --- sharing ---

// ShareConversation makes the conversation publicly readable and returns its
// share token.
func (s *ChatStore) ShareConversation(ctx context.Context, id string) (string, error) {
	conv, err := s.data.ShareConversation(ctx, id)
	if err != nil {
		s.setError(err)
		return "", err
	}
	s.replaceConversation(*conv)
	return conv.ShareID, nil
}

// UnshareConversation revokes public access.
func (s *ChatStore) UnshareConversation(ctx context.Context, id string) error {
	conv, err := s.data.UnshareConversation(ctx, id)
	if err != nil {
		s.setError(err)
		return err
	}
	s.replaceConversation(*conv)
	return nil
}

// GetSharedConversation reads a shared thread by its token. No session
// required.
func (s *ChatStore) GetSharedConversation(ctx context.Context, shareID string) (*domain.SharedConversation, error) {
	shared, err := s.data.GetSharedConversation(ctx, shareID)
	if err != nil {
		return nil, err
	}
	return shared, nil
}

// --- refresh & recovery ---

// RefreshState is the smart refresh run on focus and reconnect events. It
// debounces itself, refuses to overlap, and only reloads what actually looks
// stale: the conversation list when it is empty and the messages when the
// selected conversation changed under us. force bypasses the staleness
// checks but not the overlap guard.
func (s *ChatStore) RefreshState(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.refreshing {
		s.mu.Unlock()
		return nil
	}
	if !force && s.now().Sub(s.lastRefresh) < refreshDebounce {
		s.mu.Unlock()
		return nil
	}
	s.refreshing = true
	s.lastRefresh = s.now()
	needConvs := force || len(s.conversations) == 0
	var currentID string
	if s.current != nil {
		currentID = s.current.ID
	}
	needMsgs := currentID != "" && (force || len(s.messages) == 0 || currentID != s.lastConversationID)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.mu.Unlock()
	}()

	if err := s.data.Ping(ctx); err != nil {
		s.logger.Warn("health check failed during refresh, refreshing session", "error", err)
		if rerr := s.auth.RefreshSession(ctx); rerr != nil {
			s.setError(rerr)
			return rerr
		}
	}

	if needConvs {
		if err := s.LoadConversations(ctx); err != nil {
			return err
		}
	}
	if needMsgs {
		msgs, err := s.data.GetMessages(ctx, currentID)
		if err != nil {
			s.setError(err)
			return err
		}
		s.mu.Lock()
		if s.current != nil && s.current.ID == currentID {
			s.messages = msgs
			s.lastConversationID = currentID
		}
		s.mu.Unlock()
	}
	return nil
}

// HandleTokenRefresh reacts to a renewed session: the refresh clock is reset
// and auth-flavored errors are cleared. Nothing is reloaded; data reads were
// never invalidated by a token rotation.
func (s *ChatStore) HandleTokenRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRefresh = s.now()
	if s.errMsg == errSessionExpired {
		s.errMsg = ""
	}
}

// --- internals ---

// streamedReply runs the streaming path: persisted empty placeholder, delta
// accumulation, non-streaming fallback, rollback.
func (s *ChatStore) streamedReply(ctx context.Context, conv domain.Conversation, req domain.ChatRequest) (*domain.Message, error) {
	placeholder, err := s.data.CreateMessage(ctx, domain.MessageFields{
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        "",
	})
	if err != nil {
		return nil, err
	}
	s.appendMessage(*placeholder)

	s.mu.Lock()
	s.streaming = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.mu.Unlock()
	}()

	content, usage, streamErr := s.consumeStream(ctx, conv.ID, placeholder.ID, req)

	if streamErr != nil || content == "" {
		if streamErr != nil {
			s.logger.Warn("stream failed, retrying without streaming", "error", streamErr)
		} else {
			s.logger.Warn("stream produced no content, retrying without streaming")
		}
		resp, ferr := s.gateway.SendMessage(ctx, req)
		if ferr != nil || resp.Message.Content == "" {
			if ferr == nil {
				ferr = domain.ErrEmptyResponse
			}
			s.rollbackPlaceholder(ctx, placeholder.ID)
			if streamErr != nil {
				return nil, streamErr
			}
			return nil, ferr
		}
		content = resp.Message.Content
		usage = &resp.Usage
	}

	return s.persistAssistant(ctx, conv, placeholder.ID, content, req.Model, usage)
}

// directReply runs the non-streaming path.
func (s *ChatStore) directReply(ctx context.Context, conv domain.Conversation, req domain.ChatRequest) (*domain.Message, error) {
	resp, err := s.gateway.SendMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Message.Content == "" {
		return nil, domain.ErrEmptyResponse
	}

	msg, err := s.data.CreateMessage(ctx, domain.MessageFields{
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        resp.Message.Content,
		Metadata:       replyMetadata(req.Model, &resp.Usage, resp.FinishReason),
	})
	if err != nil {
		return nil, err
	}
	s.appendMessage(*msg)
	return msg, nil
}

// consumeStream drains the delta channel, mirroring the accumulated content
// into local state after every delta.
func (s *ChatStore) consumeStream(ctx context.Context, conversationID, messageID string, req domain.ChatRequest) (string, *domain.Usage, error) {
	ch, err := s.gateway.StreamMessage(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	var usage *domain.Usage
	var done bool
	for delta := range ch {
		if delta.Content != "" {
			b.WriteString(delta.Content)
			s.updateMessageContent(messageID, b.String())
			s.mu.Lock()
			sink := s.sink
			s.mu.Unlock()
			if sink != nil {
				sink(conversationID, messageID, delta.Content)
			}
		}
		if delta.Usage != nil {
			usage = delta.Usage
		}
		if delta.Done {
			done = true
		}
	}
	if err := ctx.Err(); err != nil {
		return b.String(), usage, err
	}
	// A stream that closes without a Done delta was cut off mid-reply.
	if !done {
		return b.String(), usage, fmt.Errorf("stream ended before completion: %w", domain.ErrNetwork)
	}
	return b.String(), usage, nil
}

// regenerateInto replaces target's content with a newly generated reply,
// restoring the previous content when every path fails.
func (s *ChatStore) regenerateInto(ctx context.Context, conv domain.Conversation, target domain.Message, req domain.ChatRequest) error {
	previous := target.Content
	s.updateMessageContent(target.ID, "")

	s.mu.Lock()
	s.streaming = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.mu.Unlock()
	}()

	content, usage, streamErr := s.consumeStream(ctx, conv.ID, target.ID, req)
	if streamErr != nil || content == "" {
		resp, ferr := s.gateway.SendMessage(ctx, req)
		if ferr != nil || resp.Message.Content == "" {
			s.updateMessageContent(target.ID, previous)
			s.setError(firstError(streamErr, ferr, domain.ErrEmptyResponse))
			return firstError(streamErr, ferr, domain.ErrEmptyResponse)
		}
		content = resp.Message.Content
		usage = &resp.Usage
	}

	updated, err := s.data.UpdateMessage(ctx, target.ID, domain.MessagePatch{
		Content:  &content,
		Metadata: replyMetadata(req.Model, usage, ""),
	})
	if err != nil {
		s.updateMessageContent(target.ID, previous)
		s.setError(err)
		return err
	}
	s.replaceMessage(*updated)
	s.touchConversation(ctx, conv.ID)
	return nil
}

// persistAssistant writes the final streamed content onto the placeholder
// row.
func (s *ChatStore) persistAssistant(ctx context.Context, conv domain.Conversation, messageID, content, model string, usage *domain.Usage) (*domain.Message, error) {
	updated, err := s.data.UpdateMessage(ctx, messageID, domain.MessagePatch{
		Content:  &content,
		Metadata: replyMetadata(model, usage, ""),
	})
	if err != nil {
		return nil, err
	}
	s.replaceMessage(*updated)
	return updated, nil
}

// rollbackPlaceholder removes a failed placeholder locally and remotely.
func (s *ChatStore) rollbackPlaceholder(ctx context.Context, messageID string) {
	s.mu.Lock()
	s.messages = removeMessage(s.messages, messageID)
	s.mu.Unlock()
	if err := s.data.DeleteMessage(ctx, messageID); err != nil {
		s.logger.Warn("failed to delete placeholder message", "message", messageID, "error", err)
	}
}

// buildRequest assembles a chat request from the full current history.
func (s *ChatStore) buildRequest(conv domain.Conversation, attachments []domain.FileAttachment) domain.ChatRequest {
	s.mu.Lock()
	history := cloneMessages(s.messages)
	s.mu.Unlock()
	return s.buildRequestFrom(conv, history, attachments)
}

func (s *ChatStore) buildRequestFrom(conv domain.Conversation, history []domain.Message, attachments []domain.FileAttachment) domain.ChatRequest {
	msgs := make([]domain.ChatMessage, 0, len(history)+1)
	if conv.SystemPrompt != "" {
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: conv.SystemPrompt})
	}
	for _, m := range history {
		msgs = append(msgs, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return domain.ChatRequest{
		Provider:    conv.ModelProvider,
		Model:       conv.ModelName,
		Messages:    msgs,
		Attachments: attachments,
	}
}

// touchConversation bumps updated_at so the list reorders by activity.
func (s *ChatStore) touchConversation(ctx context.Context, id string) {
	stamp := s.now().UTC().Format(time.RFC3339)
	conv, err := s.data.UpdateConversation(ctx, id, domain.ConversationPatch{UpdatedAt: &stamp})
	if err != nil {
		s.logger.Warn("failed to bump conversation activity", "conversation", id, "error", err)
		return
	}
	s.replaceConversation(*conv)
}

func (s *ChatStore) findConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			conv := s.conversations[i]
			s.mu.Unlock()
			return &conv, nil
		}
	}
	s.mu.Unlock()

	user, err := s.auth.GetCurrentUser(ctx, false)
	if err != nil {
		return nil, err
	}
	convs, err := s.data.GetConversations(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if convs[i].ID == id {
			return &convs[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *ChatStore) appendMessage(msg domain.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

func (s *ChatStore) replaceMessage(msg domain.Message) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			break
		}
	}
	s.mu.Unlock()
}

func (s *ChatStore) updateMessageContent(id, content string) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			break
		}
	}
	s.mu.Unlock()
}

func (s *ChatStore) replaceConversation(conv domain.Conversation) {
	s.mu.Lock()
	for i := range s.conversations {
		if s.conversations[i].ID == conv.ID {
			s.conversations[i] = conv
			break
		}
	}
	if s.current != nil && s.current.ID == conv.ID {
		s.current = &conv
	}
	s.mu.Unlock()
}

func (s *ChatStore) setError(err error) {
	s.mu.Lock()
	s.errMsg = userFacingError(err)
	s.mu.Unlock()
}

// userFacingError translates an internal failure into copy fit for the chat
// surface. Unrecognized errors pass through verbatim.
func userFacingError(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuthError(err):
		return errSessionExpired
	case errors.Is(err, domain.ErrTimeout):
		return errRequestTimeout
	case isNetworkError(err):
		return errNetworkTrouble
	default:
		return err.Error()
	}
}

func attachmentMetadata(attachments []domain.FileAttachment) *domain.MessageMetadata {
	if len(attachments) == 0 {
		return nil
	}
	meta := &domain.MessageMetadata{}
	for _, att := range attachments {
		meta.Attachments = append(meta.Attachments, domain.AttachmentMetadata{
			Name:   att.Name,
			Kind:   att.Kind,
			Size:   att.Size,
			Base64: att.Base64,
		})
	}
	return meta
}

func replyMetadata(model string, usage *domain.Usage, finishReason string) *domain.MessageMetadata {
	meta := &domain.MessageMetadata{Model: model, FinishReason: finishReason}
	if usage != nil {
		meta.Tokens = usage.TotalTokens
	}
	return meta
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func indexOfMessage(msgs []domain.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func removeMessage(msgs []domain.Message, id string) []domain.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

func removeConversation(convs []domain.Conversation, id string) []domain.Conversation {
	out := convs[:0]
	for _, c := range convs {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}
