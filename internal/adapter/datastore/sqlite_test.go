package datastore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"prism-chat/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestConversation(t *testing.T, store *SQLiteStore) *domain.Conversation {
	t.Helper()
	conv, err := store.CreateConversation(context.Background(), domain.ConversationFields{
		Title:         "New chat",
		UserID:        "user-1",
		ModelProvider: "openai",
		ModelName:     "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return conv
}

func TestSQLiteConversationCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := createTestConversation(t, store)
	if conv.ID == "" {
		t.Fatal("conversation id empty")
	}
	if conv.IsShared {
		t.Error("new conversation is shared")
	}

	title := "Renamed"
	updated, err := store.UpdateConversation(ctx, conv.ID, domain.ConversationPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}
	if updated.Title != "Renamed" {
		t.Errorf("Title = %q", updated.Title)
	}

	provider, model := "anthropic", "claude-3-5-haiku-20241022"
	updated, err = store.UpdateConversation(ctx, conv.ID, domain.ConversationPatch{
		ModelProvider: &provider,
		ModelName:     &model,
	})
	if err != nil {
		t.Fatalf("UpdateConversation model: %v", err)
	}
	if updated.ModelProvider != provider || updated.ModelName != model {
		t.Errorf("model = %s/%s", updated.ModelProvider, updated.ModelName)
	}
	if updated.Title != "Renamed" {
		t.Errorf("model patch touched title: %q", updated.Title)
	}

	convs, err := store.GetConversations(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}

	convs, err = store.GetConversations(ctx, "someone-else")
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(convs) != 0 {
		t.Errorf("foreign user sees %d conversations", len(convs))
	}

	if err := store.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if err := store.DeleteConversation(ctx, conv.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteMessagesOrderedOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, store)

	for _, content := range []string{"first", "second", "third"} {
		role := domain.RoleUser
		if content == "second" {
			role = domain.RoleAssistant
		}
		if _, err := store.CreateMessage(ctx, domain.MessageFields{
			ConversationID: conv.ID,
			Role:           role,
			Content:        content,
		}); err != nil {
			t.Fatalf("CreateMessage(%q): %v", content, err)
		}
	}

	msgs, err := store.GetMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestSQLiteMessageMetadataRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, store)

	msg, err := store.CreateMessage(ctx, domain.MessageFields{
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        "answer",
		Metadata: &domain.MessageMetadata{
			Model:  "gpt-4o-mini",
			Tokens: 42,
			Attachments: []domain.AttachmentMetadata{
				{Name: "cat.png", Kind: domain.AttachmentImage, Size: 1024},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := store.getMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("getMessage: %v", err)
	}
	if got.Metadata == nil || got.Metadata.Tokens != 42 {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if len(got.Metadata.Attachments) != 1 || got.Metadata.Attachments[0].Name != "cat.png" {
		t.Errorf("attachments = %+v", got.Metadata.Attachments)
	}
}

func TestSQLiteUpdateMessageContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, store)

	msg, err := store.CreateMessage(ctx, domain.MessageFields{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        "typo",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	fixed := "fixed"
	updated, err := store.UpdateMessage(ctx, msg.ID, domain.MessagePatch{Content: &fixed})
	if err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	if updated.Content != "fixed" {
		t.Errorf("Content = %q", updated.Content)
	}

	if _, err := store.UpdateMessage(ctx, "missing", domain.MessagePatch{Content: &fixed}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDeleteConversationCascadesMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, store)

	msg, err := store.CreateMessage(ctx, domain.MessageFields{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := store.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	if _, err := store.getMessage(ctx, msg.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("message survived cascade: %v", err)
	}
}

func TestSQLiteShareLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, store)

	if _, err := store.CreateMessage(ctx, domain.MessageFields{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        "hello",
	}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	shared, err := store.ShareConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ShareConversation: %v", err)
	}
	if !shared.IsShared || shared.ShareID == "" {
		t.Fatalf("shared = %+v", shared)
	}
	if shared.ShareID == conv.ID {
		t.Error("share token equals conversation id, want opaque token")
	}
	if shared.SharedAt == nil {
		t.Error("SharedAt not set")
	}

	read, err := store.GetSharedConversation(ctx, shared.ShareID)
	if err != nil {
		t.Fatalf("GetSharedConversation: %v", err)
	}
	if read.Conversation.ID != conv.ID {
		t.Errorf("conversation = %q", read.Conversation.ID)
	}
	if len(read.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(read.Messages))
	}

	unshared, err := store.UnshareConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("UnshareConversation: %v", err)
	}
	if unshared.IsShared || unshared.ShareID != "" {
		t.Errorf("unshared = %+v", unshared)
	}

	if _, err := store.GetSharedConversation(ctx, shared.ShareID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("revoked share still readable: %v", err)
	}

	reshared, err := store.ShareConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("re-ShareConversation: %v", err)
	}
	if reshared.ShareID == shared.ShareID {
		t.Error("re-share reused the old token")
	}
}

func TestSQLiteUserUpsertAndPatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutUser(ctx, domain.User{ID: "user-1", Email: "u@example.com"}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	name := "Ursula"
	user, err := store.UpdateUser(ctx, "user-1", domain.UserPatch{Name: &name})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if user.Name != "Ursula" {
		t.Errorf("Name = %q", user.Name)
	}

	if _, err := store.GetUser(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
