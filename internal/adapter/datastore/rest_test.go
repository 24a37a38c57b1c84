package datastore

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

func newRESTStore(t *testing.T, handler http.Handler) (*RESTStore, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	store := NewRESTStore(config.DataStoreConfig{
		BaseURL: server.URL,
		APIKey:  "anon-key",
	}, StaticToken("user-token"), slog.Default())
	return store, server.Close
}

func TestRESTGetConversations(t *testing.T) {
	store, stop := newRESTStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "eq.user-1" {
			t.Errorf("user_id filter = %q, want eq.user-1", got)
		}
		if got := r.URL.Query().Get("order"); got != "updated_at.desc" {
			t.Errorf("order = %q", got)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Error("missing apikey header")
		}
		if r.Header.Get("Authorization") != "Bearer user-token" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode([]domain.Conversation{
			{ID: "c1", Title: "Chat", UserID: "user-1"},
		})
	}))
	defer stop()

	convs, err := store.GetConversations(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "c1" {
		t.Errorf("convs = %+v", convs)
	}
}

func TestRESTCreateMessageReturnsRepresentation(t *testing.T) {
	store, stop := newRESTStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}

		var fields domain.MessageFields
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]domain.Message{
			{ID: "m1", ConversationID: fields.ConversationID, Role: fields.Role, Content: fields.Content},
		})
	}))
	defer stop()

	msg, err := store.CreateMessage(context.Background(), domain.MessageFields{
		ConversationID: "c1",
		Role:           domain.RoleUser,
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID != "m1" || msg.Content != "hello" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestRESTErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"code":"PGRST301","message":"JWT expired"}`, domain.ErrAuthInvalid},
		{http.StatusNotFound, `{}`, domain.ErrNotFound},
		{http.StatusInternalServerError, `{}`, domain.ErrNetwork},
		{http.StatusBadRequest, `{}`, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		store, stop := newRESTStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, tt.body, tt.status)
		}))

		_, err := store.GetConversations(context.Background(), "user-1")
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
		if domain.HTTPStatus(err) != tt.status {
			t.Errorf("status %d: HTTPStatus = %d", tt.status, domain.HTTPStatus(err))
		}
		stop()
	}
}

// The retry classifier keys off PostgREST codes in the error text, so the
// body must survive into the error message.
func TestRESTErrorPreservesBody(t *testing.T) {
	store, stop := newRESTStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"PGRST301","message":"JWT expired"}`, http.StatusUnauthorized)
	}))
	defer stop()

	_, err := store.GetConversations(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected error")
	}
	var httpErr *domain.ProviderHTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %T, want ProviderHTTPError", err)
	}
	if httpErr.Body == "" || httpErr.Status != http.StatusUnauthorized {
		t.Errorf("httpErr = %+v", httpErr)
	}
}

func TestRESTCreateReturnsNotFoundOnEmptyRows(t *testing.T) {
	store, stop := newRESTStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]domain.Conversation{})
	}))
	defer stop()

	_, err := store.CreateConversation(context.Background(), domain.ConversationFields{Title: "x"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRESTGetSharedConversationUnauthenticated(t *testing.T) {
	store, stop := newRESTStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Shared reads must not carry the user token.
		if r.Header.Get("Authorization") != "Bearer anon-key" {
			t.Errorf("auth = %q, want anon key", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/rest/v1/conversations":
			if got := r.URL.Query().Get("share_id"); got != "eq.share-token" {
				t.Errorf("share_id filter = %q", got)
			}
			if got := r.URL.Query().Get("is_shared"); got != "eq.true" {
				t.Errorf("is_shared filter = %q", got)
			}
			json.NewEncoder(w).Encode([]domain.Conversation{{ID: "c1", IsShared: true, ShareID: "share-token"}})
		case "/rest/v1/messages":
			json.NewEncoder(w).Encode([]domain.Message{{ID: "m1", ConversationID: "c1", Content: "hi"}})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer stop()

	shared, err := store.GetSharedConversation(context.Background(), "share-token")
	if err != nil {
		t.Fatalf("GetSharedConversation: %v", err)
	}
	if shared.Conversation.ID != "c1" || len(shared.Messages) != 1 {
		t.Errorf("shared = %+v", shared)
	}
}

func TestRESTPing(t *testing.T) {
	var method string
	store, stop := newRESTStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer stop()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if method != http.MethodHead {
		t.Errorf("method = %q, want HEAD", method)
	}
}
