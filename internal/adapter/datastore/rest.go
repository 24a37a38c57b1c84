package datastore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"prism-chat/internal/domain"
	"prism-chat/internal/infra/config"
	"prism-chat/internal/infra/tracer"
)

// TokenSource supplies the bearer token attached to authenticated calls.
// The auth client implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token, for tests and
// service-role access.
type StaticToken string

func (s StaticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

const (
	defaultTimeout        = 10 * time.Second
	defaultRequestsPerSec = 20
)

// RESTStore is a domain.DataStore backed by a PostgREST-style HTTP API.
// Row filters use the eq. operator syntax and writes ask for the mutated
// representation back, so every mutation returns the stored row.
type RESTStore struct {
	baseURL string
	apiKey  string
	tokens  TokenSource
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRESTStore creates a REST data store.
func NewRESTStore(cfg config.DataStoreConfig, tokens TokenSource, logger *slog.Logger) *RESTStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = defaultRequestsPerSec
	}

	return &RESTStore{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/rest/v1",
		apiKey:  cfg.APIKey,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:  logger,
	}
}

// GetConversations implements domain.DataStore. Newest activity first.
func (s *RESTStore) GetConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var rows []domain.Conversation
	query := url.Values{
		"user_id": {"eq." + userID},
		"order":   {"updated_at.desc"},
	}
	if err := s.do(ctx, http.MethodGet, "/conversations", query, nil, true, &rows); err != nil {
		return nil, fmt.Errorf("get conversations: %w", err)
	}
	return rows, nil
}

// CreateConversation implements domain.DataStore.
func (s *RESTStore) CreateConversation(ctx context.Context, fields domain.ConversationFields) (*domain.Conversation, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}
	var rows []domain.Conversation
	if err := s.do(ctx, http.MethodPost, "/conversations", nil, body, true, &rows); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return firstRow(rows)
}

// UpdateConversation implements domain.DataStore.
func (s *RESTStore) UpdateConversation(ctx context.Context, id string, patch domain.ConversationPatch) (*domain.Conversation, error) {
	return s.patchConversation(ctx, id, patch)
}

// DeleteConversation implements domain.DataStore. Messages go with it via
// the schema's cascade.
func (s *RESTStore) DeleteConversation(ctx context.Context, id string) error {
	query := url.Values{"id": {"eq." + id}}
	if err := s.do(ctx, http.MethodDelete, "/conversations", query, nil, true, nil); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// GetMessages implements domain.DataStore. Oldest first.
func (s *RESTStore) GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var rows []domain.Message
	query := url.Values{
		"conversation_id": {"eq." + conversationID},
		"order":           {"created_at.asc"},
	}
	if err := s.do(ctx, http.MethodGet, "/messages", query, nil, true, &rows); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return rows, nil
}

// CreateMessage implements domain.DataStore.
func (s *RESTStore) CreateMessage(ctx context.Context, fields domain.MessageFields) (*domain.Message, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	var rows []domain.Message
	if err := s.do(ctx, http.MethodPost, "/messages", nil, body, true, &rows); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return firstRow(rows)
}

// UpdateMessage implements domain.DataStore.
func (s *RESTStore) UpdateMessage(ctx context.Context, id string, patch domain.MessagePatch) (*domain.Message, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal message patch: %w", err)
	}
	var rows []domain.Message
	query := url.Values{"id": {"eq." + id}}
	if err := s.do(ctx, http.MethodPatch, "/messages", query, body, true, &rows); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return firstRow(rows)
}

// DeleteMessage implements domain.DataStore.
func (s *RESTStore) DeleteMessage(ctx context.Context, id string) error {
	query := url.Values{"id": {"eq." + id}}
	if err := s.do(ctx, http.MethodDelete, "/messages", query, nil, true, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// GetUser implements domain.DataStore.
func (s *RESTStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var rows []domain.User
	query := url.Values{"id": {"eq." + id}}
	if err := s.do(ctx, http.MethodGet, "/users", query, nil, true, &rows); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return firstRow(rows)
}

// UpdateUser implements domain.DataStore.
func (s *RESTStore) UpdateUser(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal user patch: %w", err)
	}
	var rows []domain.User
	query := url.Values{"id": {"eq." + id}}
	if err := s.do(ctx, http.MethodPatch, "/users", query, body, true, &rows); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return firstRow(rows)
}

// ShareConversation implements domain.DataStore. The share token is an
// opaque ULID, not guessable from the conversation id.
func (s *RESTStore) ShareConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	shareID := NewID()
	now := time.Now().UTC().Format(time.RFC3339)
	return s.patchConversation(ctx, id, sharePatch{
		IsShared: boolPtr(true),
		ShareID:  &shareID,
		SharedAt: &now,
	})
}

// UnshareConversation implements domain.DataStore. The share token is
// discarded, so a later re-share mints a fresh one.
func (s *RESTStore) UnshareConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.patchConversation(ctx, id, sharePatch{IsShared: boolPtr(false)})
}

// GetSharedConversation implements domain.DataStore. Reads with the anon key
// only; the share token is the capability.
func (s *RESTStore) GetSharedConversation(ctx context.Context, shareID string) (*domain.SharedConversation, error) {
	var convs []domain.Conversation
	query := url.Values{
		"share_id":  {"eq." + shareID},
		"is_shared": {"eq.true"},
	}
	if err := s.do(ctx, http.MethodGet, "/conversations", query, nil, false, &convs); err != nil {
		return nil, fmt.Errorf("get shared conversation: %w", err)
	}
	conv, err := firstRow(convs)
	if err != nil {
		return nil, fmt.Errorf("get shared conversation: %w", err)
	}

	var msgs []domain.Message
	msgQuery := url.Values{
		"conversation_id": {"eq." + conv.ID},
		"order":           {"created_at.asc"},
	}
	if err := s.do(ctx, http.MethodGet, "/messages", msgQuery, nil, false, &msgs); err != nil {
		return nil, fmt.Errorf("get shared messages: %w", err)
	}

	return &domain.SharedConversation{Conversation: *conv, Messages: msgs}, nil
}

// Ping implements domain.DataStore. A HEAD read of a single row is the
// cheapest authenticated round trip PostgREST offers.
func (s *RESTStore) Ping(ctx context.Context) error {
	query := url.Values{"select": {"id"}, "limit": {"1"}}
	if err := s.do(ctx, http.MethodHead, "/conversations", query, nil, true, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (s *RESTStore) patchConversation(ctx context.Context, id string, patch any) (*domain.Conversation, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation patch: %w", err)
	}
	var rows []domain.Conversation
	query := url.Values{"id": {"eq." + id}}
	if err := s.do(ctx, http.MethodPatch, "/conversations", query, body, true, &rows); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return firstRow(rows)
}

func (s *RESTStore) do(ctx context.Context, method, path string, query url.Values, body []byte, authed bool, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, span := tracer.StartSpan(ctx, "datastore."+method+path)
	defer span.End()

	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}
	if authed {
		token, err := s.tokens.AccessToken(ctx)
		if err != nil {
			tracer.RecordError(span, err)
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		tracer.RecordError(span, err)
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("datastore request: %w: %v", domain.ErrTimeout, err)
		}
		return fmt.Errorf("datastore request: %w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		tracer.RecordError(span, err)
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := mapRESTError(resp.StatusCode, respBody)
		tracer.RecordError(span, err)
		return err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			tracer.RecordError(span, err)
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	tracer.SetOK(span)
	return nil
}

// mapRESTError maps a non-2xx response to a sentinel-wrapped error. The body
// is preserved verbatim so PostgREST error codes (PGRST301, PGRST116) stay
// visible to the retry classifier.
func mapRESTError(status int, body []byte) error {
	var sentinel error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = domain.ErrAuthInvalid
	case status == http.StatusNotFound || status == http.StatusNotAcceptable:
		sentinel = domain.ErrNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		sentinel = domain.ErrTimeout
	case status >= 500:
		sentinel = domain.ErrNetwork
	default:
		sentinel = domain.ErrInvalidInput
	}
	return &domain.ProviderHTTPError{Status: status, Body: string(body), Err: sentinel}
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

func firstRow[T any](rows []T) (*T, error) {
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	return &rows[0], nil
}

func boolPtr(b bool) *bool { return &b }

// sharePatch is the wire shape for share and unshare updates. Nil pointers
// marshal as explicit nulls so unsharing clears the token server-side.
type sharePatch struct {
	IsShared *bool   `json:"is_shared"`
	ShareID  *string `json:"share_id"`
	SharedAt *string `json:"shared_at"`
}

// NewID mints a lexicographically sortable unique id for rows and share
// tokens.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

var _ domain.DataStore = (*RESTStore)(nil)
