package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"prism-chat/internal/domain"
)

// SQLiteStore implements domain.DataStore on a local SQLite file. It serves
// single-user deployments and tests; semantics mirror the REST store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open chat db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate chat db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL DEFAULT '',
			name       TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS conversations (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			model_provider TEXT NOT NULL,
			model_name     TEXT NOT NULL,
			system_prompt  TEXT NOT NULL DEFAULT '',
			is_shared      INTEGER NOT NULL DEFAULT 0,
			share_id       TEXT,
			shared_at      TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_share ON conversations(share_id) WHERE share_id IS NOT NULL;
		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			metadata        TEXT,
			created_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const conversationCols = "id, title, user_id, model_provider, model_name, system_prompt, is_shared, share_id, shared_at, created_at, updated_at"

// GetConversations implements domain.DataStore. Newest activity first.
func (s *SQLiteStore) GetConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conversationCols+" FROM conversations WHERE user_id = ? ORDER BY updated_at DESC", userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get conversations: %w", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// CreateConversation implements domain.DataStore.
func (s *SQLiteStore) CreateConversation(ctx context.Context, fields domain.ConversationFields) (*domain.Conversation, error) {
	id := NewID()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, user_id, model_provider, model_name, system_prompt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, fields.Title, fields.UserID, fields.ModelProvider, fields.ModelName, fields.SystemPrompt,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return s.getConversation(ctx, id)
}

// UpdateConversation implements domain.DataStore.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, id string, patch domain.ConversationPatch) (*domain.Conversation, error) {
	updatedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if patch.UpdatedAt != nil {
		updatedAt = *patch.UpdatedAt
	}

	sets := []string{"updated_at = ?"}
	args := []any{updatedAt}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.ModelProvider != nil {
		sets = append(sets, "model_provider = ?")
		args = append(args, *patch.ModelProvider)
	}
	if patch.ModelName != nil {
		sets = append(sets, "model_name = ?")
		args = append(args, *patch.ModelName)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.getConversation(ctx, id)
}

// DeleteConversation implements domain.DataStore. Messages cascade.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetMessages implements domain.DataStore. Oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, metadata, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// CreateMessage implements domain.DataStore.
func (s *SQLiteStore) CreateMessage(ctx context.Context, fields domain.MessageFields) (*domain.Message, error) {
	id := NewID()
	now := time.Now().UTC()

	var metadata sql.NullString
	if fields.Metadata != nil {
		raw, err := json.Marshal(fields.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal message metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, fields.ConversationID, fields.Role, fields.Content, metadata, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return s.getMessage(ctx, id)
}

// UpdateMessage implements domain.DataStore.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id string, patch domain.MessagePatch) (*domain.Message, error) {
	sets := "content = content"
	args := []any{}
	if patch.Content != nil {
		sets = "content = ?"
		args = append(args, *patch.Content)
	}
	if patch.Metadata != nil {
		raw, err := json.Marshal(patch.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal message metadata: %w", err)
		}
		sets += ", metadata = ?"
		args = append(args, string(raw))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE messages SET "+sets+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.getMessage(ctx, id)
}

// DeleteMessage implements domain.DataStore.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetUser implements domain.DataStore.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, avatar_url, created_at, updated_at FROM users WHERE id = ?", id)

	var user domain.User
	var createdAt, updatedAt string
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.AvatarURL, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)
	return &user, nil
}

// UpdateUser implements domain.DataStore.
func (s *SQLiteStore) UpdateUser(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	sets := "updated_at = ?"
	args := []any{now}
	if patch.Name != nil {
		sets += ", name = ?"
		args = append(args, *patch.Name)
	}
	if patch.AvatarURL != nil {
		sets += ", avatar_url = ?"
		args = append(args, *patch.AvatarURL)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE users SET "+sets+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

// PutUser upserts a user row; used when a session is first seen locally.
func (s *SQLiteStore) PutUser(ctx context.Context, user domain.User) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, avatar_url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name, avatar_url = excluded.avatar_url, updated_at = excluded.updated_at`,
		user.ID, user.Email, user.Name, user.AvatarURL, now, now,
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// ShareConversation implements domain.DataStore.
func (s *SQLiteStore) ShareConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	shareID := NewID()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET is_shared = 1, share_id = ?, shared_at = ? WHERE id = ?", shareID, now, id)
	if err != nil {
		return nil, fmt.Errorf("share conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.getConversation(ctx, id)
}

// UnshareConversation implements domain.DataStore.
func (s *SQLiteStore) UnshareConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET is_shared = 0, share_id = NULL, shared_at = NULL WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("unshare conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.getConversation(ctx, id)
}

// GetSharedConversation implements domain.DataStore.
func (s *SQLiteStore) GetSharedConversation(ctx context.Context, shareID string) (*domain.SharedConversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+conversationCols+" FROM conversations WHERE share_id = ? AND is_shared = 1", shareID)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}

	msgs, err := s.GetMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &domain.SharedConversation{Conversation: *conv, Messages: msgs}, nil
}

// Ping implements domain.DataStore.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) getConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+conversationCols+" FROM conversations WHERE id = ?", id)
	return scanConversation(row)
}

func (s *SQLiteStore) getMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, conversation_id, role, content, metadata, created_at FROM messages WHERE id = ?", id)
	return scanMessage(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var isShared int
	var shareID, sharedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&conv.ID, &conv.Title, &conv.UserID, &conv.ModelProvider, &conv.ModelName,
		&conv.SystemPrompt, &isShared, &shareID, &sharedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	conv.IsShared = isShared != 0
	conv.ShareID = shareID.String
	if sharedAt.Valid {
		t := parseTime(sharedAt.String)
		conv.SharedAt = &t
	}
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	return &conv, nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var metadata sql.NullString
	var createdAt string

	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &metadata, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if metadata.Valid && metadata.String != "" {
		var meta domain.MessageMetadata
		if err := json.Unmarshal([]byte(metadata.String), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal message metadata: %w", err)
		}
		msg.Metadata = &meta
	}
	msg.CreatedAt = parseTime(createdAt)
	return &msg, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ domain.DataStore = (*SQLiteStore)(nil)
