// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/chatgate/internal/model"
)

// DatabaseName is the file created under the storage directory.
const DatabaseName = "conversations.db"

// Schema is the SQLite schema for conversation storage.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id              TEXT PRIMARY KEY,
    title           TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL,
    session_backend TEXT NOT NULL DEFAULT '',
    session_handle  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    seq             INTEGER NOT NULL,
    id              TEXT NOT NULL,
    ts              INTEGER NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    model           TEXT NOT NULL DEFAULT '',
    feedback        TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (conversation_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_id ON messages(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
`

// SQLiteStore keeps all conversations in a single SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) dir/conversations.db.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory not set")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, DatabaseName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		// FULL syncs the WAL on every commit so Append is durable on return.
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Create starts an empty conversation.
func (s *SQLiteStore) Create(ctx context.Context, title string) (*model.Conversation, error) {
	now := s.now().UTC()
	conv := &model.Conversation{
		ID:        model.NewID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []model.Message{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// Get returns metadata and the ordered message log.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var (
		conv             model.Conversation
		created, updated int64
		backend, handle  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at, session_backend, session_handle
		 FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &created, &updated, &backend, &handle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.CreatedAt = time.Unix(0, created).UTC()
	conv.UpdatedAt = time.Unix(0, updated).UTC()
	if backend != "" {
		conv.Session = &model.Session{Backend: backend, Handle: handle}
	}

	msgs, err := s.messages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return &conv, nil
}

// Read returns the ordered message log.
func (s *SQLiteStore) Read(ctx context.Context, id string) ([]model.Message, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// Append durably adds msg to the end of the log.
func (s *SQLiteStore) Append(ctx context.Context, id string, msg model.Message) (model.Message, error) {
	if err := ValidateID(id); err != nil {
		return model.Message{}, err
	}
	if err := validateMessage(msg); err != nil {
		return model.Message{}, err
	}
	msg.EnsureIdentity(s.now())
	msg.Feedback = model.FeedbackNone

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.exists(ctx, tx, id); err != nil {
		return model.Message{}, err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, id).
		Scan(&seq); err != nil {
		return model.Message{}, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, seq, id, ts, role, content, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, seq, msg.ID, msg.Timestamp.UnixNano(), string(msg.Role), msg.Content, msg.Model); err != nil {
		return model.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		msg.Timestamp.UnixNano(), id); err != nil {
		return model.Message{}, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// Prune keeps the most recent keepLast messages.
func (s *SQLiteStore) Prune(ctx context.Context, id string, keepLast int) error {
	if keepLast < 0 {
		return ErrInvalidKeep
	}
	if err := ValidateID(id); err != nil {
		return err
	}

	if keepLast == 0 {
		// Messages go with the conversation via ON DELETE CASCADE.
		if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.exists(ctx, tx, id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ? AND seq NOT IN (
		    SELECT seq FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
		 )`, id, id, keepLast)
	if err != nil {
		return fmt.Errorf("failed to prune messages: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`, s.now().UTC().UnixNano(), id); err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
	}
	return tx.Commit()
}

// Export renders the conversation as a text transcript.
func (s *SQLiteStore) Export(ctx context.Context, id string) (string, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return conv.Transcript(), nil
}

// List returns summaries, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]model.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.updated_at, COUNT(m.seq)
		 FROM conversations c LEFT JOIN messages m ON m.conversation_id = c.id
		 GROUP BY c.id
		 ORDER BY c.updated_at DESC, c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []model.Summary{}
	for rows.Next() {
		var (
			sum     model.Summary
			updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &updated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		sum.UpdatedAt = time.Unix(0, updated).UTC()
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// SetSession records the provider session handle.
func (s *SQLiteStore) SetSession(ctx context.Context, id string, session model.Session) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET session_backend = ?, session_handle = ?, updated_at = ? WHERE id = ?`,
		session.Backend, session.Handle, s.now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

// SetFeedback tags one message.
func (s *SQLiteStore) SetFeedback(ctx context.Context, id, messageID string, feedback model.Feedback) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if !feedback.Valid() {
		return fmt.Errorf("%w: feedback %q", ErrInvalidMessage, feedback)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.exists(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET feedback = ? WHERE conversation_id = ? AND id = ?`,
		string(feedback), id, messageID)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) exists(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) messages(ctx context.Context, id string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, role, content, model, feedback
		 FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var (
			msg            model.Message
			ts             int64
			role, feedback string
		)
		if err := rows.Scan(&msg.ID, &ts, &role, &msg.Content, &msg.Model, &feedback); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Timestamp = time.Unix(0, ts).UTC()
		msg.Role = model.Role(role)
		msg.Feedback = model.Feedback(feedback)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
