// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/util"
)

const (
	logSuffix  = ".jsonl"
	metaSuffix = ".meta.json"
	lockSuffix = ".lock"

	// maxRecordSize bounds one log line when reading.
	maxRecordSize = 16 * 1024 * 1024
)

// =============================================================================
// ON-DISK TYPES
// =============================================================================

// record is one line of the message log.
type record struct {
	ID      string     `json:"id"`
	TS      time.Time  `json:"ts"`
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
	Model   string     `json:"model,omitempty"`
}

// meta is the mutable sidecar for a conversation.
type meta struct {
	ID        string                    `json:"id"`
	Title     string                    `json:"title,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`
	UpdatedAt time.Time                 `json:"updatedAt"`
	Session   *model.Session            `json:"session,omitempty"`
	Feedback  map[string]model.Feedback `json:"feedback,omitempty"`
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one append-only JSONL log per conversation.
//
// Every write to a conversation holds an advisory lock on <id>.lock, so a
// CLI run against the directory of a live server cannot interleave with
// the server's appends.
type FileStore struct {
	// BaseDir holds <id>.jsonl, <id>.meta.json and <id>.lock files.
	BaseDir string

	now func() time.Time
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("storage directory not set")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{BaseDir: baseDir, now: time.Now}, nil
}

// Create starts an empty conversation.
func (s *FileStore) Create(ctx context.Context, title string) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m := &meta{ID: model.NewID(), Title: title, CreatedAt: now, UpdatedAt: now}

	f, err := os.OpenFile(s.logPath(m.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create log: %w", err)
	}
	f.Close()

	if err := s.writeMeta(m); err != nil {
		os.Remove(s.logPath(m.ID))
		return nil, err
	}
	return m.conversation(nil), nil
}

// Get returns metadata and the ordered message log.
func (s *FileStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := s.readMeta(id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.readLog(id, m.Feedback)
	if err != nil {
		return nil, err
	}
	return m.conversation(msgs), nil
}

// Read returns the ordered message log.
func (s *FileStore) Read(ctx context.Context, id string) ([]model.Message, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// Append durably adds msg to the end of the log.
// Only the log is written, so a successful return means the message is on disk.
func (s *FileStore) Append(ctx context.Context, id string, msg model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	if err := validateMessage(msg); err != nil {
		return model.Message{}, err
	}
	lock, err := s.lock(ctx, id)
	if err != nil {
		return model.Message{}, err
	}
	defer lock.Unlock()
	if _, err := s.readMeta(id); err != nil {
		return model.Message{}, err
	}

	msg.EnsureIdentity(s.now())
	msg.Feedback = model.FeedbackNone

	data, err := json.Marshal(record{
		ID:      msg.ID,
		TS:      msg.Timestamp,
		Role:    msg.Role,
		Content: msg.Content,
		Model:   msg.Model,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := util.AppendLine(s.logPath(id), data, 0600); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// Prune keeps the most recent keepLast messages.
func (s *FileStore) Prune(ctx context.Context, id string, keepLast int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if keepLast < 0 {
		return ErrInvalidKeep
	}
	if err := ValidateID(id); err != nil {
		return err
	}

	if keepLast == 0 {
		return s.delete(ctx, id)
	}

	lock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	m, err := s.readMeta(id)
	if err != nil {
		return err
	}
	msgs, err := s.readLog(id, nil)
	if err != nil {
		return err
	}
	if len(msgs) <= keepLast {
		return nil
	}

	kept := msgs[len(msgs)-keepLast:]
	var buf bytes.Buffer
	for _, msg := range kept {
		line, err := json.Marshal(record{ID: msg.ID, TS: msg.Timestamp, Role: msg.Role, Content: msg.Content, Model: msg.Model})
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := util.AtomicWriteFile(s.logPath(id), buf.Bytes(), 0600); err != nil {
		return err
	}

	if len(m.Feedback) > 0 {
		keptIDs := make(map[string]bool, len(kept))
		for _, msg := range kept {
			keptIDs[msg.ID] = true
		}
		for msgID := range m.Feedback {
			if !keptIDs[msgID] {
				delete(m.Feedback, msgID)
			}
		}
	}
	m.UpdatedAt = s.now().UTC()
	return s.writeMeta(m)
}

// delete removes the conversation's files. A missing conversation is not
// an error.
func (s *FileStore) delete(ctx context.Context, id string) error {
	lock, err := acquireFileLock(ctx, s.lockPath(id))
	if err != nil {
		return err
	}
	for _, path := range []string{s.metaPath(id), s.logPath(id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			lock.Unlock()
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
	}
	if err := lock.Unlock(); err != nil {
		return err
	}
	// A writer still waiting on the old lock finds no metadata and fails
	// with not found. On Windows the remove fails while it holds the file.
	os.Remove(s.lockPath(id))
	return nil
}

// Export renders the conversation as a text transcript.
func (s *FileStore) Export(ctx context.Context, id string) (string, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return conv.Transcript(), nil
}

// List returns summaries, most recently updated first.
// Unreadable conversations are skipped.
func (s *FileStore) List(ctx context.Context) ([]model.Summary, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Summary{}, nil
		}
		return nil, err
	}

	summaries := []model.Summary{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		conv, err := s.Get(ctx, strings.TrimSuffix(entry.Name(), metaSuffix))
		if err != nil {
			continue
		}
		summaries = append(summaries, conv.Summary())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// SetSession records the provider session handle.
func (s *FileStore) SetSession(ctx context.Context, id string, session model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	m, err := s.readMeta(id)
	if err != nil {
		return err
	}
	m.Session = &session
	m.UpdatedAt = s.now().UTC()
	return s.writeMeta(m)
}

// SetFeedback tags one message.
func (s *FileStore) SetFeedback(ctx context.Context, id, messageID string, feedback model.Feedback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !feedback.Valid() {
		return fmt.Errorf("%w: feedback %q", ErrInvalidMessage, feedback)
	}
	lock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	m, err := s.readMeta(id)
	if err != nil {
		return err
	}
	msgs, err := s.readLog(id, nil)
	if err != nil {
		return err
	}
	found := false
	for _, msg := range msgs {
		if msg.ID == messageID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	if m.Feedback == nil {
		m.Feedback = make(map[string]model.Feedback)
	}
	m.Feedback[messageID] = feedback
	m.UpdatedAt = s.now().UTC()
	return s.writeMeta(m)
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *FileStore) logPath(id string) string {
	return filepath.Join(s.BaseDir, id+logSuffix)
}

func (s *FileStore) metaPath(id string) string {
	return filepath.Join(s.BaseDir, id+metaSuffix)
}

func (s *FileStore) lockPath(id string) string {
	return filepath.Join(s.BaseDir, id+lockSuffix)
}

// lock takes the cross-process write lock for an existing conversation.
func (s *FileStore) lock(ctx context.Context, id string) (*fileLock, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.metaPath(id)); os.IsNotExist(err) {
		return nil, notFound(id)
	}
	return acquireFileLock(ctx, s.lockPath(id))
}

func (s *FileStore) readMeta(id string) (*meta, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt metadata for %s: %w", id, err)
	}
	return &m, nil
}

func (s *FileStore) writeMeta(m *meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return util.AtomicWriteFile(s.metaPath(m.ID), data, 0600)
}

// readLog decodes the log in order. A torn final line (crash during an
// append) is ignored; corruption anywhere else is an error.
func (s *FileStore) readLog(id string, feedback map[string]model.Feedback) ([]model.Message, error) {
	f, err := os.Open(s.logPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)

	msgs := []model.Message{}
	var pending error
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if pending != nil {
			return nil, pending
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			pending = fmt.Errorf("corrupt record in %s: %w", id, err)
			continue
		}
		msgs = append(msgs, model.Message{
			ID:        rec.ID,
			Timestamp: rec.TS,
			Role:      rec.Role,
			Content:   rec.Content,
			Model:     rec.Model,
			Feedback:  feedback[rec.ID],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return msgs, nil
}

func (m *meta) conversation(msgs []model.Message) *model.Conversation {
	if msgs == nil {
		msgs = []model.Message{}
	}
	conv := &model.Conversation{
		ID:        m.ID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Messages:  msgs,
	}
	if m.Session != nil {
		session := *m.Session
		conv.Session = &session
	}
	if n := len(msgs); n > 0 && msgs[n-1].Timestamp.After(conv.UpdatedAt) {
		conv.UpdatedAt = msgs[n-1].Timestamp
	}
	return conv
}
