// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatgate/internal/model"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// clock hands out strictly increasing times.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type storeBackend struct {
	name string
	open func(t *testing.T, dir string, c *clock) Store
}

var backends = []storeBackend{
	{"jsonl", func(t *testing.T, dir string, c *clock) Store {
		s, err := NewFileStore(dir)
		require.NoError(t, err)
		s.now = c.now
		return s
	}},
	{"sqlite", func(t *testing.T, dir string, c *clock) Store {
		s, err := NewSQLiteStore(dir)
		require.NoError(t, err)
		s.now = c.now
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t, t.TempDir(), newClock()))
		})
	}
}

func appendN(t *testing.T, s Store, id string, n int) []model.Message {
	t.Helper()
	var out []model.Message
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		msg, err := s.Append(context.Background(), id, model.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

// =============================================================================
// STORE TESTS
// =============================================================================

func TestOpen(t *testing.T) {
	s, err := Open("", t.TempDir())
	require.NoError(t, err)
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("Open(\"\") = %T, want *FileStore", s)
	}

	s, err = Open("sqlite", t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open(\"sqlite\") = %T, want *SQLiteStore", s)
	}

	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "first chat")
		require.NoError(t, err)
		require.NotEmpty(t, conv.ID)

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		if got.Title != "first chat" {
			t.Errorf("Title = %q, want %q", got.Title, "first chat")
		}
		if len(got.Messages) != 0 {
			t.Errorf("len(Messages) = %d, want 0", len(got.Messages))
		}
		if got.Session != nil {
			t.Errorf("Session = %+v, want nil", got.Session)
		}
	})
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "")
		require.NoError(t, err)

		appended := appendN(t, s, conv.ID, 7)

		msgs, err := s.Read(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 7)
		for i, msg := range msgs {
			if msg.ID != appended[i].ID {
				t.Errorf("msgs[%d].ID = %q, want %q", i, msg.ID, appended[i].ID)
			}
			if msg.Content != fmt.Sprintf("message %d", i) {
				t.Errorf("msgs[%d].Content = %q", i, msg.Content)
			}
			if !msg.Timestamp.Equal(appended[i].Timestamp) {
				t.Errorf("msgs[%d].Timestamp = %v, want %v", i, msg.Timestamp, appended[i].Timestamp)
			}
		}
	})
}

func TestStore_AppendAssignsIdentity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "")
		require.NoError(t, err)

		msg, err := s.Append(ctx, conv.ID, model.Message{Role: model.RoleAssistant, Content: "hi", Model: "mock"})
		require.NoError(t, err)
		require.NotEmpty(t, msg.ID)
		require.False(t, msg.Timestamp.IsZero())

		msgs, err := s.Read(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		if msgs[0].Model != "mock" {
			t.Errorf("Model = %q, want %q", msgs[0].Model, "mock")
		}
	})
}

func TestStore_AppendRejects(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Append(ctx, "missing", model.Message{Role: model.RoleUser, Content: "x"})
		if !errors.Is(err, ErrConversationNotFound) {
			t.Errorf("append to missing: err = %v, want ErrConversationNotFound", err)
		}

		conv, err := s.Create(ctx, "")
		require.NoError(t, err)
		_, err = s.Append(ctx, conv.ID, model.Message{Role: "robot", Content: "x"})
		if !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("bad role: err = %v, want ErrInvalidMessage", err)
		}

		_, err = s.Append(ctx, "../etc/passwd", model.Message{Role: model.RoleUser, Content: "x"})
		if !errors.Is(err, ErrInvalidID) {
			t.Errorf("bad id: err = %v, want ErrInvalidID", err)
		}
	})
}

func TestStore_MultilineContent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "")
		require.NoError(t, err)

		content := "line one\nline two\r\n\ttabbed 日本語"
		_, err = s.Append(ctx, conv.ID, model.Message{Role: model.RoleUser, Content: content})
		require.NoError(t, err)

		msgs, err := s.Read(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		if msgs[0].Content != content {
			t.Errorf("Content = %q, want %q", msgs[0].Content, content)
		}
	})
}

func TestStore_Prune(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "")
		require.NoError(t, err)
		appended := appendN(t, s, conv.ID, 10)

		require.NoError(t, s.Prune(ctx, conv.ID, 3))

		msgs, err := s.Read(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		for i, msg := range msgs {
			want := appended[7+i]
			if msg.ID != want.ID {
				t.Errorf("msgs[%d].ID = %q, want %q", i, msg.ID, want.ID)
			}
		}

		// Pruning again with the same N changes nothing.
		require.NoError(t, s.Prune(ctx, conv.ID, 3))
		again, err := s.Read(ctx, conv.ID)
		require.NoError(t, err)
		require.Equal(t, msgs, again)

		// Keeping more than exist is a no-op.
		require.NoError(t, s.Prune(ctx, conv.ID, 50))
		msgs, err = s.Read(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)

		// New appends land after the survivors.
		more := appendN(t, s, conv.ID, 1)
		msgs, err = s.Read(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		if msgs[3].ID != more[0].ID {
			t.Errorf("last message = %q, want %q", msgs[3].ID, more[0].ID)
		}
	})
}

func TestStore_PruneToZeroDeletes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "")
		require.NoError(t, err)
		appendN(t, s, conv.ID, 2)

		require.NoError(t, s.Prune(ctx, conv.ID, 0))

		_, err = s.Get(ctx, conv.ID)
		if !errors.Is(err, ErrConversationNotFound) {
			t.Errorf("Get after delete: err = %v, want ErrConversationNotFound", err)
		}

		// Deleting again is a no-op.
		require.NoError(t, s.Prune(ctx, conv.ID, 0))
	})
}

func TestStore_PruneErrors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Prune(ctx, "missing", 2); !errors.Is(err, ErrConversationNotFound) {
			t.Errorf("prune missing: err = %v, want ErrConversationNotFound", err)
		}

		conv, err := s.Create(ctx, "")
		require.NoError(t, err)
		if err := s.Prune(ctx, conv.ID, -1); !errors.Is(err, ErrInvalidKeep) {
			t.Errorf("prune -1: err = %v, want ErrInvalidKeep", err)
		}
	})
}

func TestStore_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, ErrConversationNotFound)
		_, err = s.Export(ctx, "nope")
		require.ErrorIs(t, err, ErrConversationNotFound)
		err = s.SetSession(ctx, "nope", model.Session{Backend: "codex", Handle: "t1"})
		require.ErrorIs(t, err, ErrConversationNotFound)
		err = s.SetFeedback(ctx, "nope", "m1", model.FeedbackUp)
		require.ErrorIs(t, err, ErrConversationNotFound)
	})
}

func TestStore_Session(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "")
		require.NoError(t, err)

		require.NoError(t, s.SetSession(ctx, conv.ID, model.Session{Backend: "codex", Handle: "thread-1"}))

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		if h := got.SessionFor("codex"); h != "thread-1" {
			t.Errorf("SessionFor(codex) = %q, want %q", h, "thread-1")
		}
		if h := got.SessionFor("claude"); h != "" {
			t.Errorf("SessionFor(claude) = %q, want empty", h)
		}

		require.NoError(t, s.SetSession(ctx, conv.ID, model.Session{Backend: "codex", Handle: "thread-2"}))
		got, err = s.Get(ctx, conv.ID)
		require.NoError(t, err)
		if h := got.SessionFor("codex"); h != "thread-2" {
			t.Errorf("SessionFor(codex) = %q, want %q", h, "thread-2")
		}
	})
}

func TestStore_Feedback(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "")
		require.NoError(t, err)
		msgs := appendN(t, s, conv.ID, 2)

		require.NoError(t, s.SetFeedback(ctx, conv.ID, msgs[1].ID, model.FeedbackUp))

		got, err := s.Read(ctx, conv.ID)
		require.NoError(t, err)
		if got[0].Feedback != model.FeedbackNone {
			t.Errorf("msgs[0].Feedback = %q, want none", got[0].Feedback)
		}
		if got[1].Feedback != model.FeedbackUp {
			t.Errorf("msgs[1].Feedback = %q, want up", got[1].Feedback)
		}

		require.NoError(t, s.SetFeedback(ctx, conv.ID, msgs[1].ID, model.FeedbackDown))
		got, err = s.Read(ctx, conv.ID)
		require.NoError(t, err)
		if got[1].Feedback != model.FeedbackDown {
			t.Errorf("msgs[1].Feedback = %q, want down", got[1].Feedback)
		}

		err = s.SetFeedback(ctx, conv.ID, "no-such-message", model.FeedbackUp)
		require.ErrorIs(t, err, ErrMessageNotFound)

		err = s.SetFeedback(ctx, conv.ID, msgs[0].ID, "meh")
		require.ErrorIs(t, err, ErrInvalidMessage)
	})
}

func TestStore_Export(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv, err := s.Create(ctx, "Greeting")
		require.NoError(t, err)
		_, err = s.Append(ctx, conv.ID, model.Message{Role: model.RoleUser, Content: "Hello"})
		require.NoError(t, err)
		_, err = s.Append(ctx, conv.ID, model.Message{Role: model.RoleAssistant, Content: "Hi there", Model: "mock"})
		require.NoError(t, err)

		text, err := s.Export(ctx, conv.ID)
		require.NoError(t, err)

		for _, want := range []string{"Conversation " + conv.ID, "Title: Greeting", "User:\nHello", "Assistant (mock):\nHi there"} {
			if !strings.Contains(text, want) {
				t.Errorf("export missing %q:\n%s", want, text)
			}
		}
		if strings.Index(text, "Hello") > strings.Index(text, "Hi there") {
			t.Error("export out of order")
		}
	})
}

func TestStore_ListOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, err := s.Create(ctx, "a")
		require.NoError(t, err)
		b, err := s.Create(ctx, "b")
		require.NoError(t, err)
		c, err := s.Create(ctx, "c")
		require.NoError(t, err)

		// Touch a last so it becomes the newest.
		appendN(t, s, a.ID, 2)

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)

		order := []string{list[0].ID, list[1].ID, list[2].ID}
		want := []string{a.ID, c.ID, b.ID}
		require.Equal(t, want, order)
		if list[0].MessageCount != 2 {
			t.Errorf("MessageCount = %d, want 2", list[0].MessageCount)
		}
	})
}

func TestStore_ListEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		list, err := s.List(context.Background())
		require.NoError(t, err)
		require.NotNil(t, list)
		require.Empty(t, list)
	})
}

func TestStore_CancelledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		conv, err := s.Create(context.Background(), "")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := s.Append(ctx, conv.ID, model.Message{Role: model.RoleUser, Content: "x"}); err == nil {
			t.Error("expected error from cancelled context")
		}

		msgs, err := s.Read(context.Background(), conv.ID)
		require.NoError(t, err)
		require.Empty(t, msgs)
	})
}

func TestStore_Reopen(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			dir := t.TempDir()
			c := newClock()
			s := b.open(t, dir, c)
			conv, err := s.Create(context.Background(), "durable")
			require.NoError(t, err)
			appendN(t, s, conv.ID, 3)
			require.NoError(t, s.Close())

			s = b.open(t, dir, c)
			msgs, err := s.Read(context.Background(), conv.ID)
			require.NoError(t, err)
			require.Len(t, msgs, 3)
		})
	}
}

// =============================================================================
// FILE STORE SPECIFICS
// =============================================================================

func TestFileStore_TornFinalLine(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := s.Create(ctx, "")
	require.NoError(t, err)
	appendN(t, s, conv.ID, 2)

	f, err := os.OpenFile(filepath.Join(dir, conv.ID+logSuffix), os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"half","ts":"2025-01`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	msgs, err := s.Read(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// Appends after the crash must land on their own lines.
	third, err := s.Append(ctx, conv.ID, model.NewMessage(model.RoleUser, "after crash"))
	require.NoError(t, err)
	msgs, err = s.Read(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	if msgs[2].ID != third.ID {
		t.Errorf("third message = %q, want %q", msgs[2].ID, third.ID)
	}

	fourth, err := s.Append(ctx, conv.ID, model.NewMessage(model.RoleAssistant, "still here"))
	require.NoError(t, err)
	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 4)
	if got.Messages[3].ID != fourth.ID || got.Messages[3].Content != "still here" {
		t.Errorf("fourth message = %+v", got.Messages[3])
	}
}

func TestFileStore_CorruptMiddleLine(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := s.Create(ctx, "")
	require.NoError(t, err)

	path := filepath.Join(dir, conv.ID+logSuffix)
	data := `{"id":"a","ts":"2025-01-01T00:00:00Z","role":"user","content":"x"}
not json
{"id":"b","ts":"2025-01-01T00:00:01Z","role":"assistant","content":"y"}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	if _, err := s.Read(ctx, conv.ID); err == nil {
		t.Error("expected error for corrupt middle record")
	}
}

func TestFileStore_ListSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := s.Create(ctx, "good")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken"+metaSuffix), []byte("{"), 0600))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	if list[0].ID != conv.ID {
		t.Errorf("ID = %q, want %q", list[0].ID, conv.ID)
	}
}

func TestFileStore_PruneDropsFeedback(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := s.Create(ctx, "")
	require.NoError(t, err)
	msgs := appendN(t, s, conv.ID, 4)
	require.NoError(t, s.SetFeedback(ctx, conv.ID, msgs[0].ID, model.FeedbackDown))
	require.NoError(t, s.SetFeedback(ctx, conv.ID, msgs[3].ID, model.FeedbackUp))

	require.NoError(t, s.Prune(ctx, conv.ID, 2))

	m, err := s.readMeta(conv.ID)
	require.NoError(t, err)
	require.Len(t, m.Feedback, 1)
	if m.Feedback[msgs[3].ID] != model.FeedbackUp {
		t.Errorf("kept feedback = %q, want up", m.Feedback[msgs[3].ID])
	}
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestConversationError_Is(t *testing.T) {
	wrapped := fmt.Errorf("loading: %w", notFound("abc"))
	if !errors.Is(wrapped, ErrConversationNotFound) {
		t.Error("wrapped not-found should match ErrConversationNotFound")
	}
	if errors.Is(wrapped, ErrInvalidID) {
		t.Error("not-found should not match ErrInvalidID")
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"abc-123_DEF", true},
		{"6f1c2d3e-0000-4000-8000-000000000000", true},
		{"", false},
		{"../x", false},
		{"a/b", false},
		{"a b", false},
		{strings.Repeat("a", 129), false},
	}
	for _, tt := range tests {
		err := ValidateID(tt.id)
		if got := err == nil; got != tt.want {
			t.Errorf("ValidateID(%q) valid = %v, want %v", tt.id, got, tt.want)
		}
	}
}

// =============================================================================
// SQLITE STORE SPECIFICS
// =============================================================================

func TestSQLiteStore_FullSync(t *testing.T) {
	s, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	// 2 is FULL.
	var sync int
	require.NoError(t, s.db.QueryRow("PRAGMA synchronous").Scan(&sync))
	if sync != 2 {
		t.Errorf("synchronous = %d, want 2 (FULL)", sync)
	}
}

// =============================================================================
// FILE LOCK TESTS
// =============================================================================

// A lock taken through a separate file handle stands in for another
// process, since the advisory lock is per open file.
func TestFileStore_WritesWaitForLockHolder(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := s.Create(ctx, "")
	require.NoError(t, err)
	appendN(t, s, conv.ID, 2)

	other, err := acquireFileLock(ctx, s.lockPath(conv.ID))
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := s.Append(short, conv.ID, model.NewMessage(model.RoleUser, "blocked")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Append while locked err = %v, want DeadlineExceeded", err)
	}
	if err := s.Prune(short, conv.ID, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Prune while locked err = %v, want DeadlineExceeded", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Append(ctx, conv.ID, model.NewMessage(model.RoleAssistant, "after unlock"))
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Append finished while locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, other.Unlock())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Append did not resume after unlock")
	}

	msgs, err := s.Read(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	if msgs[2].Content != "after unlock" {
		t.Errorf("last = %q", msgs[2].Content)
	}
}

// Two stores on one directory model a CLI prune racing a live server.
func TestFileStore_PruneAndAppendAcrossStores(t *testing.T) {
	dir := t.TempDir()
	server, err := NewFileStore(dir)
	require.NoError(t, err)
	cli, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := server.Create(ctx, "")
	require.NoError(t, err)
	appendN(t, server, conv.ID, 4)

	const appends = 20
	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, appends+appends)
	var last model.Message
	go func() {
		defer wg.Done()
		for i := 0; i < appends; i++ {
			msg, err := server.Append(ctx, conv.ID, model.NewMessage(model.RoleUser, fmt.Sprintf("live %d", i)))
			errs <- err
			last = msg
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < appends; i++ {
			errs <- cli.Prune(ctx, conv.ID, 2)
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Whatever the interleaving, the newest acknowledged append survives.
	msgs, err := server.Read(ctx, conv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	if got := msgs[len(msgs)-1]; got.ID != last.ID {
		t.Errorf("newest message = %q (%s), want %q", got.Content, got.ID, last.Content)
	}
}

func TestFileStore_DeleteRemovesLockFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := s.Create(ctx, "")
	require.NoError(t, err)
	appendN(t, s, conv.ID, 1)
	require.NoError(t, s.Prune(ctx, conv.ID, 0))

	if _, err := os.Stat(s.lockPath(conv.ID)); !os.IsNotExist(err) {
		t.Errorf("lock file still present: %v", err)
	}
	if _, err := s.Append(ctx, conv.ID, model.NewMessage(model.RoleUser, "x")); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Append after delete err = %v, want not found", err)
	}
	if _, err := os.Stat(s.lockPath(conv.ID)); !os.IsNotExist(err) {
		t.Error("append to a missing conversation left a lock file")
	}
}
