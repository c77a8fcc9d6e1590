// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/provider"
)

const (
	// DefaultBinary is looked up on PATH.
	DefaultBinary = "codex"

	// DefaultModel is reported when the request names no model.
	DefaultModel = "codex"

	// DefaultExitGrace is how long a finished turn may take to exit
	// before the process is killed.
	DefaultExitGrace = 2 * time.Second

	// MaxLineSize caps one JSONL event.
	MaxLineSize = 4 * 1024 * 1024

	stderrTail = 4096
)

// ErrEmptyPrompt is returned when the window has no user content.
var ErrEmptyPrompt = errors.New("no prompt to send")

// Config configures the Codex adapter.
type Config struct {
	// Binary is the executable name or path (default: codex).
	Binary string

	// ExitGrace bounds the wait for exit after turn.completed.
	ExitGrace time.Duration
}

// Codex is the dev-agent subprocess adapter.
type Codex struct {
	binary    string
	exitGrace time.Duration
}

// NewCodex creates a Codex adapter, filling defaults for zero fields.
func NewCodex(cfg Config) *Codex {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.ExitGrace <= 0 {
		cfg.ExitGrace = DefaultExitGrace
	}
	return &Codex{binary: cfg.Binary, exitGrace: cfg.ExitGrace}
}

// Backend implements provider.Adapter.
func (c *Codex) Backend() provider.Backend { return provider.BackendCodex }

// Stateful implements provider.Adapter.
func (c *Codex) Stateful() bool { return true }

// =============================================================================
// EVENTS
// =============================================================================

type event struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
	Item     *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *event) errorMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Type
}

// =============================================================================
// STREAM
// =============================================================================

// Stream implements provider.Adapter. A missing binary or a start failure
// is returned directly; everything after the process starts is yielded.
func (c *Codex) Stream(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	b := provider.BackendCodex

	prompt := Prompt(req)
	if prompt == "" {
		return nil, provider.Unavailable(b, ErrEmptyPrompt)
	}

	path, err := exec.LookPath(c.binary)
	if err != nil {
		return nil, provider.Unavailable(b, fmt.Errorf("%w: %s: %w", provider.ErrNotConfigured, c.binary, err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, path, Args(req, prompt)...)
	cmd.WaitDelay = c.exitGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, provider.Unavailable(b, fmt.Errorf("failed to create stdout pipe: %w", err))
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, provider.Unavailable(b, fmt.Errorf("failed to start %s: %w", c.binary, err))
	}

	// Unblock the reader on cancel even if a child still holds stdout.
	go func() {
		<-runCtx.Done()
		stdout.Close()
	}()

	var mu sync.Mutex
	session := req.SessionID

	modelID := req.Settings.Model
	if modelID == "" {
		modelID = DefaultModel
	}

	seq := func(yield func(string, error) bool) {
		completed := false
		defer func() { c.finish(cmd, cancel, completed) }()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 || line[0] != '{' {
				continue
			}
			var ev event
			if err := json.Unmarshal(line, &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "thread.started":
				if ev.ThreadID != "" {
					mu.Lock()
					session = ev.ThreadID
					mu.Unlock()
				}
			case "item.completed":
				if ev.Item != nil && ev.Item.Type == "agent_message" && ev.Item.Text != "" {
					if !yield(ev.Item.Text, nil) {
						return
					}
				}
			case "turn.failed", "error":
				yield("", provider.Interruptedf(b, "%s", ev.errorMessage()))
				return
			case "turn.completed":
				completed = true
				return
			}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			yield("", provider.Interrupted(b, ctxErr))
			return
		}
		if err := scanner.Err(); err != nil {
			yield("", provider.Interrupted(b, fmt.Errorf("failed to read events: %w", err)))
			return
		}

		// Stdout closed without turn.completed; the exit status decides.
		completed = true
		if err := c.wait(cmd, cancel); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			yield("", provider.Interruptedf(b, "%s", msg))
		}
	}

	return &provider.Stream{
		Model:     modelID,
		Fragments: seq,
		Session: func() string {
			mu.Lock()
			defer mu.Unlock()
			return session
		},
	}, nil
}

// finish reaps the process. A completed turn gets ExitGrace to exit on
// its own; anything else is killed immediately.
func (c *Codex) finish(cmd *exec.Cmd, cancel context.CancelFunc, completed bool) {
	if cmd.ProcessState != nil {
		cancel()
		return
	}
	if !completed {
		cancel()
	}
	_ = c.wait(cmd, cancel)
}

func (c *Codex) wait(cmd *exec.Cmd, cancel context.CancelFunc) error {
	if cmd.ProcessState != nil {
		cancel()
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		cancel()
		return err
	case <-time.After(c.exitGrace):
		cancel()
		return <-done
	}
}

// =============================================================================
// COMMAND LINE
// =============================================================================

// Args builds the exec arguments for one turn.
func Args(req provider.Request, prompt string) []string {
	args := []string{"exec", "--json"}
	if mode := req.Settings.PermissionMode; mode != "" {
		args = append(args, "--sandbox", string(mode))
	}
	if req.WorkingDir != "" {
		args = append(args, "-C", req.WorkingDir)
	}
	if req.Settings.Model != "" {
		args = append(args, "-m", req.Settings.Model)
	}
	if req.SessionID != "" {
		args = append(args, "resume", req.SessionID)
	}
	return append(args, prompt)
}

// Prompt flattens the window into one prompt. A resumed session already
// holds the history, so only the newest user message is sent.
func Prompt(req provider.Request) string {
	last, ok := provider.LastUserContent(req.Messages)
	if req.SessionID != "" {
		if !ok {
			return ""
		}
		return last
	}

	history := make([]model.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role != model.RoleSystem && m.Content != "" {
			history = append(history, m)
		}
	}
	if len(history) == 0 {
		return ""
	}
	if len(history) == 1 && req.Settings.SystemPrompt == "" {
		return history[0].Content
	}

	var sb strings.Builder
	if req.Settings.SystemPrompt != "" {
		sb.WriteString(req.Settings.SystemPrompt)
		sb.WriteString("\n\n")
	}
	for i, m := range history {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(m.Role.DisplayName())
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
