// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
)

// Use errors.Is to check for these errors.
var (
	// ErrClosed is returned when sending after the terminal frame.
	ErrClosed = errors.New("stream already terminated")

	// ErrNotOpen is returned when sending before Open.
	ErrNotOpen = errors.New("stream not opened")
)

// Frame is one event sent to the client.
type Frame struct {
	Content string `json:"content,omitempty"`
	Model   string `json:"model"`
	Done    bool   `json:"done"`

	// SessionID is the upstream session handle, on terminal frames only.
	SessionID string `json:"sessionId,omitempty"`

	// ConversationID is set on the terminal frame of conversation-mode turns.
	ConversationID string `json:"conversationId,omitempty"`

	// Error is set on a terminal frame that ends the stream in failure.
	Error string `json:"error,omitempty"`
}

// Encode renders f as one SSE event.
func Encode(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		// Frame holds only strings and a bool.
		data = []byte(`{"model":"","done":true,"error":"encoding failed"}`)
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	return buf
}

// Encoder writes frames to an HTTP response.
// At most one Done frame is ever written.
type Encoder struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
	closed  bool
}

// NewEncoder wraps w. Nothing is written until Open.
func NewEncoder(w http.ResponseWriter) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: f}
}

// Open sets the event-stream headers and commits a 200 status.
func (e *Encoder) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opened {
		return nil
	}
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
	e.opened = true
	e.flush()
	return nil
}

// Opened reports whether headers have been committed.
func (e *Encoder) Opened() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// Send writes and flushes one frame.
func (e *Encoder) Send(f Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opened {
		return ErrNotOpen
	}
	if e.closed {
		return ErrClosed
	}
	if f.Done {
		e.closed = true
	}
	if _, err := e.w.Write(Encode(f)); err != nil {
		e.closed = true
		return err
	}
	e.flush()
	return nil
}

// Closed reports whether the terminal frame has been sent.
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Encoder) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
