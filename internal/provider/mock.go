// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"
	"time"
)

// MockModel is the model id reported by the mock backend.
const MockModel = "mock"

// Mock is a deterministic backend that echoes the last user message.
// It never fails on its own; only cancellation stops it early.
type Mock struct {
	// Delay is the pause between fragments.
	Delay time.Duration
}

// NewMock creates a mock adapter.
func NewMock(delay time.Duration) *Mock {
	return &Mock{Delay: delay}
}

// Backend implements Adapter.
func (m *Mock) Backend() Backend { return BackendMock }

// Stateful implements Adapter.
func (m *Mock) Stateful() bool { return false }

// Stream implements Adapter.
func (m *Mock) Stream(ctx context.Context, req Request) (*Stream, error) {
	words := MockFragments(req)
	delay := m.Delay

	seq := func(yield func(string, error) bool) {
		var timer *time.Timer
		for i, w := range words {
			if i > 0 && delay > 0 {
				if timer == nil {
					timer = time.NewTimer(delay)
					defer timer.Stop()
				} else {
					timer.Reset(delay)
				}
				select {
				case <-ctx.Done():
					yield("", Interrupted(BackendMock, ctx.Err()))
					return
				case <-timer.C:
				}
			} else if err := ctx.Err(); err != nil {
				yield("", Interrupted(BackendMock, err))
				return
			}
			if !yield(w, nil) {
				return
			}
		}
	}
	return &Stream{Model: MockModel, Fragments: seq}, nil
}

// MockResponse returns the full text the mock produces for req.
func MockResponse(req Request) string {
	content, ok := LastUserContent(req.Messages)
	if !ok || content == "" {
		return "This is a mock response."
	}
	return "This is a mock response to: " + content
}

// MockFragments splits the mock response into words, each keeping its
// trailing space.
func MockFragments(req Request) []string {
	parts := strings.SplitAfter(MockResponse(req), " ")
	frags := parts[:0]
	for _, p := range parts {
		if p != "" {
			frags = append(frags, p)
		}
	}
	return frags
}
