// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// ROLE / FEEDBACK TESTS
// =============================================================================

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleSystem, true},
		{Role("tool"), false},
		{Role(""), false},
	}
	for _, tc := range tests {
		if got := tc.role.Valid(); got != tc.want {
			t.Errorf("Role(%q).Valid() = %v, want %v", tc.role, got, tc.want)
		}
	}
}

func TestFeedback_Valid(t *testing.T) {
	if !FeedbackUp.Valid() || !FeedbackDown.Valid() {
		t.Error("up and down should be valid")
	}
	if FeedbackNone.Valid() || Feedback("meh").Valid() {
		t.Error("empty and unknown feedback should be invalid")
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_EnsureIdentity(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	m := Message{Role: RoleUser, Content: "hi"}
	m.EnsureIdentity(now)
	if m.ID == "" {
		t.Error("ID should be assigned")
	}
	if !m.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", m.Timestamp, now)
	}

	kept := Message{ID: "fixed", Timestamp: now.Add(-time.Hour)}
	kept.EnsureIdentity(now)
	if kept.ID != "fixed" {
		t.Errorf("ID = %q, want fixed", kept.ID)
	}
	if !kept.Timestamp.Equal(now.Add(-time.Hour)) {
		t.Error("existing timestamp should be preserved")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tc := range tests {
		if got := EstimateTokens(tc.in); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_SessionFor(t *testing.T) {
	c := &Conversation{}
	if got := c.SessionFor("codex"); got != "" {
		t.Errorf("SessionFor() on empty = %q, want empty", got)
	}

	c.Session = &Session{Backend: "codex", Handle: "thread-1"}
	if got := c.SessionFor("codex"); got != "thread-1" {
		t.Errorf("SessionFor(codex) = %q, want thread-1", got)
	}
	if got := c.SessionFor("claude"); got != "" {
		t.Errorf("SessionFor(claude) = %q, want empty", got)
	}
}

func TestConversation_Transcript(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := &Conversation{
		ID:        "c1",
		Title:     "Greeting",
		CreatedAt: ts,
		Messages: []Message{
			{ID: "1", Timestamp: ts, Role: RoleUser, Content: "Hello"},
			{ID: "2", Timestamp: ts, Role: RoleAssistant, Content: "Hi there", Model: "mock"},
		},
	}

	out := c.Transcript()
	for _, want := range []string{"Conversation c1", "Title: Greeting", "User:\nHello", "Assistant (mock):\nHi there"} {
		if !strings.Contains(out, want) {
			t.Errorf("Transcript() missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "Hello") > strings.Index(out, "Hi there") {
		t.Error("Transcript() should keep append order")
	}
}

func TestConversation_SummaryAndPreview(t *testing.T) {
	c := &Conversation{
		ID: "c1",
		Messages: []Message{
			{Role: RoleSystem, Content: "be nice"},
			{Role: RoleUser, Content: "line one\nline two that is long"},
		},
	}

	s := c.Summary()
	if s.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", s.MessageCount)
	}

	if got := c.Preview(10); got != "line on..." {
		t.Errorf("Preview(10) = %q, want %q", got, "line on...")
	}
}
