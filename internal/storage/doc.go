// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for chatgate.
//
// Every conversation is an append-only message log. Messages are never
// rewritten except by Prune, which keeps the most recent N. Feedback tags,
// titles, and provider session handles live beside the log as metadata.
//
// # Key Types
//
//   - Store: Storage interface used by the gateway, server and CLI
//   - FileStore: One <id>.jsonl log plus <id>.meta.json per conversation
//   - SQLiteStore: The same log in a single embedded SQLite file
//   - Locks: Per-conversation single-writer serialization
//
// # Concurrency
//
// Store implementations do not serialize writers themselves. Callers that
// write to a conversation hold Locks for that id; different ids never
// contend.
//
// # Usage
//
//	store, err := storage.Open("jsonl", dataDir)
//	conv, err := store.Create(ctx, "")
//	msg, err := store.Append(ctx, conv.ID, model.NewMessage(model.RoleUser, "hi"))
//	text, err := store.Export(ctx, conv.ID)
package storage
