// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package context assembles the message window sent to a provider.
//
// For stored conversations the Builder appends the new user message
// durably, reads the log back, and selects what the provider sees:
//
//   - Stateless providers (and stateful ones without a session yet) get a
//     bounded trailing window sized by an approximate token budget.
//   - Stateful providers that already hold a session get only the newest
//     turn; upstream remembers the rest.
//
// System-role messages never enter the window. The most recent one
// replaces the configured system prompt unless the request set one.
//
// # Usage
//
//	builder := context.NewBuilder(store, context.DefaultConfig())
//	win, err := builder.Build(ctx, context.Request{
//	    ConversationID: id,
//	    User:           model.NewMessage(model.RoleUser, "hello"),
//	    Settings:       s,
//	})
package context
