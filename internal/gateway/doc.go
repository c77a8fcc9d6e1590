// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway runs one chat turn end to end.
//
// A turn moves through four states:
//
//	Validating -> Resolving -> Streaming -> Completing
//
// Validating rejects malformed input before anything is touched. Resolving
// normalizes settings, picks the adapter and, for conversation turns, takes
// the per-conversation lock and loads the stored session. Streaming relays
// fragments to the Sink as they arrive. Completing persists the assistant
// message and emits exactly one terminal frame.
//
// If the chosen backend cannot be resolved, fails before streaming, or
// fails before its first fragment, the turn is retried once on the mock
// backend. A turn that has relayed a fragment, or that hit its provider
// timeout, is never retried.
//
// # Errors
//
// Handle returns *Error when the turn failed before any frame was sent, so
// the caller can still answer with a plain HTTP error. Once frames have
// been sent, failures are reported on the terminal frame instead.
package gateway
