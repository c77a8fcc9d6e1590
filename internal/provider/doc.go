// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the contract every chat backend implements.
//
// An Adapter turns a message list plus generation settings into a lazy
// sequence of text fragments. Failures come in two flavours:
//
//   - Pre-stream: Stream itself returns an error (bad credentials, network
//     failure, non-2xx response). The gateway may fall back to mock.
//   - Mid-stream: the fragment sequence yields an error. Whatever was
//     already relayed to the client stays relayed.
//
// Both wrap ErrUnavailable or ErrInterrupted so callers can classify them
// with errors.Is.
//
// # Key Types
//
//   - Adapter: One backend (mock, claude, gemini, docker, codex)
//   - Stream: Fragment sequence plus resolved model and session resolver
//   - Registry: Fixed tag to adapter table built at startup
//   - Mock: Deterministic word-by-word echo used for tests and fallback
//
// # Usage
//
//	reg := provider.NewRegistry(provider.Entry{Adapter: provider.NewMock(0)})
//	entry, err := reg.Lookup("mock")
//	stream, err := entry.Adapter.Stream(ctx, req)
//	for frag, err := range stream.Fragments {
//	    ...
//	}
package provider
