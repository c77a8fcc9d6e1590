// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent provides the stateful dev-agent adapter.
//
// Codex runs `codex exec --json` as a subprocess per turn and translates its
// JSONL event stream into fragments. The agent keeps conversation memory
// itself; the thread id it reports is returned as the session handle and
// passed back with `resume` on the next turn.
//
// # Event Mapping
//
//   - thread.started: session handle
//   - item.completed (agent_message): one fragment
//   - turn.failed, error: stream failure
//   - turn.completed: end of turn
package agent
