// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides file and string helpers shared by the gateway packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe whole-file replacement with fsync
//   - AppendLine: Durable single-line append for append-only logs
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - SingleLine: Collapse newlines for log-friendly previews
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//	err = util.AppendLine(logPath, record, 0600)
//	preview := util.TruncateRunes(util.SingleLine(text), 50)
package util
