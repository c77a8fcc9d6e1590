// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders stored conversations as downloadable transcripts.
//
// # Supported Formats
//
//   - text: The plain transcript, identical to Store.Export
//   - markdown: Headings per message with YAML front matter
//   - json: The full conversation record
//
// # Usage
//
//	f, err := export.ParseFormat(r.URL.Query().Get("format"))
//	exporter, err := export.For(f, export.DefaultOptions())
//	data, err := exporter.Export(conv)
package export
