// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse handles Server-Sent Events in both directions.
//
// Reader parses upstream provider streams. Encoder writes the gateway's
// own frames to clients as "data: <json>\n\n", flushing after each one,
// and refuses anything after the terminal done frame.
package sse
