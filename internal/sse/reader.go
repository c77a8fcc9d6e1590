// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxLineSize is the largest single SSE line accepted (1 MB).
const MaxLineSize = 1024 * 1024

// ErrLineTooLong is returned when an upstream line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("sse line exceeds maximum size")

// Event is one parsed upstream event.
type Event struct {
	// Type is the "event:" field, often empty.
	Type string
	// Data is the joined "data:" lines.
	Data []byte
}

// IsDone reports the OpenAI-style [DONE] sentinel.
func (e Event) IsDone() bool {
	return bytes.Equal(e.Data, []byte("[DONE]"))
}

// Reader parses Server-Sent Events from a stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a reader over r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Reader{scanner: scanner}
}

// Next reads the next event. It returns io.EOF when the stream ends.
// Comments and id/retry fields are skipped.
func (s *Reader) Next() (Event, error) {
	var ev Event
	var dataLines [][]byte

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				ev.Data = bytes.Join(dataLines, []byte("\n"))
				return ev, nil
			}
			ev.Type = ""
			continue
		}

		switch {
		case line[0] == ':':
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Type = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[5:]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
	}

	if err := s.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Event{}, ErrLineTooLong
		}
		return Event{}, fmt.Errorf("sse read failed: %w", err)
	}

	// If we have data, return it before EOF
	if len(dataLines) > 0 {
		ev.Data = bytes.Join(dataLines, []byte("\n"))
		return ev, nil
	}
	return Event{}, io.EOF
}
