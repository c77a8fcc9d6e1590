// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// ErrMultiLine is returned by AppendLine when the record contains a newline.
var ErrMultiLine = errors.New("record must not contain a newline")

// tailChunk is how far back AppendLine reads per step while looking for
// the last complete line.
const tailChunk = 64 * 1024

// RELIABILITY: Atomic write with fsync prevents data loss on crash
//
// AtomicWriteFile replaces path with data:
//  1. Write to a temporary file in the same directory
//  2. Sync the data to disk using fsync
//  3. Close and chmod the temp file
//  4. Atomically rename it over the target
//  5. Sync the parent directory so the rename itself survives a crash
//
// On crash, either the old file or the new complete file exists.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	// Same directory keeps the rename on one filesystem.
	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	// RELIABILITY: Data must be on disk before the rename publishes it
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync data to disk: %w", err)
	}

	// Windows refuses to rename an open file.
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true

	// RELIABILITY: Without this the directory entry may still point at the
	// old file after power loss
	return syncDir(dir)
}

// RELIABILITY: Durable append for the per-conversation message log
//
// AppendLine appends record plus a trailing newline to path and fsyncs
// before returning. The file is created if missing.
//
// A crash mid-append can leave a final line with no newline. That line
// was never acknowledged, so it is cut off before the new record is
// written. Otherwise the new record would be glued onto it and lost.
//
// Callers need one writer per file to guarantee ordering between lines.
func AppendLine(path string, record []byte, perm os.FileMode) error {
	if bytes.ContainsAny(record, "\r\n") {
		return ErrMultiLine
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, perm)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}

	if err := trimTornTail(f); err != nil {
		f.Close()
		return err
	}

	line := make([]byte, 0, len(record)+1)
	line = append(line, record...)
	line = append(line, '\n')

	// One write with O_APPEND keeps the line contiguous.
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync log: %w", err)
	}
	return f.Close()
}

// trimTornTail truncates f back to just after its last newline when the
// file does not already end in one.
func trimTornTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return fmt.Errorf("failed to read log tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}

	keep := int64(0)
	buf := make([]byte, tailChunk)
	for end := size; end > 0; {
		start := max(end-tailChunk, 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read log tail: %w", err)
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			keep = start + int64(i) + 1
			break
		}
		end = start
	}

	if err := f.Truncate(keep); err != nil {
		return fmt.Errorf("failed to drop partial record: %w", err)
	}
	return nil
}

// syncDir fsyncs a directory. Windows cannot open directories for sync.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}
