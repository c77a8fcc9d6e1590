// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// lockRetryDelay is how often a blocked fileLock polls.
const lockRetryDelay = 10 * time.Millisecond

// errLockHeld is returned by tryLock when another holder has the file.
var errLockHeld = errors.New("lock held elsewhere")

// =============================================================================
// ADVISORY FILE LOCK
// =============================================================================

// fileLock is an exclusive advisory lock on a file, shared between
// processes. The OS drops it if the holder dies.
type fileLock struct {
	f *os.File
}

// acquireFileLock blocks until path is locked or ctx is done. The file is
// created if missing.
func acquireFileLock(ctx context.Context, path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	for {
		err := tryLock(f)
		if err == nil {
			return &fileLock{f: f}, nil
		}
		if !errors.Is(err, errLockHeld) {
			f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

// Unlock releases the lock and closes the file.
func (l *fileLock) Unlock() error {
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
