// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"errors"
	"fmt"
)

// Error kinds. Compare with errors.Is.
var (
	ErrInvalidRequest            = errors.New("invalid request")
	ErrProviderUnavailable       = errors.New("provider unavailable")
	ErrProviderStreamInterrupted = errors.New("provider stream interrupted")
	ErrStorageFailure            = errors.New("storage failure")
)

// Error is a classified turn failure. Message is safe to show clients;
// Cause carries the internal detail for logs.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

// Unwrap exposes the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func invalid(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func storageFailure(msg string, cause error) *Error {
	return &Error{Kind: ErrStorageFailure, Message: msg, Cause: cause}
}

func interrupted(msg string, cause error) *Error {
	return &Error{Kind: ErrProviderStreamInterrupted, Message: msg, Cause: cause}
}
