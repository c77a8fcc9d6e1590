// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
)

// Use errors.Is to classify adapter failures.
var (
	// ErrUnavailable means the provider could not serve the request.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrInterrupted means an established stream failed part way.
	ErrInterrupted = errors.New("provider stream interrupted")

	// ErrUnknownBackend means the tag is not in the registry.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrNotConfigured means required credentials or settings are missing.
	ErrNotConfigured = errors.New("provider not configured")
)

// Error is a classified adapter failure.
type Error struct {
	Backend Backend

	// Kind is ErrUnavailable or ErrInterrupted.
	Kind error

	// Status is the upstream HTTP status, if any.
	Status int

	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %v (status %d): %s", e.Backend, e.Kind, e.Status, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Backend, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Backend, e.Kind, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Unavailable wraps cause as a pre-stream failure.
func Unavailable(b Backend, cause error) error {
	return &Error{Backend: b, Kind: ErrUnavailable, Err: cause}
}

// Unavailablef builds a pre-stream failure from a message.
func Unavailablef(b Backend, format string, args ...any) error {
	return &Error{Backend: b, Kind: ErrUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Interrupted wraps cause as a mid-stream failure.
func Interrupted(b Backend, cause error) error {
	return &Error{Backend: b, Kind: ErrInterrupted, Err: cause}
}

// Interruptedf builds a mid-stream failure from a message.
func Interruptedf(b Backend, format string, args ...any) error {
	return &Error{Backend: b, Kind: ErrInterrupted, Message: fmt.Sprintf(format, args...)}
}

// StatusError is a non-2xx upstream response.
func StatusError(b Backend, status int, body string) error {
	return &Error{Backend: b, Kind: ErrUnavailable, Status: status, Message: body}
}
