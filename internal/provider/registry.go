// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"fmt"
	"sort"
	"time"
)

// DefaultTimeout bounds one generation when an entry sets none.
const DefaultTimeout = 120 * time.Second

// Entry is one registered backend.
type Entry struct {
	Adapter Adapter

	// Timeout bounds the whole generation, stream included.
	Timeout time.Duration

	// DefaultModel is used when the request names no model.
	DefaultModel string
}

// Registry is the fixed dispatch table from tag to adapter.
// It is built once at startup and never mutated, so it is safe for
// concurrent use.
type Registry struct {
	entries map[Backend]Entry
}

// NewRegistry builds a registry. A mock entry is added if none is given,
// because the gateway always needs a fallback.
func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{entries: make(map[Backend]Entry, len(entries)+1)}
	for _, e := range entries {
		if e.Adapter == nil {
			continue
		}
		if e.Timeout <= 0 {
			e.Timeout = DefaultTimeout
		}
		r.entries[e.Adapter.Backend()] = e
	}
	if _, ok := r.entries[BackendMock]; !ok {
		r.entries[BackendMock] = Entry{Adapter: NewMock(0), Timeout: DefaultTimeout, DefaultModel: MockModel}
	}
	return r
}

// Lookup returns the entry for tag.
func (r *Registry) Lookup(tag string) (Entry, error) {
	e, ok := r.entries[Backend(tag)]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownBackend, tag)
	}
	return e, nil
}

// Mock returns the fallback entry.
func (r *Registry) Mock() Entry {
	return r.entries[BackendMock]
}

// Backends returns the registered tags in sorted order.
func (r *Registry) Backends() []string {
	tags := make([]string, 0, len(r.entries))
	for b := range r.entries {
		tags = append(tags, string(b))
	}
	sort.Strings(tags)
	return tags
}
