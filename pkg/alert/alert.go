// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package alert keeps the set of active alerts for a machine. Raising an
// active alert or clearing an inactive one is a no-op, so callers can report
// the outcome of every poll without tracking state themselves.
package alert

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Details carries the values interpolated into an alert description
type Details struct {
	ErrorMsg  string
	ErrorCode int
	Received  int
	Expected  int
}

// Definition describes an alert known in advance by its key
type Definition struct {
	Message     string
	Description func(d Details) string
}

// Static returns a description that ignores the details
func Static(text string) func(Details) string {
	return func(Details) string { return text }
}

// Alert is one active alert
type Alert struct {
	Key         string    `json:"key"`
	Message     string    `json:"msg"`
	Description string    `json:"description"`
	Raised      time.Time `json:"raised"`
}

// ChangeFunc is called after an alert is raised or cleared
type ChangeFunc func(a Alert, active bool)

// Option configures a Registry
type Option func(*Registry)

// WithLogger logs every raise and clear
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = logger
	}
}

// WithOnChange installs a change hook
func WithOnChange(fn ChangeFunc) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// Registry holds alert definitions and the active set
type Registry struct {
	mu       sync.Mutex
	defs     map[string]Definition
	active   map[string]Alert
	onChange ChangeFunc
	log      zerolog.Logger
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		defs:   make(map[string]Definition),
		active: make(map[string]Alert),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Preload registers definitions for known keys
func (r *Registry) Preload(defs map[string]Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, def := range defs {
		r.defs[key] = def
	}
}

// Raise activates a preloaded alert. Unknown keys are raised with the key as
// message. It reports whether the active set changed.
func (r *Registry) Raise(key string, d Details) bool {
	r.mu.Lock()
	def, ok := r.defs[key]
	r.mu.Unlock()

	msg, desc := key, ""
	if ok {
		msg = def.Message
		if def.Description != nil {
			desc = def.Description(d)
		}
	}
	return r.RaiseCustom(key, msg, desc)
}

// RaiseCustom activates an alert with an explicit message and description
func (r *Registry) RaiseCustom(key, msg, description string) bool {
	r.mu.Lock()
	if cur, ok := r.active[key]; ok && cur.Message == msg && cur.Description == description {
		r.mu.Unlock()
		return false
	}
	a := Alert{Key: key, Message: msg, Description: description, Raised: time.Now()}
	r.active[key] = a
	hook := r.onChange
	r.mu.Unlock()

	r.log.Warn().Str("key", key).Str("description", description).Msg(msg)
	if hook != nil {
		hook(a, true)
	}
	return true
}

// Clear deactivates an alert. It reports whether the alert was active.
func (r *Registry) Clear(key string) bool {
	r.mu.Lock()
	a, ok := r.active[key]
	if ok {
		delete(r.active, key)
	}
	hook := r.onChange
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.log.Info().Str("key", key).Msg("alert cleared")
	if hook != nil {
		hook(a, false)
	}
	return true
}

// ClearAll deactivates every alert
func (r *Registry) ClearAll() {
	for _, a := range r.Active() {
		r.Clear(a.Key)
	}
}

// IsRaised reports whether key is active
func (r *Registry) IsRaised(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[key]
	return ok
}

// Active returns the active alerts sorted by key
func (r *Registry) Active() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	alerts := make([]Alert, 0, len(r.active))
	for _, a := range r.active {
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Key < alerts[j].Key
	})
	return alerts
}
