// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/config"
)

// DefaultReconnectDelay is added to the request interval between reconnect
// attempts.
const DefaultReconnectDelay = 3 * time.Second

// Opener opens the byte stream to the machine
type Opener func(settings config.Settings) (arburg.Port, error)

// Option configures a Driver
type Option func(*Driver)

// WithOpener replaces the serial port opener
func WithOpener(open Opener) Option {
	return func(d *Driver) {
		d.opener = open
	}
}

// WithAlerts sets the alert registry. The driver preloads its definitions.
func WithAlerts(r *alert.Registry) Option {
	return func(d *Driver) {
		d.alerts = r
	}
}

// WithConnectionStatus installs the persisted connection flag setter
func WithConnectionStatus(fn func(connected bool)) Option {
	return func(d *Driver) {
		d.setConnectionStatus = fn
	}
}

// WithLogger sets the driver logger
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.log = logger
	}
}

// WithSessionOptions passes options to every transport session
func WithSessionOptions(opts ...arburg.Option) Option {
	return func(d *Driver) {
		d.sessionOpts = append(d.sessionOpts, opts...)
	}
}

// WithReconnectDelay changes the delay added to the request interval
// between reconnect attempts.
func WithReconnectDelay(delay time.Duration) Option {
	return func(d *Driver) {
		if delay >= 0 {
			d.reconnectDelay = delay
		}
	}
}
