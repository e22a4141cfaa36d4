// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

import (
	"time"

	"github.com/rs/zerolog"
)

// Direction of traced bytes
type Direction int

const (
	Tx Direction = iota
	Rx
)

func (d Direction) String() string {
	if d == Tx {
		return "TX"
	}
	return "RX"
}

// TraceFunc receives every chunk written to or read from the port
type TraceFunc func(dir Direction, data []byte)

type sessionConfig struct {
	stepTimeout     time.Duration
	exchangeTimeout time.Duration
	closePoll       time.Duration
	closeAttempts   int
	logger          zerolog.Logger
	trace           TraceFunc
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		stepTimeout:     DefaultStepTimeout,
		exchangeTimeout: DefaultExchangeTimeout,
		closePoll:       DefaultClosePoll,
		closeAttempts:   DefaultCloseAttempts,
		logger:          zerolog.Nop(),
	}
}

// Option configures a Session
type Option func(*sessionConfig)

// WithStepTimeout sets how long to wait for each DLE acknowledgment.
// Default is 550ms.
func WithStepTimeout(timeout time.Duration) Option {
	return func(c *sessionConfig) {
		if timeout > 0 {
			c.stepTimeout = timeout
		}
	}
}

// WithExchangeTimeout bounds a whole request/response exchange.
// Default is 5s.
func WithExchangeTimeout(timeout time.Duration) Option {
	return func(c *sessionConfig) {
		if timeout > 0 {
			c.exchangeTimeout = timeout
		}
	}
}

// WithCloseWait sets how Close waits for an in-flight exchange: it polls
// every interval, at most attempts times, before closing anyway.
func WithCloseWait(interval time.Duration, attempts int) Option {
	return func(c *sessionConfig) {
		if interval > 0 {
			c.closePoll = interval
		}
		if attempts >= 0 {
			c.closeAttempts = attempts
		}
	}
}

// WithLogger sets the logger used for state transitions and errors
func WithLogger(logger zerolog.Logger) Option {
	return func(c *sessionConfig) {
		c.logger = logger
	}
}

// WithTrace installs a raw byte tracer
func WithTrace(trace TraceFunc) Option {
	return func(c *sessionConfig) {
		c.trace = trace
	}
}
