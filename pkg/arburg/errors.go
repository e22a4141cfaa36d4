// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

import (
	"errors"
	"fmt"
)

// Transport errors. Every one of them ends the current exchange and returns
// the session to StateIdle.
var (
	ErrBusy               = errors.New("busy, cannot send new request")
	ErrTooLarge           = errors.New("message too large to send")
	ErrTimeout            = errors.New("transport timeout")
	ErrChecksumMismatch   = errors.New("BCC checksum mismatch")
	ErrUnexpectedFollowOn = errors.New("unexpected follow-on telegram received")
	ErrInvalidHeader      = errors.New("telegram header invalid")
	ErrTooMuchData        = errors.New("too much data received from machine")
	ErrFraming            = errors.New("framing error")
	ErrClosed             = errors.New("transport closed")
)

// FramingError reports a byte that does not fit the current protocol state
type FramingError struct {
	State   State
	Got     byte
	Message string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("%s (state %s, got 0x%02X)", e.Message, e.State, e.Got)
}

// Unwrap lets errors.Is match ErrFraming
func (e *FramingError) Unwrap() error {
	return ErrFraming
}

func framingError(state State, got byte, message string) error {
	return &FramingError{State: state, Got: got, Message: message}
}
