// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding"
)

// Validation keys. They double as alert keys in the driver.
const (
	KeyTransactionMismatch    = "transaction-id-mismatch"
	KeyProceduralControl      = "procedure-control-field-incorrect"
	KeyActionCommand          = "action-command-field-incorrect"
	KeyResponseErrorCode      = "response-error-code"
	KeyInvalidGroupHeader     = "invalid-group-header"
	KeyUnexpectedResponseSize = "unexpected-response-size"
)

// ValidationKeys lists the status checks in the order they are applied
var ValidationKeys = []string{
	KeyTransactionMismatch,
	KeyProceduralControl,
	KeyActionCommand,
	KeyResponseErrorCode,
	KeyInvalidGroupHeader,
	KeyUnexpectedResponseSize,
}

// ValidationError reports the first status header check that failed
type ValidationError struct {
	Key       string
	ErrorCode byte // DI error code, KeyResponseErrorCode only
	Received  int  // KeyUnexpectedResponseSize only
	Expected  int  // KeyUnexpectedResponseSize only
}

func (e *ValidationError) Error() string {
	switch e.Key {
	case KeyResponseErrorCode:
		return fmt.Sprintf("%s: diagnostic error code %d", e.Key, e.ErrorCode)
	case KeyUnexpectedResponseSize:
		return fmt.Sprintf("%s: received %d bytes, expected %d bytes", e.Key, e.Received, e.Expected)
	default:
		return e.Key
	}
}

// Status is a decoded machine status response. Optional blocks the machine
// did not send are nil.
type Status struct {
	Transaction uint16

	BaseStatus []byte
	Cylinder1  []byte
	Cylinder2  []byte
	Automation []byte

	// WideStrings is set when the machine sends 16-bit alarm text
	WideStrings bool
	AlarmLength int
	Alarm       []byte // cleaned when single-byte
}

// DecodeStatus validates a status response against the transaction number of
// the request and splits it into its blocks. Checks short-circuit: only the
// first failing one is reported.
func DecodeStatus(msg []byte, txn uint16) (*Status, error) {
	if len(msg) < StatusHeaderSize {
		return nil, &ValidationError{
			Key:      KeyUnexpectedResponseSize,
			Received: len(msg),
			Expected: StatusHeaderSize + SubHeaderSize,
		}
	}

	if got := binary.BigEndian.Uint16(msg[TransactionOffset:]); got != txn {
		return nil, &ValidationError{Key: KeyTransactionMismatch}
	}
	if binary.BigEndian.Uint16(msg[ProceduralControlOffset:]) != FRSProceduralControl {
		return nil, &ValidationError{Key: KeyProceduralControl}
	}
	if binary.BigEndian.Uint16(msg[ActionCommandOffset:]) != StatusActionCommand {
		return nil, &ValidationError{Key: KeyActionCommand}
	}
	if msg[DSDIOffset] == DIHeaderValue {
		return nil, &ValidationError{Key: KeyResponseErrorCode, ErrorCode: msg[DIErrorOffset]}
	}
	if binary.BigEndian.Uint16(msg[DSDIOffset:]) != DSHeaderValue {
		return nil, &ValidationError{Key: KeyInvalidGroupHeader}
	}

	size := int(binary.BigEndian.Uint16(msg[ResponseSizeOffset:]))
	if received := len(msg) - StatusHeaderSize; size != received {
		return nil, &ValidationError{Key: KeyUnexpectedResponseSize, Received: received, Expected: size}
	}
	if len(msg) < SubHeaderOffset+SubHeaderSize {
		return nil, &ValidationError{
			Key:      KeyUnexpectedResponseSize,
			Received: size,
			Expected: SubHeaderSize,
		}
	}

	sub := msg[SubHeaderOffset : SubHeaderOffset+SubHeaderSize]
	field := func(offset int) int {
		return int(binary.LittleEndian.Uint16(sub[offset:]))
	}
	block := func(offset, size int) []byte {
		return clampSlice(msg, SubHeaderOffset+offset, size)
	}

	status := &Status{
		Transaction: txn,
		BaseStatus:  block(field(BaseStatusOffsetField), BaseStatusSize),
		WideStrings: field(StringEncodingField) != 0,
	}

	cylinders := field(CylinderInfoField)
	cylinderOffset := field(CylinderStatusOffsetField)
	switch {
	case cylinders&0x03 == 0x03:
		status.Cylinder1 = block(cylinderOffset, CylinderDataSize)
		status.Cylinder2 = block(cylinderOffset+CylinderDataSize, CylinderDataSize)
	case cylinders&0x01 != 0:
		status.Cylinder1 = block(cylinderOffset, CylinderDataSize)
	case cylinders&0x02 != 0:
		status.Cylinder2 = block(cylinderOffset, CylinderDataSize)
	}

	if field(AutomationInfoField) > 0 {
		status.Automation = block(field(AutomationStatusField), AutomationDataSize)
	}

	if n := field(AlarmLengthField); n > 0 {
		status.AlarmLength = n
		alarm := block(field(AlarmOffsetField), n)
		if !status.WideStrings {
			alarm = CleanAlarm(alarm)
		}
		status.Alarm = alarm
	}

	return status, nil
}

// AlarmText decodes the alarm bytes. Single-byte text is 7-bit ASCII; wide
// text goes through the given decoder.
func (s *Status) AlarmText(wide encoding.Encoding) string {
	if s.AlarmLength == 0 || len(s.Alarm) == 0 {
		return ""
	}
	if !s.WideStrings || wide == nil {
		return asciiString(s.Alarm)
	}
	text, err := wide.NewDecoder().Bytes(s.Alarm)
	if err != nil {
		return asciiString(s.Alarm)
	}
	return string(text)
}

// clampSlice returns buf[start:start+size] cut to the buffer bounds. It
// copies so that callers can keep blocks after the message is reused.
func clampSlice(buf []byte, start, size int) []byte {
	if start < 0 {
		start = 0
	}
	if start > len(buf) {
		start = len(buf)
	}
	end := start + size
	if end > len(buf) {
		end = len(buf)
	}
	out := make([]byte, end-start)
	copy(out, buf[start:end])
	return out
}

func asciiString(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c & 0x7F
	}
	return string(out)
}
