// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package datastore

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Frame types published to subscribers. Each frame is a CBOR array
// [frame_type, payload_map] with integer map keys.
const (
	FrameSample     uint8 = 0x01
	FrameConnection uint8 = 0x02
	FrameAlert      uint8 = 0x03
)

// Payload keys
const (
	KeyMachine   = 0
	KeyVariable  = 1
	KeyValue     = 2
	KeyTimestamp = 3
	KeyConnected = 4
	KeyAlertKey  = 5
	KeyMessage   = 6
	KeyActive    = 7
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: %v", err))
	}
}

func encodeFrame(frameType uint8, payload map[int]any) ([]byte, error) {
	return encMode.Marshal([]any{frameType, payload})
}

// EncodeSample encodes one variable value
func EncodeSample(s Sample) ([]byte, error) {
	return encodeFrame(FrameSample, map[int]any{
		KeyMachine:   s.Machine,
		KeyVariable:  s.Variable,
		KeyValue:     s.Value,
		KeyTimestamp: s.Time.UnixMilli(),
	})
}

// EncodeConnection encodes a connection state change
func EncodeConnection(machine string, connected bool, at time.Time) ([]byte, error) {
	return encodeFrame(FrameConnection, map[int]any{
		KeyMachine:   machine,
		KeyConnected: connected,
		KeyTimestamp: at.UnixMilli(),
	})
}

// EncodeAlert encodes an alert raise or clear
func EncodeAlert(machine, key, message string, active bool, at time.Time) ([]byte, error) {
	return encodeFrame(FrameAlert, map[int]any{
		KeyMachine:   machine,
		KeyAlertKey:  key,
		KeyMessage:   message,
		KeyActive:    active,
		KeyTimestamp: at.UnixMilli(),
	})
}

// DecodeFrame parses a frame: [frame_type, payload_map]
func DecodeFrame(data []byte) (frameType uint8, payload map[int]any, err error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR frame")
	}

	var msg []any
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	t, ok := msg[0].(uint64)
	if !ok || t > 255 {
		return 0, nil, fmt.Errorf("invalid frame type %v", msg[0])
	}

	m, ok := msg[1].(map[any]any)
	if !ok {
		return 0, nil, fmt.Errorf("expected map payload, got %T", msg[1])
	}

	payload = make(map[int]any, len(m))
	for key, val := range m {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return uint8(t), payload, nil
}
