// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"fmt"
	"strings"

	"go.bug.st/serial"

	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/config"
)

// ParseParity maps a settings parity name to the serial library's value
func ParseParity(name string) (serial.Parity, error) {
	switch strings.ToLower(name) {
	case "", "even":
		return serial.EvenParity, nil
	case "none":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "mark":
		return serial.MarkParity, nil
	case "space":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("unknown parity %q", name)
	}
}

// SerialOpener opens the serial device named in the settings
func SerialOpener(settings config.Settings) (arburg.Port, error) {
	parity, err := ParseParity(settings.Parity)
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: settings.BaudRate,
		DataBits: 8,
		Parity:   parity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(settings.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", settings.Device, err)
	}
	return port, nil
}
