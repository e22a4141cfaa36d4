// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync"

	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/arburg/simulator"
)

// demoCell produces a status image that changes on every request, laid out
// like the variables in moldstat.example.yaml.
type demoCell struct {
	mu    sync.Mutex
	shots uint32
}

func (c *demoCell) image() simulator.StatusImage {
	c.mu.Lock()
	c.shots++
	shots := c.shots
	c.mu.Unlock()

	base := make([]byte, arburg.BaseStatusSize)
	copy(base[0:8], "470C-001")
	binary.LittleEndian.PutUint16(base[8:], 3) // automatic
	binary.LittleEndian.PutUint32(base[12:], shots)
	binary.LittleEndian.PutUint32(base[16:], math.Float32bits(24.5+rand.Float32()))

	cylinder := make([]byte, arburg.CylinderDataSize)
	binary.LittleEndian.PutUint32(cylinder[0:], math.Float32bits(850+40*rand.Float32()))

	automation := make([]byte, arburg.AutomationDataSize)
	automation[0] = 1

	img := simulator.StatusImage{
		BaseStatus: base,
		Cylinder1:  cylinder,
		Automation: automation,
	}
	if shots%20 == 0 {
		img.Alarm = []byte("\x01Material low")
	}
	return img
}

func (c *demoCell) respond(request []byte) []byte {
	if len(request) < arburg.TransactionOffset+2 {
		return nil
	}
	return c.image().Encode(binary.BigEndian.Uint16(request[arburg.TransactionOffset:]))
}

func newDemoMachine() *simulator.Machine {
	cell := &demoCell{}
	return simulator.New(
		simulator.WithHandler(cell.respond),
		simulator.WithLogger(logger.With().Str("component", "demo").Logger()),
	)
}
