// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"encoding/binary"

	"github.com/Thermoquad/moldstat/pkg/arburg"
)

// StatusImage is the machine state served in status responses. Nil blocks
// are left out of the response, except BaseStatus which is always sent.
type StatusImage struct {
	BaseStatus []byte
	Cylinder1  []byte
	Cylinder2  []byte
	Automation []byte

	Alarm       []byte // raw alarm text as sent on the wire
	WideStrings bool
}

// Clone returns a deep copy
func (img StatusImage) Clone() StatusImage {
	dup := func(b []byte) []byte {
		if b == nil {
			return nil
		}
		return append([]byte(nil), b...)
	}
	return StatusImage{
		BaseStatus:  dup(img.BaseStatus),
		Cylinder1:   dup(img.Cylinder1),
		Cylinder2:   dup(img.Cylinder2),
		Automation:  dup(img.Automation),
		Alarm:       dup(img.Alarm),
		WideStrings: img.WideStrings,
	}
}

// Encode builds the status response for a request with the given transaction
// number. Blocks follow the sub-header in the order base, cylinders,
// automation, alarm; the message is padded to a whole number of words.
func (img StatusImage) Encode(txn uint16) []byte {
	const subStart = arburg.SubHeaderOffset

	msg := make([]byte, arburg.StatusHeaderSize+arburg.SubHeaderSize)
	msg[0], msg[1] = 0x1F, 0x82
	binary.BigEndian.PutUint16(msg[arburg.TransactionOffset:], txn)
	binary.BigEndian.PutUint16(msg[arburg.ProceduralControlOffset:], arburg.FRSProceduralControl)
	binary.BigEndian.PutUint16(msg[arburg.ActionCommandOffset:], arburg.StatusActionCommand)
	binary.BigEndian.PutUint16(msg[arburg.DSDIOffset:], arburg.DSHeaderValue)

	// Sub-header fields are written through msg, which grows as blocks are appended
	putField := func(field, value int) {
		binary.LittleEndian.PutUint16(msg[subStart+field:], uint16(value))
	}
	appendBlock := func(block []byte, size int) int {
		offset := len(msg) - subStart
		fixed := make([]byte, size)
		copy(fixed, block)
		msg = append(msg, fixed...)
		return offset
	}

	putField(arburg.BaseStatusOffsetField, appendBlock(img.BaseStatus, arburg.BaseStatusSize))
	if img.WideStrings {
		putField(arburg.StringEncodingField, 1)
	}

	cylinders := 0
	cylinderOffset := 0
	if img.Cylinder1 != nil {
		cylinders |= 0x01
		cylinderOffset = appendBlock(img.Cylinder1, arburg.CylinderDataSize)
	}
	if img.Cylinder2 != nil {
		cylinders |= 0x02
		offset := appendBlock(img.Cylinder2, arburg.CylinderDataSize)
		if img.Cylinder1 == nil {
			cylinderOffset = offset
		}
	}

	automationOffset := 0
	if img.Automation != nil {
		automationOffset = appendBlock(img.Automation, arburg.AutomationDataSize)
	}

	alarmOffset := 0
	if len(img.Alarm) > 0 {
		alarmOffset = appendBlock(img.Alarm, len(img.Alarm))
	}

	if len(msg)%2 != 0 {
		msg = append(msg, 0x00)
	}

	putField(arburg.CylinderInfoField, cylinders)
	putField(arburg.CylinderStatusOffsetField, cylinderOffset)
	if img.Automation != nil {
		putField(arburg.AutomationInfoField, 1)
		putField(arburg.AutomationStatusField, automationOffset)
	}
	putField(arburg.AlarmLengthField, len(img.Alarm))
	putField(arburg.AlarmOffsetField, alarmOffset)

	binary.BigEndian.PutUint16(msg[arburg.ResponseSizeOffset:], uint16(len(msg)-arburg.StatusHeaderSize))
	return msg
}
