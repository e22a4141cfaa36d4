// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package arburg implements the Arburg serial telegram protocol used to poll
// injection-molding machines for their status.
//
// The data-link layer is a half-duplex DLE/STX/ETX handshake with DLE byte
// stuffing and an XOR block check character. Application messages larger than
// one telegram are split into a standard telegram followed by one or more
// follow-on telegrams. On top of that sits the machine status message: a fixed
// header, an 18 byte offset table and optional sub-blocks (base status,
// cylinder process data, automation components, alarm text).
package arburg

import "time"

// Transport control bytes
const (
	STX = 0x02
	ETX = 0x03
	DLE = 0x10
)

// Telegram layout
const (
	MaxAppPayloadSize = 256 // largest application message we send

	StandardHeaderSize = 10
	FollowOnHeaderSize = 4
	FooterSize         = 3 // DLE ETX BCC
	WordCountOffset    = 6

	// Worst case stuffed telegram: every payload byte doubled.
	maxTelegramSize = MaxAppPayloadSize*2 + StandardHeaderSize + FooterSize
)

var (
	// standardTelegramHeader is the header of every request telegram; the
	// word count is written at WordCountOffset.
	standardTelegramHeader = [StandardHeaderSize]byte{0x00, 0x00, 0x41, 0x44, 0x64, 0x01, 0x00, 0x00, 0xFF, 0xFF}

	// ReactionTelegram acknowledges a standard telegram.
	ReactionTelegram = [7]byte{0x00, 0x00, 0x00, 0x00, DLE, ETX, 0x13}

	// FollowOnReactionTelegram acknowledges a follow-on telegram.
	FollowOnReactionTelegram = [7]byte{0xFF, 0x00, 0x00, 0x00, DLE, ETX, 0xEC}
)

// Transport timing
const (
	DefaultStepTimeout     = 550 * time.Millisecond
	DefaultExchangeTimeout = 5000 * time.Millisecond
	DefaultClosePoll       = 100 * time.Millisecond
	DefaultCloseAttempts   = 20
)

// Status request
var statusRequestTemplate = [8]byte{0x1F, 0x82, 0x00, 0x00, 0x20, 0x01, 0x29, 0x01}

// Status response fixed header (offsets from the application message start,
// big-endian)
const (
	StatusHeaderSize        = 12
	TransactionOffset       = 2
	ProceduralControlOffset = 4
	ActionCommandOffset     = 6
	DSDIOffset              = 8
	DIErrorOffset           = 9
	ResponseSizeOffset      = 10

	FRSProceduralControl = 0x2003
	StatusActionCommand  = 0x2901
	DIHeaderValue        = 0x27
	DSHeaderValue        = 0x0582
)

// Status sub-header (offsets relative to the sub-header start, little-endian)
const (
	SubHeaderOffset = 12
	SubHeaderSize   = 18

	BaseStatusOffsetField     = 2
	StringEncodingField       = 4
	CylinderInfoField         = 6
	CylinderStatusOffsetField = 8
	AutomationInfoField       = 10
	AutomationStatusField     = 12
	AlarmLengthField          = 14
	AlarmOffsetField          = 16
)

// Sub-block sizes
const (
	BaseStatusSize     = 160
	CylinderDataSize   = 60
	AutomationDataSize = 22
)
