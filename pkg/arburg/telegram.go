// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

import (
	"encoding/binary"
	"fmt"
)

// TelegramKind identifies the header variant of a received telegram
type TelegramKind int

const (
	TelegramInvalid TelegramKind = iota
	TelegramStandard
	TelegramFollowOn
)

func (k TelegramKind) String() string {
	switch k {
	case TelegramStandard:
		return "standard"
	case TelegramFollowOn:
		return "follow-on"
	default:
		return "invalid"
	}
}

// HeaderSize returns the header length of this telegram kind
func (k TelegramKind) HeaderSize() int {
	switch k {
	case TelegramStandard:
		return StandardHeaderSize
	case TelegramFollowOn:
		return FollowOnHeaderSize
	default:
		return 0
	}
}

// ClassifyTelegram inspects the first two header bytes
func ClassifyTelegram(telegram []byte) TelegramKind {
	if len(telegram) < 2 {
		return TelegramInvalid
	}
	switch {
	case telegram[0] == 0x00 && telegram[1] == 0x00:
		return TelegramStandard
	case telegram[0] == 0xFF && telegram[1] == 0x00:
		return TelegramFollowOn
	default:
		return TelegramInvalid
	}
}

// EncodeTelegram wraps an application payload in a standard telegram ready
// for transmission. The word count field is the payload length in 16-bit words.
func EncodeTelegram(payload []byte) ([]byte, error) {
	if len(payload) > MaxAppPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(payload), MaxAppPayloadSize)
	}
	return EncodeStandardTelegram(payload, uint16(len(payload)/2)), nil
}

// EncodeStandardTelegram builds a standard telegram announcing words 16-bit
// words of application data, of which payload is the first part.
func EncodeStandardTelegram(payload []byte, words uint16) []byte {
	header := standardTelegramHeader
	binary.BigEndian.PutUint16(header[WordCountOffset:], words)
	return frameTelegram(header[:], payload)
}

// EncodeFollowOnTelegram builds a follow-on telegram carrying the next part
// of an application message.
func EncodeFollowOnTelegram(payload []byte) []byte {
	return frameTelegram([]byte{0xFF, 0x00, 0x00, 0x00}, payload)
}

func frameTelegram(header, payload []byte) []byte {
	stuffed := Stuff(payload)

	telegram := make([]byte, 0, len(header)+len(stuffed)+FooterSize)
	telegram = append(telegram, header...)
	telegram = append(telegram, stuffed...)
	telegram = append(telegram, DLE, ETX)
	telegram = append(telegram, CalculateBCC(telegram, len(telegram)))

	return telegram
}

// HasTelegramFooter reports whether buf ends with [not-DLE, DLE, ETX, BCC].
// The leading not-DLE guard keeps a stuffed DLE DLE ETX from being taken for
// the end of the telegram.
func HasTelegramFooter(buf []byte) bool {
	n := len(buf)
	if n < 4 {
		return false
	}
	return buf[n-4] != DLE && buf[n-3] == DLE && buf[n-2] == ETX
}
