// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

import "encoding/binary"

// NewStatusRequest builds the 8 byte "machine status" application request
// carrying the given transaction number.
func NewStatusRequest(txn uint16) []byte {
	msg := statusRequestTemplate
	binary.BigEndian.PutUint16(msg[TransactionOffset:], txn)
	return msg[:]
}

// NextTransaction advances a transaction number, wrapping 65535 to 0
func NextTransaction(txn uint16) uint16 {
	if txn == 0xFFFF {
		return 0
	}
	return txn + 1
}
