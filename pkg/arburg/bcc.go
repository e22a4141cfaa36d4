// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

// CalculateBCC computes the block check character (running XOR) over the
// first length bytes of data. length is clamped to the data size.
func CalculateBCC(data []byte, length int) byte {
	if length > len(data) {
		length = len(data)
	}
	var bcc byte
	for i := 0; i < length; i++ {
		bcc ^= data[i]
	}
	return bcc
}
