// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

// Stuff doubles every DLE in the payload so it cannot be mistaken for a
// control sequence on the wire.
func Stuff(payload []byte) []byte {
	result := make([]byte, 0, len(payload)+countDLE(payload))
	for _, b := range payload {
		result = append(result, b)
		if b == DLE {
			result = append(result, DLE)
		}
	}
	return result
}

// Unstuff collapses every DLE DLE pair back to a single DLE. Pairs are matched
// left to right without overlap; a lone DLE is kept as is.
func Unstuff(data []byte) []byte {
	result := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		b := data[i]
		result = append(result, b)
		if b == DLE && i+1 < len(data) && data[i+1] == DLE {
			i++
		}
	}
	return result
}

func countDLE(data []byte) int {
	n := 0
	for _, b := range data {
		if b == DLE {
			n++
		}
	}
	return n
}
