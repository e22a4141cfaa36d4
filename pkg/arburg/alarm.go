// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

// CleanAlarm strips control characters from single-byte alarm text. Leading
// bytes below 0x20 are dropped and later ones become '-'.
func CleanAlarm(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, c := range raw {
		if c < 0x20 {
			if len(out) > 0 {
				out = append(out, '-')
			}
			continue
		}
		out = append(out, c)
	}
	return out
}
