// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding"
)

// HexDump formats bytes 16 per line, each line indented by prefix
func HexDump(prefix string, data []byte) string {
	if len(data) == 0 {
		return prefix + "(empty)\n"
	}

	var sb strings.Builder
	for i, b := range data {
		if i%16 == 0 {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(prefix)
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}
	sb.WriteString("\n")
	return sb.String()
}

// FormatTrace formats one chunk of raw port traffic
func FormatTrace(at time.Time, dir Direction, data []byte) string {
	return fmt.Sprintf("[%s] %s %s", at.Format("15:04:05.000"), dir, strings.TrimSpace(HexDump("", data)))
}

// FormatStatus formats the block layout of a decoded status
func FormatStatus(s *Status, wide encoding.Encoding) string {
	if s == nil {
		return "  (no status)\n"
	}

	blockLine := func(name string, block []byte) string {
		if block == nil {
			return fmt.Sprintf("  %-26s absent\n", name+":")
		}
		return fmt.Sprintf("  %-26s %d bytes\n", name+":", len(block))
	}

	result := fmt.Sprintf("Status (transaction %d)\n", s.Transaction)
	result += blockLine(BlockBasicStatus.String(), s.BaseStatus)
	result += blockLine(BlockCylinder1.String(), s.Cylinder1)
	result += blockLine(BlockCylinder2.String(), s.Cylinder2)
	result += blockLine(BlockAutomation.String(), s.Automation)

	encodingName := "single-byte"
	if s.WideStrings {
		encodingName = "16-bit"
	}
	if s.AlarmLength == 0 {
		result += fmt.Sprintf("  %-26s none (%s)\n", "Alarm:", encodingName)
	} else {
		result += fmt.Sprintf("  %-26s %q (%s)\n", "Alarm:", s.AlarmText(wide), encodingName)
	}

	return result
}

// FormatValue renders an extracted variable value
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "-"
	case string:
		return fmt.Sprintf("%q", v)
	case float32:
		return fmt.Sprintf("%.3f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
