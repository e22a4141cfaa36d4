// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/encoding"
)

// Format is the wire type of a status variable
type Format int

const (
	FormatChar Format = iota
	FormatBool
	FormatFloat
	FormatUint8
	FormatInt8
	FormatUint16
	FormatInt16
	FormatUint32
	FormatInt32
)

var formatNames = map[Format]string{
	FormatChar:   "char",
	FormatBool:   "bool",
	FormatFloat:  "float",
	FormatUint8:  "uint8",
	FormatInt8:   "int8",
	FormatUint16: "uint16",
	FormatInt16:  "int16",
	FormatUint32: "uint32",
	FormatInt32:  "int32",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Size returns the fixed width of numeric formats, 0 for char
func (f Format) Size() int {
	switch f {
	case FormatBool, FormatUint8, FormatInt8:
		return 1
	case FormatUint16, FormatInt16:
		return 2
	case FormatFloat, FormatUint32, FormatInt32:
		return 4
	default:
		return 0
	}
}

func (f Format) MarshalText() ([]byte, error) {
	name, ok := formatNames[f]
	if !ok {
		return nil, fmt.Errorf("unknown format %d", int(f))
	}
	return []byte(name), nil
}

func (f *Format) UnmarshalText(text []byte) error {
	for format, name := range formatNames {
		if name == string(text) {
			*f = format
			return nil
		}
	}
	return fmt.Errorf("unknown format %q", string(text))
}

// BlockLocation selects the status block a variable is read from
type BlockLocation int

const (
	BlockNone BlockLocation = iota
	BlockBasicStatus
	BlockCylinder1
	BlockCylinder2
	BlockAutomation
	BlockAlarmString
)

var blockNames = map[BlockLocation]string{
	BlockNone:        "",
	BlockBasicStatus: "Basic Status",
	BlockCylinder1:   "Process Data 1st Cylinder",
	BlockCylinder2:   "Process Data 2nd Cylinder",
	BlockAutomation:  "Automation Components",
	BlockAlarmString: "Alarm String",
}

func (b BlockLocation) String() string {
	if b == BlockNone {
		return "none"
	}
	if name, ok := blockNames[b]; ok {
		return name
	}
	return fmt.Sprintf("BlockLocation(%d)", int(b))
}

func (b BlockLocation) MarshalText() ([]byte, error) {
	name, ok := blockNames[b]
	if !ok {
		return nil, fmt.Errorf("unknown block location %d", int(b))
	}
	return []byte(name), nil
}

// UnmarshalText accepts the location names used in machine configurations.
// Unknown names map to BlockNone: such variables never produce a value.
func (b *BlockLocation) UnmarshalText(text []byte) error {
	for block, name := range blockNames {
		if name == string(text) {
			*b = block
			return nil
		}
	}
	*b = BlockNone
	return nil
}

// Variable describes where a value lives in the status response
type Variable struct {
	Name          string        `yaml:"name" json:"name"`
	Format        Format        `yaml:"format" json:"format"`
	BlockLocation BlockLocation `yaml:"blockLocation,omitempty" json:"blockLocation,omitempty"`
	ByteOffset    int           `yaml:"byteOffset" json:"byteOffset"`
	Length        int           `yaml:"length,omitempty" json:"length,omitempty"` // char width, default 1

	// AlarmStringNullReplacement is reported instead of an empty alarm string
	AlarmStringNullReplacement *string `yaml:"alarmStringNullReplacement,omitempty" json:"alarmStringNullReplacement,omitempty"`
}

// Extract reads one variable from a decoded status. It reports false when
// the block is absent or the read falls outside it.
func Extract(status *Status, v Variable, wide encoding.Encoding) (any, bool) {
	if status == nil {
		return nil, false
	}

	var block []byte
	switch v.BlockLocation {
	case BlockBasicStatus:
		block = status.BaseStatus
	case BlockCylinder1:
		block = status.Cylinder1
	case BlockCylinder2:
		block = status.Cylinder2
	case BlockAutomation:
		block = status.Automation
	case BlockAlarmString:
		text := status.AlarmText(wide)
		if text == "" && v.AlarmStringNullReplacement != nil {
			return *v.AlarmStringNullReplacement, true
		}
		return text, true
	default:
		return nil, false
	}

	if block == nil {
		return nil, false
	}
	return ReadValue(block, v.Format, v.ByteOffset, v.Length)
}

// ReadValue decodes a little-endian value of the given format at offset
func ReadValue(block []byte, format Format, offset, length int) (any, bool) {
	size := format.Size()
	if format == FormatChar {
		size = length
		if size <= 0 {
			size = 1
		}
	}
	if offset < 0 || size == 0 || offset+size > len(block) {
		return nil, false
	}
	b := block[offset : offset+size]

	switch format {
	case FormatChar:
		// Strings are right aligned and padded
		return strings.TrimFunc(asciiString(b), func(r rune) bool {
			return r == 0 || unicode.IsSpace(r)
		}), true
	case FormatBool:
		return b[0] != 0, true
	case FormatFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), true
	case FormatUint8:
		return b[0], true
	case FormatInt8:
		return int8(b[0]), true
	case FormatUint16:
		return binary.LittleEndian.Uint16(b), true
	case FormatInt16:
		return int16(binary.LittleEndian.Uint16(b)), true
	case FormatUint32:
		return binary.LittleEndian.Uint32(b), true
	case FormatInt32:
		return int32(binary.LittleEndian.Uint32(b)), true
	default:
		return nil, false
	}
}
