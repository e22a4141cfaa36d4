package arburg

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

// statusBuilder assembles status responses for decoder tests
type statusBuilder struct {
	txn        uint16
	cylinders  int
	automation bool
	wide       bool
	alarm      []byte
}

func (b statusBuilder) build() []byte {
	msg := make([]byte, StatusHeaderSize+SubHeaderSize)
	msg[0], msg[1] = 0x1F, 0x82
	binary.BigEndian.PutUint16(msg[TransactionOffset:], b.txn)
	binary.BigEndian.PutUint16(msg[ProceduralControlOffset:], FRSProceduralControl)
	binary.BigEndian.PutUint16(msg[ActionCommandOffset:], StatusActionCommand)
	binary.BigEndian.PutUint16(msg[DSDIOffset:], DSHeaderValue)

	put := func(field, value int) {
		binary.LittleEndian.PutUint16(msg[SubHeaderOffset+field:], uint16(value))
	}
	appendBlock := func(fill byte, size int) int {
		offset := len(msg) - SubHeaderOffset
		for i := 0; i < size; i++ {
			msg = append(msg, fill)
		}
		return offset
	}

	put(BaseStatusOffsetField, appendBlock(0xB0, BaseStatusSize))
	if b.wide {
		put(StringEncodingField, 1)
	}

	if b.cylinders != 0 {
		offset := appendBlock(0xC1, CylinderDataSize)
		if b.cylinders == 3 {
			appendBlock(0xC2, CylinderDataSize)
		}
		put(CylinderInfoField, b.cylinders)
		put(CylinderStatusOffsetField, offset)
	}
	if b.automation {
		put(AutomationInfoField, 1)
		put(AutomationStatusField, appendBlock(0xA0, AutomationDataSize))
	}
	if len(b.alarm) > 0 {
		offset := len(msg) - SubHeaderOffset
		msg = append(msg, b.alarm...)
		put(AlarmLengthField, len(b.alarm))
		put(AlarmOffsetField, offset)
	}

	binary.BigEndian.PutUint16(msg[ResponseSizeOffset:], uint16(len(msg)-StatusHeaderSize))
	return msg
}

func TestDecodeStatus_Blocks(t *testing.T) {
	msg := statusBuilder{txn: 7, cylinders: 3, automation: true}.build()

	status, err := DecodeStatus(msg, 7)
	require.NoError(t, err)

	require.Len(t, status.BaseStatus, BaseStatusSize)
	require.Len(t, status.Cylinder1, CylinderDataSize)
	require.Len(t, status.Cylinder2, CylinderDataSize)
	require.Len(t, status.Automation, AutomationDataSize)
	assert.Equal(t, byte(0xB0), status.BaseStatus[0])
	assert.Equal(t, byte(0xC1), status.Cylinder1[CylinderDataSize-1])
	assert.Equal(t, byte(0xC2), status.Cylinder2[0])
	assert.Equal(t, byte(0xA0), status.Automation[0])
	assert.Zero(t, status.AlarmLength)
	assert.Empty(t, status.AlarmText(nil))
}

func TestDecodeStatus_CylinderMask(t *testing.T) {
	tests := []struct {
		name      string
		mask      int
		cylinder1 bool
		cylinder2 bool
	}{
		{"none", 0, false, false},
		{"first only", 1, true, false},
		{"second only", 2, false, true},
		{"both", 3, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := DecodeStatus(statusBuilder{txn: 1, cylinders: tt.mask}.build(), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.cylinder1, status.Cylinder1 != nil, "cylinder 1")
			assert.Equal(t, tt.cylinder2, status.Cylinder2 != nil, "cylinder 2")
			if tt.mask == 2 {
				// Only the second cylinder sits at the cylinder offset
				assert.Equal(t, byte(0xC1), status.Cylinder2[0])
			}
			assert.Nil(t, status.Automation)
		})
	}
}

func TestDecodeStatus_Checks(t *testing.T) {
	tests := []struct {
		name   string
		txn    uint16
		mutate func(msg []byte) []byte
		key    string
	}{
		{
			name:   "transaction mismatch",
			txn:    2,
			mutate: func(msg []byte) []byte { return msg },
			key:    KeyTransactionMismatch,
		},
		{
			name: "procedural control",
			txn:  1,
			mutate: func(msg []byte) []byte {
				msg[ProceduralControlOffset] = 0x21
				return msg
			},
			key: KeyProceduralControl,
		},
		{
			name: "action command",
			txn:  1,
			mutate: func(msg []byte) []byte {
				msg[ActionCommandOffset+1] = 0x02
				return msg
			},
			key: KeyActionCommand,
		},
		{
			name: "group header",
			txn:  1,
			mutate: func(msg []byte) []byte {
				msg[DSDIOffset] = 0x06
				return msg
			},
			key: KeyInvalidGroupHeader,
		},
		{
			name: "size",
			txn:  1,
			mutate: func(msg []byte) []byte {
				return append(msg, 0x00, 0x00)
			},
			key: KeyUnexpectedResponseSize,
		},
		{
			name: "truncated header",
			txn:  1,
			mutate: func(msg []byte) []byte {
				return msg[:6]
			},
			key: KeyUnexpectedResponseSize,
		},
		{
			name: "transaction checked first",
			txn:  9,
			mutate: func(msg []byte) []byte {
				msg[ProceduralControlOffset] = 0x00
				msg[DSDIOffset] = 0x00
				return msg
			},
			key: KeyTransactionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.mutate(statusBuilder{txn: 1}.build())

			status, err := DecodeStatus(msg, tt.txn)
			assert.Nil(t, status)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "error %v is not a ValidationError", err)
			assert.Equal(t, tt.key, verr.Key)
		})
	}
}

func TestDecodeStatus_SizeDetails(t *testing.T) {
	msg := append(statusBuilder{txn: 1}.build(), 0x00, 0x00)
	expected := int(binary.BigEndian.Uint16(msg[ResponseSizeOffset:]))

	_, err := DecodeStatus(msg, 1)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, expected, verr.Expected)
	assert.Equal(t, len(msg)-StatusHeaderSize, verr.Received)
	assert.Contains(t, err.Error(), "unexpected-response-size")
}

func TestDecodeStatus_DIErrorCode(t *testing.T) {
	msg := statusBuilder{txn: 3}.build()
	msg[DSDIOffset] = DIHeaderValue
	msg[DIErrorOffset] = 0x05

	_, err := DecodeStatus(msg, 3)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KeyResponseErrorCode, verr.Key)
	assert.Equal(t, byte(0x05), verr.ErrorCode)
}

func TestDecodeStatus_ClampsBlocks(t *testing.T) {
	msg := statusBuilder{txn: 1, cylinders: 1}.build()
	// Point the cylinder block at the last 10 bytes of the message
	offset := len(msg) - SubHeaderOffset - 10
	binary.LittleEndian.PutUint16(msg[SubHeaderOffset+CylinderStatusOffsetField:], uint16(offset))

	status, err := DecodeStatus(msg, 1)
	require.NoError(t, err)
	assert.Len(t, status.Cylinder1, 10)
}

func TestDecodeStatus_Alarm(t *testing.T) {
	raw := []byte{0x01, 0x02, 'H', 'e', 'l', 'l', 'o', 0x0A, 'W', 'o', 'r', 'l', 'd'}
	msg := statusBuilder{txn: 1, alarm: raw}.build()

	status, err := DecodeStatus(msg, 1)
	require.NoError(t, err)
	assert.Equal(t, len(raw), status.AlarmLength)
	assert.Equal(t, "Hello-World", status.AlarmText(nil))
}

func TestDecodeStatus_WideAlarm(t *testing.T) {
	wide := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	raw, err := wide.NewEncoder().Bytes([]byte("Düse"))
	require.NoError(t, err)

	msg := statusBuilder{txn: 1, wide: true, alarm: raw}.build()

	status, err := DecodeStatus(msg, 1)
	require.NoError(t, err)
	assert.True(t, status.WideStrings)
	// Wide text is not cleaned
	assert.Equal(t, raw, status.Alarm)
	assert.Equal(t, "Düse", status.AlarmText(wide))
}

func TestCleanAlarm(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		expected string
	}{
		{"example", []byte{0x01, 0x02, 'H', 'e', 'l', 'l', 'o', 0x0A, 'W', 'o', 'r', 'l', 'd'}, "Hello-World"},
		{"all control", []byte{0x00, 0x1F}, ""},
		{"plain", []byte("E123 Heater"), "E123 Heater"},
		{"trailing control", []byte{'A', 0x00, 0x00}, "A--"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(CleanAlarm(tt.raw)))
		})
	}
}
