package arburg

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Byte stuffing
// ============================================================

func TestStuff(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []byte
	}{
		{"empty", []byte{}, []byte{}},
		{"no DLE", []byte{0x01, 0x02, 0x03}, []byte{0x01, 0x02, 0x03}},
		{"single DLE", []byte{0x10}, []byte{0x10, 0x10}},
		{"DLE in middle", []byte{0x01, 0x10, 0x02}, []byte{0x01, 0x10, 0x10, 0x02}},
		{"consecutive DLE", []byte{0x10, 0x10}, []byte{0x10, 0x10, 0x10, 0x10}},
		{"trailing DLE", []byte{0xAA, 0x10}, []byte{0xAA, 0x10, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Stuff(tt.input)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Stuff(% X) = % X, want % X", tt.input, got, tt.expected)
			}
		})
	}
}

func TestUnstuff(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []byte
	}{
		{"empty", []byte{}, []byte{}},
		{"no DLE", []byte{0x01, 0x02}, []byte{0x01, 0x02}},
		{"pair", []byte{0x10, 0x10}, []byte{0x10}},
		{"two pairs", []byte{0x10, 0x10, 0x10, 0x10}, []byte{0x10, 0x10}},
		{"odd run", []byte{0x10, 0x10, 0x10}, []byte{0x10, 0x10}},
		{"lone DLE kept", []byte{0x01, 0x10, 0x02}, []byte{0x01, 0x10, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Unstuff(tt.input)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Unstuff(% X) = % X, want % X", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStuffUnstuff_AllBytes(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	payload = append(payload, 0x10, 0x10, 0x10)

	stuffed := Stuff(payload)
	if want := len(payload) + bytes.Count(payload, []byte{0x10}); len(stuffed) != want {
		t.Errorf("stuffed length = %d, want %d", len(stuffed), want)
	}
	if got := Unstuff(stuffed); !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch:\n got % X\nwant % X", got, payload)
	}
}

// ============================================================
// BCC
// ============================================================

func TestCalculateBCC(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		length   int
		expected byte
	}{
		{"empty", nil, 0, 0x00},
		{"reaction telegram", ReactionTelegram[:], 6, 0x13},
		{"follow-on reaction telegram", FollowOnReactionTelegram[:], 6, 0xEC},
		{"length clamped", []byte{0x01, 0x02}, 10, 0x03},
		{"negative length", []byte{0x01, 0x02}, -1, 0x00},
		{"partial", []byte{0xF0, 0x0F, 0xFF}, 2, 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateBCC(tt.data, tt.length); got != tt.expected {
				t.Errorf("CalculateBCC() = 0x%02X, want 0x%02X", got, tt.expected)
			}
		})
	}
}

// ============================================================
// Telegram framing
// ============================================================

func TestEncodeTelegram(t *testing.T) {
	payload := []byte{0x1F, 0x82, 0x00, 0x10, 0x20, 0x01, 0x29, 0x01}

	telegram, err := EncodeTelegram(payload)
	if err != nil {
		t.Fatalf("EncodeTelegram() error = %v", err)
	}

	header := []byte{0x00, 0x00, 0x41, 0x44, 0x64, 0x01, 0x00, 0x04, 0xFF, 0xFF}
	if !bytes.Equal(telegram[:StandardHeaderSize], header) {
		t.Errorf("header = % X, want % X", telegram[:StandardHeaderSize], header)
	}

	// 0x10 in the transaction number is stuffed
	body := telegram[StandardHeaderSize : len(telegram)-FooterSize]
	if !bytes.Equal(body, Stuff(payload)) {
		t.Errorf("body = % X, want % X", body, Stuff(payload))
	}

	n := len(telegram)
	if telegram[n-3] != DLE || telegram[n-2] != ETX {
		t.Errorf("footer = % X, want 10 03 xx", telegram[n-3:])
	}

	var bcc byte
	for _, b := range telegram[:n-1] {
		bcc ^= b
	}
	if telegram[n-1] != bcc {
		t.Errorf("BCC = 0x%02X, want 0x%02X", telegram[n-1], bcc)
	}

	if !HasTelegramFooter(telegram) {
		t.Error("HasTelegramFooter() = false for an encoded telegram")
	}
	if ClassifyTelegram(telegram) != TelegramStandard {
		t.Errorf("ClassifyTelegram() = %s, want standard", ClassifyTelegram(telegram))
	}
}

func TestEncodeTelegram_TooLarge(t *testing.T) {
	if _, err := EncodeTelegram(make([]byte, MaxAppPayloadSize)); err != nil {
		t.Errorf("EncodeTelegram(256 bytes) error = %v", err)
	}

	_, err := EncodeTelegram(make([]byte, MaxAppPayloadSize+1))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("EncodeTelegram(257 bytes) error = %v, want ErrTooLarge", err)
	}
}

func TestEncodeFollowOnTelegram(t *testing.T) {
	telegram := EncodeFollowOnTelegram([]byte{0x01, 0x02})
	expected := []byte{0xFF, 0x00, 0x00, 0x00, 0x01, 0x02, DLE, ETX}
	expected = append(expected, CalculateBCC(expected, len(expected)))

	if !bytes.Equal(telegram, expected) {
		t.Errorf("EncodeFollowOnTelegram() = % X, want % X", telegram, expected)
	}
	if ClassifyTelegram(telegram) != TelegramFollowOn {
		t.Errorf("ClassifyTelegram() = %s, want follow-on", ClassifyTelegram(telegram))
	}
}

func TestClassifyTelegram(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected TelegramKind
	}{
		{"standard", []byte{0x00, 0x00, 0x41}, TelegramStandard},
		{"follow-on", []byte{0xFF, 0x00, 0x00}, TelegramFollowOn},
		{"bad second byte", []byte{0xFF, 0x01}, TelegramInvalid},
		{"other", []byte{0x12, 0x00}, TelegramInvalid},
		{"too short", []byte{0x00}, TelegramInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyTelegram(tt.data); got != tt.expected {
				t.Errorf("ClassifyTelegram() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestHasTelegramFooter(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"complete", []byte{0x00, 0x01, DLE, ETX, 0x12}, true},
		{"too short", []byte{DLE, ETX, 0x12}, false},
		{"no footer yet", []byte{0x00, 0x01, DLE}, false},
		{"stuffed DLE before ETX", []byte{0x01, DLE, DLE, ETX, 0x12}, false},
		{"ETX without DLE", []byte{0x00, 0x01, ETX, 0x12}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasTelegramFooter(tt.data); got != tt.expected {
				t.Errorf("HasTelegramFooter(% X) = %v, want %v", tt.data, got, tt.expected)
			}
		})
	}
}

// ============================================================
// Requests
// ============================================================

func TestNewStatusRequest(t *testing.T) {
	got := NewStatusRequest(0x1234)
	expected := []byte{0x1F, 0x82, 0x12, 0x34, 0x20, 0x01, 0x29, 0x01}
	if !bytes.Equal(got, expected) {
		t.Errorf("NewStatusRequest() = % X, want % X", got, expected)
	}

	// The template itself must not change
	if again := NewStatusRequest(0); again[2] != 0 || again[3] != 0 {
		t.Errorf("NewStatusRequest(0) = % X", again)
	}
}

func TestNextTransaction(t *testing.T) {
	tests := []struct {
		in, out uint16
	}{
		{0, 1},
		{1, 2},
		{65534, 65535},
		{65535, 0},
	}
	for _, tt := range tests {
		if got := NextTransaction(tt.in); got != tt.out {
			t.Errorf("NextTransaction(%d) = %d, want %d", tt.in, got, tt.out)
		}
	}
}
