package datastore

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/config"
)

func variable(name string) config.Variable {
	return config.Variable{Variable: arburg.Variable{Name: name}}
}

func TestStore_DeliverAndSnapshot(t *testing.T) {
	s := New("press-1", zerolog.Nop())
	fixed := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Deliver(variable("shots"), uint32(10)))
	require.NoError(t, s.Deliver(variable("alarm"), "none"))
	require.NoError(t, s.Deliver(variable("shots"), uint32(11)))
	s.SetConnected(true)

	snap := s.Snapshot()
	assert.Equal(t, "press-1", snap.Machine)
	assert.True(t, snap.Connected)
	require.Len(t, snap.Values, 2)
	assert.Equal(t, "shots", snap.Values[0].Variable)
	assert.Equal(t, uint32(11), snap.Values[0].Value)
	assert.Equal(t, "alarm", snap.Values[1].Variable)
	assert.Equal(t, fixed, snap.Updated)

	sample, ok := s.Value("alarm")
	require.True(t, ok)
	assert.Equal(t, "none", sample.Value)

	_, ok = s.Value("missing")
	assert.False(t, ok)
}

func TestStore_Subscribe(t *testing.T) {
	s := New("press-1", zerolog.Nop())
	frames, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Deliver(variable("shots"), uint32(7)))
	s.SetConnected(true)
	s.SetConnected(true) // unchanged, not published
	s.PublishAlert(alert.Alert{Key: "request-error", Message: "Arburg: Error Sending Request"}, true)

	frameType, payload, err := DecodeFrame(<-frames)
	require.NoError(t, err)
	assert.Equal(t, FrameSample, frameType)
	assert.Equal(t, "press-1", payload[KeyMachine])
	assert.Equal(t, "shots", payload[KeyVariable])
	assert.Equal(t, uint64(7), payload[KeyValue])

	frameType, payload, err = DecodeFrame(<-frames)
	require.NoError(t, err)
	assert.Equal(t, FrameConnection, frameType)
	assert.Equal(t, true, payload[KeyConnected])

	frameType, payload, err = DecodeFrame(<-frames)
	require.NoError(t, err)
	assert.Equal(t, FrameAlert, frameType)
	assert.Equal(t, "request-error", payload[KeyAlertKey])
	assert.Equal(t, true, payload[KeyActive])

	select {
	case frame := <-frames:
		t.Fatalf("unexpected frame % X", frame)
	default:
	}
}

func TestStore_Close(t *testing.T) {
	s := New("press-1", zerolog.Nop())
	frames, cancel := s.Subscribe()

	s.Close()
	_, open := <-frames
	assert.False(t, open)
	cancel() // safe after close

	assert.ErrorIs(t, s.Deliver(variable("shots"), 1), ErrClosed)
}

func TestDecodeFrame_Errors(t *testing.T) {
	_, _, err := DecodeFrame(nil)
	assert.Error(t, err)

	_, _, err = DecodeFrame([]byte{0x80}) // empty array
	assert.Error(t, err)
}
