package arburg_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/arburg/simulator"
)

// ============================================================
// Helpers
// ============================================================

func testImage() simulator.StatusImage {
	base := make([]byte, arburg.BaseStatusSize)
	for i := range base {
		base[i] = byte(i)
	}
	return simulator.StatusImage{
		BaseStatus: base,
		Cylinder1:  make([]byte, arburg.CylinderDataSize),
		Automation: make([]byte, arburg.AutomationDataSize),
		Alarm:      []byte{0x01, 'O', 'K'},
	}
}

func request(t *testing.T, s *arburg.Session, payload []byte) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Request(ctx, payload)
}

// scriptedPeer answers each chunk the host writes with the next script entry.
// A nil entry reads a chunk without answering.
func scriptedPeer(script ...[]byte) *simulator.Port {
	host, device := simulator.Pipe()
	go func() {
		buf := make([]byte, 1024)
		for _, reply := range script {
			if _, err := device.Read(buf); err != nil {
				return
			}
			if reply != nil {
				if _, err := device.Write(reply); err != nil {
					return
				}
			}
		}
		for {
			if _, err := device.Read(buf); err != nil {
				return
			}
		}
	}()
	return host
}

// handshake is the machine side up to the point where it sends its response
// telegram.
func handshake() [][]byte {
	return [][]byte{
		{arburg.DLE},               // STX
		{arburg.DLE, arburg.STX},   // request telegram
		arburg.ReactionTelegram[:], // DLE
		{arburg.STX},               // DLE
	}
}

func script(parts ...[][]byte) [][]byte {
	var all [][]byte
	for _, p := range parts {
		all = append(all, p...)
	}
	return all
}

// ============================================================
// Full exchanges
// ============================================================

func TestSession_StatusExchange(t *testing.T) {
	tests := []struct {
		name    string
		options []simulator.Option
	}{
		{"single telegram", []simulator.Option{simulator.WithTelegramPayload(1024)}},
		{"follow-on telegrams", []simulator.Option{simulator.WithTelegramPayload(64)}},
		{"split acknowledgements", []simulator.Option{simulator.WithSplitAck(true), simulator.WithTelegramPayload(100)}},
		{"chunked telegrams", []simulator.Option{simulator.WithChunkSize(5), simulator.WithTelegramPayload(128)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := testImage()
			machine := simulator.New(append(tt.options, simulator.WithImage(img))...)
			session := arburg.NewSession(machine.Connect())
			defer session.Close()

			for txn := uint16(1); txn <= 3; txn++ {
				response, err := request(t, session, arburg.NewStatusRequest(txn))
				require.NoError(t, err)
				assert.Equal(t, img.Encode(txn), response)
				assert.Equal(t, arburg.StateIdle, session.State())

				status, err := arburg.DecodeStatus(response, txn)
				require.NoError(t, err)
				assert.Equal(t, img.BaseStatus, status.BaseStatus)
				assert.Equal(t, "OK", status.AlarmText(nil))
			}
			assert.Equal(t, 3, machine.Requests())
		})
	}
}

func TestSession_Trace(t *testing.T) {
	var tx, rx atomic.Int32
	machine := simulator.New(simulator.WithImage(testImage()), simulator.WithTelegramPayload(1024))
	session := arburg.NewSession(machine.Connect(), arburg.WithTrace(func(dir arburg.Direction, data []byte) {
		if dir == arburg.Tx {
			tx.Add(1)
		} else {
			rx.Add(1)
		}
	}))
	defer session.Close()

	_, err := request(t, session, arburg.NewStatusRequest(1))
	require.NoError(t, err)

	// STX, telegram, DLE, DLE, DLE, DLE STX, reaction
	assert.Equal(t, int32(7), tx.Load())
	assert.GreaterOrEqual(t, rx.Load(), int32(7))
}

// ============================================================
// Send preconditions
// ============================================================

func TestSession_Busy(t *testing.T) {
	machine := simulator.New()
	machine.SetMute(true)
	session := arburg.NewSession(machine.Connect(), arburg.WithExchangeTimeout(300*time.Millisecond))
	defer session.Close()

	done := make(chan error, 1)
	require.NoError(t, session.Send(arburg.NewStatusRequest(1), func(_ []byte, err error) {
		done <- err
	}))

	err := session.Send(arburg.NewStatusRequest(2), func([]byte, error) {
		t.Error("callback invoked for a rejected send")
	})
	assert.ErrorIs(t, err, arburg.ErrBusy)

	assert.ErrorIs(t, <-done, arburg.ErrTimeout)
}

func TestSession_TooLarge(t *testing.T) {
	session := arburg.NewSession(scriptedPeer())
	defer session.Close()

	err := session.Send(make([]byte, 257), func([]byte, error) {
		t.Error("callback invoked for a rejected send")
	})
	assert.ErrorIs(t, err, arburg.ErrTooLarge)
	assert.Equal(t, arburg.StateIdle, session.State())
}

// ============================================================
// Timeouts
// ============================================================

func TestSession_StepTimeoutFiresOnce(t *testing.T) {
	machine := simulator.New()
	machine.SetMute(true)
	session := arburg.NewSession(machine.Connect(),
		arburg.WithStepTimeout(50*time.Millisecond),
		arburg.WithExchangeTimeout(150*time.Millisecond))
	defer session.Close()

	var calls atomic.Int32
	done := make(chan error, 2)
	require.NoError(t, session.Send(arburg.NewStatusRequest(1), func(_ []byte, err error) {
		calls.Add(1)
		done <- err
	}))

	err := <-done
	assert.ErrorIs(t, err, arburg.ErrTimeout)
	assert.Equal(t, arburg.StateIdle, session.State())

	// Let the whole-exchange timer expire as well
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSession_RecoversAfterTimeout(t *testing.T) {
	img := testImage()
	machine := simulator.New(simulator.WithImage(img))
	machine.SetMute(true)
	session := arburg.NewSession(machine.Connect(), arburg.WithStepTimeout(50*time.Millisecond))
	defer session.Close()

	_, err := request(t, session, arburg.NewStatusRequest(1))
	require.ErrorIs(t, err, arburg.ErrTimeout)

	machine.SetMute(false)
	response, err := request(t, session, arburg.NewStatusRequest(2))
	require.NoError(t, err)
	assert.Equal(t, img.Encode(2), response)
}

// A response whose last payload byte is DLE ends in DLE DLE DLE ETX BCC. The
// footer check rejects it and the exchange runs into the timeout.
func TestSession_StuffedTailTimesOut(t *testing.T) {
	telegram := arburg.EncodeStandardTelegram([]byte{0x01, arburg.DLE}, 1)
	session := arburg.NewSession(
		scriptedPeer(script(handshake(), [][]byte{telegram})...),
		arburg.WithExchangeTimeout(200*time.Millisecond))
	defer session.Close()

	_, err := request(t, session, arburg.NewStatusRequest(1))
	assert.ErrorIs(t, err, arburg.ErrTimeout)
}

// ============================================================
// Protocol errors
// ============================================================

func TestSession_ProtocolErrors(t *testing.T) {
	badBCC := arburg.EncodeStandardTelegram([]byte{0x01, 0x02}, 1)
	badBCC[len(badBCC)-1] ^= 0x55

	invalidHeader := []byte{0x12, 0x34, 0x01, 0x02, arburg.DLE, arburg.ETX}
	invalidHeader = append(invalidHeader, arburg.CalculateBCC(invalidHeader, len(invalidHeader)))

	tests := []struct {
		name   string
		script [][]byte
		target error
		state  arburg.State
	}{
		{
			name:   "no DLE for STX",
			script: [][]byte{{0x15}},
			target: arburg.ErrFraming,
			state:  arburg.StateAwaitInitialDLE,
		},
		{
			name:   "no DLE for request",
			script: [][]byte{{arburg.DLE}, {0x15}},
			target: arburg.ErrFraming,
			state:  arburg.StateAwaitDLEToRequest,
		},
		{
			name:   "DLE followed by garbage",
			script: [][]byte{{arburg.DLE}, {arburg.DLE, 0x99}},
			target: arburg.ErrFraming,
			state:  arburg.StateAwaitDLEToRequest,
		},
		{
			name:   "negative reaction telegram",
			script: [][]byte{{arburg.DLE}, {arburg.DLE, arburg.STX}, {0x00, 0x00, 0x00, 0x00, 0x05, arburg.DLE, arburg.ETX}},
			target: arburg.ErrFraming,
			state:  arburg.StateAwaitReactionTelegram,
		},
		{
			name:   "no STX for response",
			script: script(handshake()[:3], [][]byte{{0x00}}),
			target: arburg.ErrFraming,
			state:  arburg.StateAwaitSTXForResponse,
		},
		{
			name:   "checksum mismatch",
			script: script(handshake(), [][]byte{badBCC}),
			target: arburg.ErrChecksumMismatch,
		},
		{
			name:   "follow-on first",
			script: script(handshake(), [][]byte{arburg.EncodeFollowOnTelegram([]byte{0x01, 0x02})}),
			target: arburg.ErrUnexpectedFollowOn,
		},
		{
			name:   "invalid header",
			script: script(handshake(), [][]byte{invalidHeader}),
			target: arburg.ErrInvalidHeader,
		},
		{
			name:   "more data than announced",
			script: script(handshake(), [][]byte{arburg.EncodeStandardTelegram([]byte{0x01, 0x02, 0x03, 0x04}, 1)}),
			target: arburg.ErrTooMuchData,
		},
		{
			name: "no DLE for reaction echo",
			script: script(handshake(), [][]byte{
				arburg.EncodeStandardTelegram([]byte{0x01, 0x02}, 1),
				{0x15},
			}),
			target: arburg.ErrFraming,
			state:  arburg.StateAwaitDLEBeforeReactionEcho,
		},
		{
			name: "no final DLE",
			script: script(handshake(), [][]byte{
				arburg.EncodeStandardTelegram([]byte{0x01, 0x02}, 1),
				{arburg.DLE},
				{0x15},
			}),
			target: arburg.ErrFraming,
			state:  arburg.StateAwaitDLEAfterReactionEcho,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := arburg.NewSession(scriptedPeer(tt.script...))
			defer session.Close()

			_, err := request(t, session, arburg.NewStatusRequest(1))
			require.ErrorIs(t, err, tt.target)
			assert.Equal(t, arburg.StateIdle, session.State())

			var framing *arburg.FramingError
			if errors.As(err, &framing) {
				assert.Equal(t, tt.state, framing.State)
			}
		})
	}
}

func TestSession_ScriptedFollowOn(t *testing.T) {
	session := arburg.NewSession(scriptedPeer(script(handshake(), [][]byte{
		arburg.EncodeStandardTelegram([]byte{0xAA, 0xBB}, 2),
		{arburg.DLE},
		{arburg.DLE, arburg.STX},
		arburg.EncodeFollowOnTelegram([]byte{arburg.DLE, 0xDD}),
		{arburg.DLE},
		{arburg.DLE},
	})...))
	defer session.Close()

	response, err := request(t, session, arburg.NewStatusRequest(1))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, arburg.DLE, 0xDD}, response)
}

// ============================================================
// Close and disconnect
// ============================================================

func TestSession_CloseIdle(t *testing.T) {
	session := arburg.NewSession(scriptedPeer())
	assert.True(t, session.IsOpen())

	require.NoError(t, session.Close())
	assert.False(t, session.IsOpen())

	err := session.Send(arburg.NewStatusRequest(1), func([]byte, error) {
		t.Error("callback invoked after close")
	})
	assert.ErrorIs(t, err, arburg.ErrClosed)

	// Closing twice is harmless
	assert.NoError(t, session.Close())
}

func TestSession_CloseDuringExchange(t *testing.T) {
	machine := simulator.New()
	machine.SetMute(true)
	session := arburg.NewSession(machine.Connect(),
		arburg.WithCloseWait(10*time.Millisecond, 3))

	var calls atomic.Int32
	done := make(chan error, 2)
	require.NoError(t, session.Send(arburg.NewStatusRequest(1), func(_ []byte, err error) {
		calls.Add(1)
		done <- err
	}))

	require.NoError(t, session.Close())
	assert.ErrorIs(t, <-done, arburg.ErrClosed)
	assert.Equal(t, arburg.StateIdle, session.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSession_CloseWaitsForExchange(t *testing.T) {
	img := testImage()
	machine := simulator.New(simulator.WithImage(img))
	session := arburg.NewSession(machine.Connect())

	done := make(chan error, 1)
	require.NoError(t, session.Send(arburg.NewStatusRequest(1), func(_ []byte, err error) {
		done <- err
	}))

	require.NoError(t, session.Close())
	assert.NoError(t, <-done)
}

func TestSession_Disconnect(t *testing.T) {
	machine := simulator.New()
	machine.SetMute(true)
	session := arburg.NewSession(machine.Connect())
	defer session.Close()

	done := make(chan error, 1)
	require.NoError(t, session.Send(arburg.NewStatusRequest(1), func(_ []byte, err error) {
		done <- err
	}))

	machine.Disconnect()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, arburg.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("exchange not failed after disconnect")
	}
	assert.False(t, session.IsOpen())
}

func TestSession_RequestContext(t *testing.T) {
	machine := simulator.New()
	machine.SetMute(true)
	session := arburg.NewSession(machine.Connect(), arburg.WithExchangeTimeout(200*time.Millisecond))
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := session.Request(ctx, arburg.NewStatusRequest(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
