// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package arburg

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Port is the byte stream a Session talks over (serial port, bridge, pipe)
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Callback receives the reassembled application message, or the error that
// ended the exchange. It is invoked exactly once per accepted Send.
type Callback func(response []byte, err error)

// exchange is one request/response cycle. completed guards the callback so
// that a late timer can never deliver a second result.
type exchange struct {
	done      Callback
	completed bool
	started   time.Time
}

type completion struct {
	done     Callback
	response []byte
	err      error
}

func (c *completion) fire() {
	if c == nil {
		return
	}
	c.done(c.response, c.err)
}

// Session drives the telegram handshake over one port. At most one exchange
// is in flight; bytes and timer events are serialized through mu.
type Session struct {
	port   Port
	config sessionConfig
	log    zerolog.Logger

	mu      sync.Mutex
	state   State
	open    bool
	closing bool
	ex      *exchange
	result  *completion

	request          []byte // framed telegram sent after the initial DLE
	reactionBuf      []byte
	telegramBuf      []byte
	appBuf           []byte
	message          []byte
	expectedWords    int
	responseComplete bool
	followOn         bool

	stepTimer     *time.Timer
	stepGen       uint64
	exchangeTimer *time.Timer

	closeOnce sync.Once
	closeErr  error
}

// NewSession takes ownership of an open port and starts reading from it
func NewSession(port Port, opts ...Option) *Session {
	if port == nil {
		panic("arburg: port cannot be nil")
	}

	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		port:        port,
		config:      cfg,
		log:         cfg.logger,
		state:       StateIdle,
		open:        true,
		reactionBuf: make([]byte, 0, len(ReactionTelegram)),
		telegramBuf: make([]byte, 0, maxTelegramSize),
	}
	go s.readLoop()
	return s
}

// State returns the current protocol state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsOpen reports whether the underlying port is still usable
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Send starts an exchange for the given application payload. It fails
// immediately, without invoking done, with ErrBusy while another exchange is
// in flight, ErrTooLarge for payloads over 256 bytes, or ErrClosed.
func (s *Session) Send(payload []byte, done Callback) error {
	if done == nil {
		return fmt.Errorf("arburg: nil callback")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrClosed
	}
	if s.state != StateIdle {
		return ErrBusy
	}

	telegram, err := EncodeTelegram(payload)
	if err != nil {
		return err
	}

	s.request = telegram
	s.resetBuffers()
	s.ex = &exchange{done: done, started: time.Now()}
	s.setState(StateAwaitInitialDLE)

	if err := s.write([]byte{STX}); err != nil {
		s.ex = nil
		s.setState(StateIdle)
		return err
	}

	s.armStepTimer()
	s.armExchangeTimer()
	return nil
}

// Request is the blocking form of Send. Cancelling ctx stops the wait, not the
// exchange: the session still returns to idle through its own timeouts.
func (s *Session) Request(ctx context.Context, payload []byte) ([]byte, error) {
	type result struct {
		response []byte
		err      error
	}
	ch := make(chan result, 1)

	err := s.Send(payload, func(response []byte, err error) {
		ch <- result{response: response, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.response, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close waits (bounded) for an in-flight exchange to finish, then closes the
// port. A still pending exchange fails with ErrClosed.
func (s *Session) Close() error {
	if s.State() != StateIdle {
		ticker := time.NewTicker(s.config.closePoll)
		for attempt := 0; attempt <= s.config.closeAttempts; attempt++ {
			<-ticker.C
			if s.State() == StateIdle {
				break
			}
		}
		ticker.Stop()
	}

	s.mu.Lock()
	s.closing = true
	s.open = false
	s.finish(nil, fmt.Errorf("%w: closed during exchange", ErrClosed))
	c := s.takeResult()
	s.mu.Unlock()
	c.fire()

	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

func (s *Session) readLoop() {
	buf := make([]byte, maxTelegramSize)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.handleData(data)
		}
		if err != nil {
			s.handleReadError(err)
			return
		}
	}
}

func (s *Session) handleData(data []byte) {
	s.traceData(Rx, data)

	s.mu.Lock()
	c := s.dispatch(data)
	s.mu.Unlock()

	c.fire()
}

func (s *Session) handleReadError(err error) {
	s.mu.Lock()
	if !s.closing {
		s.log.Warn().Err(err).Msg("port read failed, transport closed")
	}
	s.open = false
	s.finish(nil, fmt.Errorf("%w: %v", ErrClosed, err))
	c := s.takeResult()
	s.mu.Unlock()

	c.fire()
}

// dispatch routes one read to the handler of the current state
func (s *Session) dispatch(data []byte) *completion {
	handler := stateHandlers[s.state]
	if handler == nil {
		// Idle: nothing is expected from the machine
		return nil
	}
	if err := handler(s, data); err != nil {
		s.finish(nil, err)
	}
	return s.takeResult()
}

// finish ends the current exchange and queues its callback. The callback is
// queued only once per exchange.
func (s *Session) finish(response []byte, err error) {
	s.setState(StateIdle)
	s.stopTimers()

	ex := s.ex
	s.ex = nil
	if ex == nil || ex.completed {
		return
	}
	ex.completed = true

	if err != nil {
		s.log.Debug().Err(err).Dur("elapsed", time.Since(ex.started)).Msg("exchange failed")
	} else {
		s.log.Debug().Int("bytes", len(response)).Dur("elapsed", time.Since(ex.started)).Msg("exchange complete")
	}
	s.result = &completion{done: ex.done, response: response, err: err}
}

func (s *Session) takeResult() *completion {
	c := s.result
	s.result = nil
	return c
}

func (s *Session) setState(next State) {
	if next != s.state {
		s.log.Trace().Stringer("from", s.state).Stringer("to", next).Msg("transport state")
	}
	s.state = next
}

func (s *Session) resetBuffers() {
	s.reactionBuf = s.reactionBuf[:0]
	s.telegramBuf = s.telegramBuf[:0]
	s.appBuf = nil
	s.message = nil
	s.expectedWords = 0
	s.responseComplete = false
	s.followOn = false
}

func (s *Session) write(data []byte) error {
	s.traceData(Tx, data)
	if _, err := s.port.Write(data); err != nil {
		return fmt.Errorf("write to machine: %w", err)
	}
	return nil
}

func (s *Session) traceData(dir Direction, data []byte) {
	if s.config.trace != nil {
		s.config.trace(dir, data)
	}
}

// Timers

func (s *Session) armStepTimer() {
	s.stopStepTimer()
	gen := s.stepGen
	ex := s.ex
	s.stepTimer = time.AfterFunc(s.config.stepTimeout, func() {
		s.onTimeout(ex, gen, false)
	})
}

func (s *Session) stopStepTimer() {
	if s.stepTimer != nil {
		s.stepTimer.Stop()
		s.stepTimer = nil
	}
	s.stepGen++
}

func (s *Session) armExchangeTimer() {
	if s.exchangeTimer != nil {
		s.exchangeTimer.Stop()
	}
	ex := s.ex
	s.exchangeTimer = time.AfterFunc(s.config.exchangeTimeout, func() {
		s.onTimeout(ex, 0, true)
	})
}

func (s *Session) stopTimers() {
	s.stopStepTimer()
	if s.exchangeTimer != nil {
		s.exchangeTimer.Stop()
		s.exchangeTimer = nil
	}
}

// onTimeout runs on the timer goroutine. Timers belonging to an exchange that
// already ended, or step timers that were re-armed since, are ignored.
func (s *Session) onTimeout(ex *exchange, gen uint64, whole bool) {
	s.mu.Lock()
	if s.ex != ex || ex == nil || s.state == StateIdle || (!whole && gen != s.stepGen) {
		s.mu.Unlock()
		return
	}

	if whole {
		s.finish(nil, fmt.Errorf("%w: did not receive response message in a timely manner (state %s)", ErrTimeout, s.state))
	} else {
		s.finish(nil, fmt.Errorf("%w: did not receive DLE in a timely manner (state %s)", ErrTimeout, s.state))
	}
	c := s.takeResult()
	s.mu.Unlock()

	c.fire()
}

// State handlers. Each one is called with the session lock held.

func (s *Session) onInitialDLE(data []byte) error {
	if data[0] != DLE {
		return framingError(s.state, data[0], "unexpected response to initial STX")
	}
	s.stopStepTimer()
	s.setState(StateAwaitDLEToRequest)
	if err := s.write(s.request); err != nil {
		return err
	}
	s.armStepTimer()
	return nil
}

func (s *Session) onDLEToRequest(data []byte) error {
	if data[0] != DLE {
		return framingError(s.state, data[0], "unexpected response to request message")
	}
	s.stopStepTimer()

	// The machine may already announce its reaction telegram in the same read
	if len(data) > 1 {
		if data[1] != STX {
			return framingError(s.state, data[1], "unexpected data received from machine")
		}
		s.setState(StateAwaitReactionTelegram)
		return s.write([]byte{DLE})
	}

	s.setState(StateAwaitSTXForReaction)
	return nil
}

func (s *Session) onSTXForReaction(data []byte) error {
	if data[0] != STX {
		return framingError(s.state, data[0], "unexpected data received from machine")
	}
	s.setState(StateAwaitReactionTelegram)
	return s.write([]byte{DLE})
}

func (s *Session) onReactionTelegram(data []byte) error {
	if len(s.reactionBuf)+len(data) > len(ReactionTelegram) {
		return framingError(s.state, data[0], "reaction telegram too long")
	}
	s.reactionBuf = append(s.reactionBuf, data...)
	if len(s.reactionBuf) < len(ReactionTelegram) {
		return nil
	}

	if !bytes.Equal(s.reactionBuf, ReactionTelegram[:]) {
		// Byte 4 carries the machine's error code in a negative reaction
		return framingError(s.state, s.reactionBuf[4], "unexpected reaction telegram")
	}
	s.setState(StateAwaitSTXForResponse)
	return s.write([]byte{DLE})
}

func (s *Session) onSTXForResponse(data []byte) error {
	if data[0] != STX {
		return framingError(s.state, data[0], "unexpected data received from machine")
	}
	s.setState(StateAwaitResponseMessage)
	s.responseComplete = false
	return s.write([]byte{DLE})
}

func (s *Session) onResponseMessage(data []byte) error {
	if len(s.telegramBuf)+len(data) > maxTelegramSize {
		return fmt.Errorf("%w: telegram exceeds %d bytes", ErrTooMuchData, maxTelegramSize)
	}
	s.telegramBuf = append(s.telegramBuf, data...)

	if !HasTelegramFooter(s.telegramBuf) {
		// Wait for the rest of the telegram
		return nil
	}

	telegram := s.telegramBuf
	n := len(telegram)
	if sent, calculated := telegram[n-1], CalculateBCC(telegram, n-1); sent != calculated {
		return fmt.Errorf("%w: received 0x%02X, calculated 0x%02X", ErrChecksumMismatch, sent, calculated)
	}

	kind := ClassifyTelegram(telegram)
	headerSize := kind.HeaderSize()
	if kind != TelegramInvalid && n < headerSize+FooterSize {
		return fmt.Errorf("%w: %s telegram of %d bytes", ErrInvalidHeader, kind, n)
	}

	switch kind {
	case TelegramStandard:
		s.expectedWords = int(binary.BigEndian.Uint16(telegram[WordCountOffset:]))
		s.appBuf = make([]byte, 0, s.expectedWords*2)
		s.followOn = false
	case TelegramFollowOn:
		s.followOn = true
		if len(s.appBuf) == 0 {
			return ErrUnexpectedFollowOn
		}
	default:
		return fmt.Errorf("%w: 0x%02X 0x%02X", ErrInvalidHeader, telegram[0], telegram[1])
	}

	part := Unstuff(telegram[headerSize : n-FooterSize])
	if len(s.appBuf)+len(part) > s.expectedWords*2 {
		return fmt.Errorf("%w: more application data than the announced %d words", ErrTooMuchData, s.expectedWords)
	}
	s.appBuf = append(s.appBuf, part...)

	if len(s.appBuf) == s.expectedWords*2 {
		// Delivered once the closing handshake is done
		s.responseComplete = true
		s.message = s.appBuf
		s.appBuf = nil
	}

	s.telegramBuf = s.telegramBuf[:0]
	s.setState(StateAwaitDLEBeforeReactionEcho)
	if err := s.write([]byte{DLE, STX}); err != nil {
		return err
	}
	s.armStepTimer()
	return nil
}

func (s *Session) onDLEBeforeReactionEcho(data []byte) error {
	if data[0] != DLE {
		return framingError(s.state, data[0], "unexpected response to STX")
	}
	s.stopStepTimer()
	s.setState(StateAwaitDLEAfterReactionEcho)

	reaction := ReactionTelegram
	if s.followOn {
		reaction = FollowOnReactionTelegram
	}
	if err := s.write(reaction[:]); err != nil {
		return err
	}
	s.armStepTimer()
	return nil
}

func (s *Session) onDLEAfterReactionEcho(data []byte) error {
	if data[0] != DLE {
		return framingError(s.state, data[0], "unexpected response to reaction telegram")
	}
	s.stopStepTimer()

	if s.responseComplete {
		s.finish(s.message, nil)
		return nil
	}

	// More telegrams to come; the STX may ride along with the DLE
	if len(data) > 1 {
		if data[1] != STX {
			return framingError(s.state, data[1], "unexpected data received from machine")
		}
		s.setState(StateAwaitResponseMessage)
		return s.write([]byte{DLE})
	}

	s.setState(StateAwaitSTXForResponse)
	return nil
}
