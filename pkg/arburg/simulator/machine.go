// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator plays the machine side of the Arburg telegram protocol
// over an in-memory link. It backs the transport and driver tests and the
// CLI demo mode.
package simulator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/moldstat/pkg/arburg"
)

// Handler produces the application response for a request. Returning nil
// leaves the request unanswered and the host times out.
type Handler func(request []byte) []byte

// Option configures a Machine
type Option func(*Machine)

// WithImage sets the initial status image
func WithImage(img StatusImage) Option {
	return func(m *Machine) {
		m.image = img.Clone()
	}
}

// WithHandler replaces the status request handler
func WithHandler(h Handler) Option {
	return func(m *Machine) {
		m.handler = h
	}
}

// WithTelegramPayload limits the application bytes per response telegram.
// Longer responses are split into a standard and follow-on telegrams.
func WithTelegramPayload(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.telegramPayload = n
		}
	}
}

// WithChunkSize splits every telegram the machine sends into writes of at
// most n bytes.
func WithChunkSize(n int) Option {
	return func(m *Machine) {
		m.chunkSize = n
	}
}

// WithSplitAck makes the machine send DLE and the following STX as two
// separate writes.
func WithSplitAck(split bool) Option {
	return func(m *Machine) {
		m.splitAck = split
	}
}

// WithLogger sets the logger for the machine side
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) {
		m.log = logger
	}
}

// Machine is a simulated Arburg controller. Each Connect starts a new link.
type Machine struct {
	mu              sync.Mutex
	image           StatusImage
	handler         Handler
	telegramPayload int
	chunkSize       int
	splitAck        bool
	mute            bool
	corruptBCC      bool
	requests        int
	conn            *Port

	log zerolog.Logger
}

// New creates a machine serving an empty status image
func New(opts ...Option) *Machine {
	m := &Machine{
		telegramPayload: arburg.MaxAppPayloadSize,
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens a new link to the machine and returns the host end. A
// previous link is closed.
func (m *Machine) Connect() *Port {
	host, device := Pipe()

	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = device
	m.mu.Unlock()

	go m.serve(device)
	return host
}

// Disconnect drops the current link, as if the cable was pulled
func (m *Machine) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// SetImage replaces the status image served from the next request on
func (m *Machine) SetImage(img StatusImage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = img.Clone()
}

// Image returns a copy of the current status image
func (m *Machine) Image() StatusImage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.image.Clone()
}

// SetMute makes the machine swallow everything without answering
func (m *Machine) SetMute(mute bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mute = mute
}

// SetCorruptChecksum makes the machine send response telegrams with a wrong BCC
func (m *Machine) SetCorruptChecksum(corrupt bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corruptBCC = corrupt
}

// Requests returns the number of request telegrams received
func (m *Machine) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func (m *Machine) respond(request []byte) []byte {
	m.mu.Lock()
	handler := m.handler
	img := m.image.Clone()
	m.requests++
	m.mu.Unlock()

	if handler != nil {
		return handler(request)
	}

	if len(request) != 8 || request[0] != 0x1F || request[1] != 0x82 {
		m.log.Warn().Hex("request", request).Msg("unsupported request")
		return nil
	}
	return img.Encode(binary.BigEndian.Uint16(request[arburg.TransactionOffset:]))
}

// errResync means the host started a new exchange mid-cycle
var errResync = errors.New("resync")

// link is the device end of one connection
type link struct {
	m       *Machine
	port    *Port
	buf     []byte
	pos     int
	scratch []byte
}

func (l *link) readByte() (byte, error) {
	for l.pos >= len(l.buf) {
		n, err := l.port.Read(l.scratch)
		if err != nil {
			return 0, err
		}
		l.buf = append(l.buf[:0], l.scratch[:n]...)
		l.pos = 0
	}
	b := l.buf[l.pos]
	l.pos++
	return b, nil
}

func (l *link) unread() {
	if l.pos > 0 {
		l.pos--
	}
}

// expect reads one byte. An unexpected STX is pushed back as the start of a
// new exchange.
func (l *link) expect(want byte) error {
	b, err := l.readByte()
	if err != nil {
		return err
	}
	if b == want {
		return nil
	}
	if b == arburg.STX {
		l.unread()
	}
	return errResync
}

func (l *link) write(data []byte) error {
	_, err := l.port.Write(data)
	return err
}

// writeTelegram sends a telegram, chunked when configured
func (l *link) writeTelegram(telegram []byte) error {
	chunk := l.m.chunkSize
	if chunk <= 0 {
		return l.write(telegram)
	}
	for len(telegram) > 0 {
		n := min(chunk, len(telegram))
		if err := l.write(telegram[:n]); err != nil {
			return err
		}
		telegram = telegram[n:]
	}
	return nil
}

// writeAck sends DLE, followed by STX when more is to come
func (l *link) writeAck(withSTX bool) error {
	if !withSTX {
		return l.write([]byte{arburg.DLE})
	}
	if l.m.splitAck {
		if err := l.write([]byte{arburg.DLE}); err != nil {
			return err
		}
		return l.write([]byte{arburg.STX})
	}
	return l.write([]byte{arburg.DLE, arburg.STX})
}

func (l *link) readTelegram() ([]byte, error) {
	var telegram []byte
	for !arburg.HasTelegramFooter(telegram) {
		b, err := l.readByte()
		if err != nil {
			return nil, err
		}
		telegram = append(telegram, b)
	}
	return telegram, nil
}

func (m *Machine) serve(port *Port) {
	l := &link{m: m, port: port, scratch: make([]byte, 1024)}
	defer port.Close()

	for {
		err := l.exchange()
		if err == nil || errors.Is(err, errResync) {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
			m.log.Warn().Err(err).Msg("simulator link failed")
		}
		return
	}
}

// exchange runs one request/response cycle from the machine's side
func (l *link) exchange() error {
	b, err := l.readByte()
	if err != nil {
		return err
	}

	l.m.mu.Lock()
	mute := l.m.mute
	l.m.mu.Unlock()
	if b != arburg.STX || mute {
		return nil
	}

	// Request telegram
	if err := l.write([]byte{arburg.DLE}); err != nil {
		return err
	}
	telegram, err := l.readTelegram()
	if err != nil {
		return err
	}
	n := len(telegram)
	if telegram[n-1] != arburg.CalculateBCC(telegram, n-1) || arburg.ClassifyTelegram(telegram) != arburg.TelegramStandard {
		l.m.log.Warn().Hex("telegram", telegram).Msg("bad request telegram")
		return errResync
	}
	request := arburg.Unstuff(telegram[arburg.StandardHeaderSize : n-arburg.FooterSize])

	// Reaction telegram
	if err := l.writeAck(true); err != nil {
		return err
	}
	if err := l.expect(arburg.DLE); err != nil {
		return err
	}
	if err := l.write(arburg.ReactionTelegram[:]); err != nil {
		return err
	}
	if err := l.expect(arburg.DLE); err != nil {
		return err
	}

	response := l.m.respond(request)
	if response == nil {
		return nil
	}

	// Response telegrams
	if err := l.write([]byte{arburg.STX}); err != nil {
		return err
	}
	if err := l.expect(arburg.DLE); err != nil {
		return err
	}

	parts := l.m.split(response)
	for i, part := range parts {
		var out []byte
		if i == 0 {
			out = arburg.EncodeStandardTelegram(part, uint16(len(response)/2))
		} else {
			out = arburg.EncodeFollowOnTelegram(part)
		}

		l.m.mu.Lock()
		corrupt := l.m.corruptBCC
		l.m.mu.Unlock()
		if corrupt {
			out[len(out)-1] ^= 0xFF
		}

		if err := l.writeTelegram(out); err != nil {
			return err
		}
		if err := l.expect(arburg.DLE); err != nil {
			return err
		}
		if err := l.expect(arburg.STX); err != nil {
			return err
		}
		if err := l.write([]byte{arburg.DLE}); err != nil {
			return err
		}

		reaction := make([]byte, len(arburg.ReactionTelegram))
		for j := range reaction {
			if reaction[j], err = l.readByte(); err != nil {
				return err
			}
		}
		want := arburg.ReactionTelegram
		if i > 0 {
			want = arburg.FollowOnReactionTelegram
		}
		if !bytes.Equal(reaction, want[:]) {
			return errResync
		}

		more := i < len(parts)-1
		if err := l.writeAck(more); err != nil {
			return err
		}
		if more {
			if err := l.expect(arburg.DLE); err != nil {
				return err
			}
		}
	}
	return nil
}

// split cuts a response into telegram payloads. A part never ends in DLE
// unless it is the last one, since the host would not see its footer.
func (m *Machine) split(response []byte) [][]byte {
	var parts [][]byte
	for len(response) > m.telegramPayload {
		n := m.telegramPayload
		for n > 1 && response[n-1] == arburg.DLE {
			n--
		}
		parts = append(parts, response[:n])
		response = response[n:]
	}
	return append(parts, response)
}
