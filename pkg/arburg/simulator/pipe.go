// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"io"
	"sync"
)

const pipeDepth = 64

// Port is one end of an in-memory full-duplex link. Each Write arrives at the
// peer as a single Read, the way small serial writes usually do, so tests
// control exactly how bytes are grouped.
type Port struct {
	in      <-chan []byte
	out     chan<- []byte
	pending []byte

	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected ports. Closing either end closes both.
func Pipe() (*Port, *Port) {
	ab := make(chan []byte, pipeDepth)
	ba := make(chan []byte, pipeDepth)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &Port{in: ba, out: ab, done: done, once: once}
	b := &Port{in: ab, out: ba, done: done, once: once}
	return a, b
}

func (p *Port) Read(buf []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case chunk := <-p.in:
			p.pending = chunk
		case <-p.done:
			// Drain what was written before the close
			select {
			case chunk := <-p.in:
				p.pending = chunk
			default:
				return 0, io.EOF
			}
		}
	}

	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *Port) Write(data []byte) (int, error) {
	chunk := make([]byte, len(data))
	copy(chunk, data)

	select {
	case <-p.done:
		return 0, io.ErrClosedPipe
	default:
	}

	select {
	case p.out <- chunk:
		return len(data), nil
	case <-p.done:
		return 0, io.ErrClosedPipe
	}
}

func (p *Port) Close() error {
	p.once.Do(func() {
		close(p.done)
	})
	return nil
}
