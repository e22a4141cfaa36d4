// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package datastore keeps the latest value of every machine variable and
// fans changes out to subscribers as CBOR frames.
package datastore

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/config"
)

// ErrClosed is returned by Deliver after Close
var ErrClosed = errors.New("datastore closed")

// Sample is one delivered variable value
type Sample struct {
	Machine  string    `json:"machine"`
	Variable string    `json:"variable"`
	Value    any       `json:"value"`
	Time     time.Time `json:"time"`
}

// Snapshot is the current state of the store
type Snapshot struct {
	Machine   string        `json:"machine"`
	Connected bool          `json:"connected"`
	Updated   time.Time     `json:"updated"`
	Values    []Sample      `json:"values"`
	Alerts    []alert.Alert `json:"alerts,omitempty"`
}

const defaultSubscriberBuffer = 64

// Store is the value sink of a driver
type Store struct {
	mu        sync.RWMutex
	machine   string
	values    map[string]Sample
	order     []string
	connected bool
	updated   time.Time
	closed    bool

	subs   map[int]chan []byte
	nextID int

	log zerolog.Logger
	now func() time.Time
}

// New creates a store for one machine
func New(machine string, logger zerolog.Logger) *Store {
	return &Store{
		machine: machine,
		values:  make(map[string]Sample),
		subs:    make(map[int]chan []byte),
		log:     logger,
		now:     time.Now,
	}
}

// Deliver records a variable value and publishes it
func (s *Store) Deliver(v config.Variable, value any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	sample := Sample{Machine: s.machine, Variable: v.Name, Value: value, Time: s.now()}
	if _, ok := s.values[v.Name]; !ok {
		s.order = append(s.order, v.Name)
	}
	s.values[v.Name] = sample
	s.updated = sample.Time
	s.mu.Unlock()

	frame, err := EncodeSample(sample)
	if err != nil {
		return err
	}
	s.publish(frame)
	return nil
}

// SetConnected records the persisted connection flag
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	at := s.now()
	s.mu.Unlock()

	if !changed {
		return
	}
	s.log.Info().Bool("connected", connected).Msg("connection status")
	frame, err := EncodeConnection(s.machine, connected, at)
	if err != nil {
		s.log.Error().Err(err).Msg("encode connection frame")
		return
	}
	s.publish(frame)
}

// PublishAlert forwards an alert change to subscribers. It matches
// alert.ChangeFunc.
func (s *Store) PublishAlert(a alert.Alert, active bool) {
	frame, err := EncodeAlert(s.machine, a.Key, a.Message, active, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("encode alert frame")
		return
	}
	s.publish(frame)
}

// Value returns the latest sample of a variable
func (s *Store) Value(name string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.values[name]
	return sample, ok
}

// Snapshot returns all latest values in first-delivery order
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Machine:   s.machine,
		Connected: s.connected,
		Updated:   s.updated,
		Values:    make([]Sample, 0, len(s.order)),
	}
	for _, name := range s.order {
		snap.Values = append(snap.Values, s.values[name])
	}
	return snap
}

// Subscribe returns a channel of encoded frames and a cancel function. Slow
// subscribers miss frames rather than block delivery.
func (s *Store) Subscribe() (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan []byte, defaultSubscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

func (s *Store) publish(frame []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, ch := range s.subs {
		select {
		case ch <- frame:
		default:
			s.log.Debug().Int("subscriber", id).Msg("subscriber full, frame dropped")
		}
	}
}

// Close rejects further deliveries and ends all subscriptions
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
