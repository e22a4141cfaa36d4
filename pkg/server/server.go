// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package server publishes the values polled by a driver over HTTP. WebSocket
// clients on /ws receive CBOR frames from the data store; /api/snapshot,
// /api/alerts and /api/settings serve JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/moldstat/pkg/config"
	"github.com/Thermoquad/moldstat/pkg/datastore"
	"github.com/Thermoquad/moldstat/pkg/driver"
)

const writeTimeout = 5 * time.Second

// Server serves one machine
type Server struct {
	cfg    *config.Config
	store  *datastore.Store
	driver *driver.Driver
	log    zerolog.Logger

	upgrader websocket.Upgrader
}

// New creates a server. The driver must deliver into store.
func New(cfg *config.Config, store *datastore.Store, d *driver.Driver, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		driver: d,
		log:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/settings", s.handleSettings)
	return mux
}

// Run listens on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	// Subscribe before taking the snapshot so no delivery falls in between
	frames, cancel := s.store.Subscribe()
	initial := s.initialFrames()
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("client connected")

	// Writer goroutine
	go func() {
		defer conn.Close()
		write := func(frame []byte) error {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			return conn.WriteMessage(websocket.BinaryMessage, frame)
		}
		for _, frame := range initial {
			if err := write(frame); err != nil {
				cancel()
				return
			}
		}
		for frame := range frames {
			if err := write(frame); err != nil {
				cancel()
				return
			}
		}
	}()

	// Reader goroutine keeps the connection alive and notices the close
	go func() {
		defer func() {
			cancel()
			s.log.Debug().Str("remote", r.RemoteAddr).Msg("client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// initialFrames describes the current state to a new client
func (s *Server) initialFrames() [][]byte {
	snap := s.store.Snapshot()

	var frames [][]byte
	if frame, err := datastore.EncodeConnection(snap.Machine, snap.Connected, time.Now()); err == nil {
		frames = append(frames, frame)
	}
	for _, sample := range snap.Values {
		frame, err := datastore.EncodeSample(sample)
		if err != nil {
			s.log.Error().Err(err).Str("variable", sample.Variable).Msg("encode sample")
			continue
		}
		frames = append(frames, frame)
	}
	for _, a := range s.driver.Alerts().Active() {
		if frame, err := datastore.EncodeAlert(snap.Machine, a.Key, a.Message, true, a.Raised); err == nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.store.Snapshot()
	snap.Alerts = s.driver.Alerts().Active()
	s.writeJSON(w, snap)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.driver.Alerts().Active())
}

// handleSettings returns the machine settings, or applies a partial update
// onto the defaults and restarts the driver
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.driver.Machine().Settings)

	case http.MethodPost, http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var patch map[string]any
		if err := json.Unmarshal(body, &patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.driver.UpdateModel(patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		settings := s.driver.Machine().Settings
		s.cfg.SetSettings(settings)
		if err := s.cfg.Save(); err != nil {
			s.log.Error().Err(err).Msg("save config")
		}
		s.writeJSON(w, settings)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}
