// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package driver polls one Arburg machine: it owns the transport session,
// issues a status request every interval, validates and decodes the response
// and delivers variable values to a sink. Problems are reported as alerts.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/config"
)

// Sink receives extracted variable values
type Sink interface {
	Deliver(v config.Variable, value any) error
}

// ErrRunning is returned by Start when the driver already runs
var ErrRunning = errors.New("driver already running")

// Driver polls one machine
type Driver struct {
	mu      sync.Mutex
	machine config.Machine
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	sink                Sink
	opener              Opener
	alerts              *alert.Registry
	setConnectionStatus func(connected bool)
	log                 zerolog.Logger
	sessionOpts         []arburg.Option
	reconnectDelay      time.Duration
	stats               *arburg.Statistics
}

// New creates a driver for a machine. Nothing happens until Start.
func New(machine config.Machine, sink Sink, opts ...Option) *Driver {
	if sink == nil {
		panic("driver: sink cannot be nil")
	}

	d := &Driver{
		machine:             machine,
		sink:                sink,
		opener:              SerialOpener,
		setConnectionStatus: func(bool) {},
		log:                 zerolog.Nop(),
		reconnectDelay:      DefaultReconnectDelay,
		stats:               arburg.NewStatistics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.alerts == nil {
		d.alerts = alert.New(alert.WithLogger(d.log))
	}
	d.alerts.Preload(Definitions)

	d.setConnectionStatus(false)
	return d
}

// Alerts returns the alert registry
func (d *Driver) Alerts() *alert.Registry {
	return d.alerts
}

// Statistics returns the exchange counters
func (d *Driver) Statistics() arburg.StatisticsSnapshot {
	return d.stats.Snapshot()
}

// Machine returns the machine the driver currently runs with
func (d *Driver) Machine() config.Machine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine
}

// Start opens the transport and begins polling. A disabled machine starts
// nothing. A machine that cannot be opened is retried in the background.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done != nil {
		return ErrRunning
	}
	d.baseCtx = ctx

	log := d.log.With().Str("machine", d.machine.Info.Name).Logger()
	if !d.machine.Settings.Enable {
		log.Debug().Msg("disabled")
		return nil
	}

	s := d.machine.Settings
	wide, err := checkSettings(s)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p := newPoller(d, d.machine, wide, log)

	d.cancel = cancel
	d.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		p.run(runCtx)
	}(d.done)

	log.Info().Str("device", s.Device).Dur("interval", s.RequestInterval()).Msg("started")
	return nil
}

// Stop ends polling, closes the transport and clears all alerts
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	d.setConnectionStatus(false)
	d.alerts.ClearAll()
	d.log.Info().Str("machine", d.Machine().Info.Name).Msg("stopped")
}

// checkSettings rejects settings the poller cannot run with and returns the
// wide text encoding they select.
func checkSettings(s config.Settings) (encoding.Encoding, error) {
	if s.RequestInterval() <= 0 {
		return nil, fmt.Errorf("invalid request interval %v", s.RequestInterval())
	}
	return config.WideEncoding(s.UnicodeEncoding)
}

// UpdateModel replaces the machine settings with patch merged onto the
// defaults and restarts the driver. Rejected settings leave the driver
// running with the previous ones.
func (d *Driver) UpdateModel(patch map[string]any) error {
	settings, err := config.MergeSettings(patch)
	if err != nil {
		return err
	}
	if _, err := checkSettings(settings); err != nil {
		return err
	}

	d.Stop()

	d.mu.Lock()
	d.machine.Settings = settings
	ctx := d.baseCtx
	d.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	return d.Start(ctx)
}

// result is one finished exchange
type result struct {
	session  *arburg.Session
	response []byte
	err      error
}

// poller is the state of one run. It is owned by the run goroutine.
type poller struct {
	d        *Driver
	log      zerolog.Logger
	settings config.Settings
	wide     encoding.Encoding
	readVars []config.Variable
	connVars []config.Variable

	ctx     context.Context
	session *arburg.Session
	txn     uint16
	results chan result

	pollTicker      *time.Ticker
	reconnectTicker *time.Ticker
	grace           *time.Timer

	connectionReported bool
}

func newPoller(d *Driver, machine config.Machine, wide encoding.Encoding, log zerolog.Logger) *poller {
	p := &poller{
		d:        d,
		log:      log,
		settings: machine.Settings,
		wide:     wide,
		results:  make(chan result, 4),
	}
	for _, v := range machine.Variables {
		if v.MachineConnected {
			p.connVars = append(p.connVars, v)
		} else if v.Readable() {
			p.readVars = append(p.readVars, v)
		}
	}
	return p
}

func tickC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (p *poller) graceC() <-chan time.Time {
	if p.grace == nil {
		return nil
	}
	return p.grace.C
}

func (p *poller) run(ctx context.Context) {
	p.ctx = ctx

	if err := p.open(); err != nil {
		p.log.Error().Err(err).Msg("failed to open transport")
		p.d.alerts.Raise(AlertDisconnected, alert.Details{ErrorMsg: err.Error()})
		p.startReconnect()
	} else {
		p.startPolling()
	}

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case <-tickC(p.pollTicker):
			p.poll()
		case <-tickC(p.reconnectTicker):
			p.reconnect()
		case <-p.graceC():
			p.grace = nil
			p.reportDisconnected()
		case r := <-p.results:
			p.handleResult(r)
		}
	}
}

func (p *poller) open() error {
	p.txn = 0

	port, err := p.d.opener(p.settings)
	if err != nil {
		p.disconnectDetected()
		p.d.setConnectionStatus(false)
		return err
	}

	p.session = arburg.NewSession(port, append([]arburg.Option{arburg.WithLogger(p.log)}, p.d.sessionOpts...)...)
	p.d.setConnectionStatus(true)
	return nil
}

func (p *poller) startPolling() {
	if p.pollTicker == nil {
		p.pollTicker = time.NewTicker(p.settings.RequestInterval())
	}
}

func (p *poller) stopPolling() {
	if p.pollTicker != nil {
		p.pollTicker.Stop()
		p.pollTicker = nil
	}
}

func (p *poller) startReconnect() {
	if p.reconnectTicker == nil {
		p.log.Debug().Msg("reconnecting")
		p.reconnectTicker = time.NewTicker(p.settings.RequestInterval() + p.d.reconnectDelay)
	}
}

func (p *poller) stopReconnect() {
	if p.reconnectTicker != nil {
		p.reconnectTicker.Stop()
		p.reconnectTicker = nil
	}
}

// poll runs on every request tick
func (p *poller) poll() {
	if p.session == nil || !p.session.IsOpen() {
		p.closeSession()
		p.stopPolling()
		p.startReconnect()
		p.d.alerts.Raise(AlertDisconnected, alert.Details{})
		return
	}

	// The number only advances for an accepted request, so a busy tick does
	// not invalidate the exchange still in flight.
	txn := arburg.NextTransaction(p.txn)
	session := p.session
	err := session.Send(arburg.NewStatusRequest(txn), func(response []byte, err error) {
		select {
		case p.results <- result{session: session, response: response, err: err}:
		case <-p.ctx.Done():
		}
	})
	if err != nil {
		p.requestFailed(err)
		return
	}
	p.txn = txn
}

func (p *poller) reconnect() {
	port, err := p.d.opener(p.settings)
	if err != nil {
		p.log.Debug().Err(err).Msg("reconnect failed")
		return
	}

	p.session = arburg.NewSession(port, append([]arburg.Option{arburg.WithLogger(p.log)}, p.d.sessionOpts...)...)
	p.d.setConnectionStatus(true)
	p.stopReconnect()
	p.startPolling()
	p.d.alerts.Clear(AlertDisconnected)
	p.log.Info().Msg("reconnected")
}

func (p *poller) closeSession() {
	p.d.setConnectionStatus(false)
	if p.session != nil {
		if err := p.session.Close(); err != nil {
			p.log.Debug().Err(err).Msg("close transport")
		}
		p.session = nil
	}
	p.disconnectDetected()
}

func (p *poller) shutdown() {
	p.stopPolling()
	p.stopReconnect()
	p.closeSession()
	if p.grace != nil {
		p.grace.Stop()
		p.grace = nil
	}
	// The grace period cannot outlive the run
	p.reportDisconnected()
}

func (p *poller) requestFailed(err error) {
	p.d.stats.Update(err, nil)
	p.d.alerts.Raise(AlertRequestError, alert.Details{ErrorMsg: err.Error()})
	p.disconnectDetected()
}

func (p *poller) handleResult(r result) {
	if r.session != p.session {
		// A closed session finishing its last exchange
		return
	}
	if r.err != nil {
		p.requestFailed(r.err)
		return
	}

	p.d.alerts.Clear(AlertRequestError)
	p.processResponse(r.response)
}

// processResponse validates a status response and delivers every readable
// variable. Validation stops at the first failing check; checks before it
// clear their alert.
func (p *poller) processResponse(msg []byte) {
	status, err := arburg.DecodeStatus(msg, p.txn)
	p.d.stats.Update(nil, err)

	if err != nil {
		var verr *arburg.ValidationError
		if !errors.As(err, &verr) {
			p.log.Error().Err(err).Msg("decode status")
			return
		}
		for _, key := range arburg.ValidationKeys {
			if key == verr.Key {
				break
			}
			p.d.alerts.Clear(key)
		}
		p.d.alerts.Raise(verr.Key, alert.Details{
			ErrorCode: int(verr.ErrorCode),
			Received:  verr.Received,
			Expected:  verr.Expected,
		})
		return
	}
	for _, key := range arburg.ValidationKeys {
		p.d.alerts.Clear(key)
	}

	p.connectionDetected()

	for _, v := range p.readVars {
		key := VariableAlertKey(v.Name)
		value, ok := arburg.Extract(status, v.Variable, p.wide)
		if !ok {
			p.d.alerts.RaiseCustom(key,
				fmt.Sprintf("Arburg: No Data Available For Variable %s", v.Name),
				fmt.Sprintf("Check Block Location and Offset are correct for variable '%s'. Note that some block locations are optional", v.Name))
			continue
		}
		p.d.alerts.Clear(key)

		if err := p.d.sink.Deliver(v, value); err != nil {
			p.d.alerts.Raise(AlertDatabase, alert.Details{ErrorMsg: err.Error()})
		} else {
			p.d.alerts.Clear(AlertDatabase)
		}
	}
}

// connectionDetected cancels a pending disconnect report and reports the
// machine as connected once.
func (p *poller) connectionDetected() {
	if p.grace != nil {
		p.grace.Stop()
		p.grace = nil
	}
	if p.connectionReported {
		return
	}
	p.connectionReported = true
	p.deliverConnected(true)
}

// disconnectDetected starts the grace timer unless it already runs
func (p *poller) disconnectDetected() {
	if p.grace != nil {
		return
	}
	p.grace = time.NewTimer(p.settings.DisconnectGrace())
}

// reportDisconnected runs when the grace period expires with no successful
// exchange
func (p *poller) reportDisconnected() {
	p.connectionReported = false
	p.deliverConnected(false)
}

func (p *poller) deliverConnected(connected bool) {
	for _, v := range p.connVars {
		if err := p.d.sink.Deliver(v, connected); err != nil {
			p.log.Error().Err(err).Str("variable", v.Name).Msg("deliver connection state")
		}
	}
}
