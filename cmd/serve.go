// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/datastore"
	"github.com/Thermoquad/moldstat/pkg/driver"
	"github.com/Thermoquad/moldstat/pkg/server"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the machine and publish values over HTTP and WebSocket",
	Long: `Run the poller as a service and publish its output.

Endpoints:
  /ws             WebSocket stream of CBOR frames (values, connection, alerts)
  /api/snapshot   latest value of every variable plus active alerts (JSON)
  /api/alerts     active alerts (JSON)
  /api/settings   GET the machine settings, PUT a partial update which is
                  merged onto the defaults, saved and applied with a restart

The machine is only polled when machine.settings.enable is true.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides server.listenAddr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	machine := cfg.MachineCopy()
	log := logger.With().Str("machine", machine.Info.Name).Logger()

	connector, err := NewConnector()
	if err != nil {
		return err
	}

	store := datastore.New(machine.Info.Name, log)
	defer store.Close()

	d := driver.New(machine, store,
		driver.WithOpener(connector.Open),
		driver.WithAlerts(alert.New(alert.WithLogger(log), alert.WithOnChange(store.PublishAlert))),
		driver.WithConnectionStatus(func(connected bool) {
			cfg.SetConnectionStatus(connected)
			store.SetConnected(connected)
		}),
		driver.WithLogger(log),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	addr := listenAddr
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}
	log.Info().Str("connection", connector.Describe(machine.Settings)).Msg("serving")
	return server.New(cfg, store, d, log).Run(ctx, addr)
}
