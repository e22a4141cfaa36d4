// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/moldstat/pkg/config"
)

var (
	configPath string
	logLevel   string
	demoMode   bool

	// Serial connection flags
	portName string
	baudRate int
	parity   string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

// logger is set up before every command runs
var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "moldstat",
	Short: "Arburg injection molding machine status poller",
	Long: `Moldstat - A CLI tool for polling Arburg injection molding machines over
their serial host interface.

Provides commands for one-shot status probes, continuous variable polling,
a live monitor and an HTTP/WebSocket server publishing variable values.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600] [--parity even]
  WebSocket: --url ws://host/path [--username user]
  Demo:      --demo (built-in simulated machine)

Machine settings and variables are read from --config (default moldstat.yaml).
Connection flags override the settings from the file.

For WebSocket authentication, the password is read from the MOLDSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.1.0",
	PersistentPreRunE: setupLogging,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&demoMode, "demo", false, "Talk to a simulated machine instead of real hardware")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVar(&parity, "parity", "", "Parity: none, even or odd (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket serial bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func setupLogging(cmd *cobra.Command, args []string) error {
	name := logLevel
	if name == "" {
		name = os.Getenv("MOLDSTAT_LOG_LEVEL")
	}
	if name == "" {
		name = "info"
	}

	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}

	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().
		Timestamp().
		Logger()
	return nil
}

// loadConfig reads the configuration file and applies the connection flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if portName != "" {
		cfg.Machine.Settings.Device = portName
	}
	if baudRate > 0 {
		cfg.Machine.Settings.BaudRate = baudRate
	}
	if parity != "" {
		cfg.Machine.Settings.Parity = parity
	}
	if logLevel == "" && cfg.Logging.Level != "" {
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			logger = logger.Level(level)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
