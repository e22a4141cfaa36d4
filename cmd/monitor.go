// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/config"
	"github.com/Thermoquad/moldstat/pkg/driver"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch variables, alerts and exchange statistics",
	Long: `Poll the machine and track transport errors, invalid status responses and
alerts with statistics.

The terminal UI shows the latest value of every variable, the active alerts
and a log of raised and cleared alerts.

In text mode only alerts are printed by default. Use --show-all to print
every variable value too. Statistics summaries are printed at a configurable
interval.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Print every value (text mode)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, text mode)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// programSink forwards values into the TUI
type programSink struct {
	p *tea.Program
}

func (s programSink) Deliver(v config.Variable, value any) error {
	s.p.Send(valueMsg{name: v.Name, value: value, at: time.Now()})
	return nil
}

// discardSink drops values unless --show-all is set
type discardSink struct{}

func (discardSink) Deliver(config.Variable, any) error {
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	machine := cfg.MachineCopy()
	machine.Settings.Enable = true

	connector, err := NewConnector()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if useTUI {
		return runMonitorTUI(ctx, machine, connector)
	}
	return runMonitorText(ctx, machine, connector)
}

// runMonitorTUI runs the monitor in TUI mode
func runMonitorTUI(ctx context.Context, machine config.Machine, connector *Connector) error {
	// The driver is created after the program, so the model reads its
	// statistics through this indirection.
	var d *driver.Driver
	m := initialMonitorModel(machine, connector.Describe(machine.Settings), func() (s arburg.StatisticsSnapshot) {
		if d != nil {
			s = d.Statistics()
		}
		return s
	})
	p := tea.NewProgram(m, tea.WithContext(ctx))

	// Log lines would tear the alternate screen
	d = driver.New(machine, programSink{p: p},
		driver.WithOpener(connector.Open),
		driver.WithAlerts(alert.New(alert.WithOnChange(func(a alert.Alert, active bool) {
			p.Send(alertMsg{alert: a, active: active})
		}))),
	)
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runMonitorText runs the monitor in text mode
func runMonitorText(ctx context.Context, machine config.Machine, connector *Connector) error {
	fmt.Printf("Moldstat - Monitor\n")
	fmt.Printf("Machine: %s\n", machine.Info.Name)
	fmt.Printf("Connection: %s\n", connector.Describe(machine.Settings))
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All values\n")
	} else {
		fmt.Printf("Mode: Alerts only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var sink driver.Sink = discardSink{}
	if showAll {
		sink = &printSink{}
	}

	d := driver.New(machine, sink,
		driver.WithOpener(connector.Open),
		driver.WithAlerts(alert.New(alert.WithLogger(logger), alert.WithOnChange(printAlert))),
		driver.WithLogger(logger),
	)
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	interval := statsInterval
	if interval <= 0 {
		interval = 10
	}
	statsTicker := time.NewTicker(time.Duration(interval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(d.Statistics().String())
			fmt.Println()
		}
	}
}
