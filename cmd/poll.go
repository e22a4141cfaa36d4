// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/arburg"
	"github.com/Thermoquad/moldstat/pkg/config"
	"github.com/Thermoquad/moldstat/pkg/driver"
)

var (
	pollTrace bool
	pollStats int
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Continuously poll the machine and print variable values",
	Long: `Poll the machine at the configured request frequency and print every
variable value as it is extracted from a status response.

Alerts are printed when raised and when cleared. Use --trace to see the raw
telegram exchange.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().BoolVar(&pollTrace, "trace", false, "Print every byte written and read")
	pollCmd.Flags().IntVar(&pollStats, "stats-interval", 0, "Print statistics every N seconds (0 disables)")
}

// printSink writes each delivered value to stdout
type printSink struct {
	mu sync.Mutex
}

func (p *printSink) Deliver(v config.Variable, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf("[%s] %-24s %s\n", time.Now().Format("15:04:05.000"), v.Name, arburg.FormatValue(value))
	return nil
}

func printAlert(a alert.Alert, active bool) {
	timestamp := time.Now().Format("15:04:05.000")
	if active {
		fmt.Printf("[%s] \033[1;31mALERT:\033[0m %s\n  %s\n", timestamp, a.Message, a.Description)
		return
	}
	fmt.Printf("[%s] \033[1;32mCLEARED:\033[0m %s\n", timestamp, a.Message)
}

func runPoll(cmd *cobra.Command, args []string) error {
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

	var sessionOpts []arburg.Option
	if pollTrace {
		sessionOpts = append(sessionOpts, arburg.WithTrace(func(dir arburg.Direction, data []byte) {
			fmt.Println(arburg.FormatTrace(time.Now(), dir, data))
		}))
	}

	d := driver.New(machine, &printSink{},
		driver.WithOpener(connector.Open),
		driver.WithAlerts(alert.New(alert.WithLogger(logger), alert.WithOnChange(printAlert))),
		driver.WithLogger(logger),
		driver.WithSessionOptions(sessionOpts...),
	)

	fmt.Printf("Moldstat - Poll\n")
	fmt.Printf("Machine: %s\n", machine.Info.Name)
	fmt.Printf("Connection: %s\n", connector.Describe(machine.Settings))
	fmt.Printf("Request interval: %v\n", machine.Settings.RequestInterval())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	var statsC <-chan time.Time
	if pollStats > 0 {
		ticker := time.NewTicker(time.Duration(pollStats) * time.Second)
		defer ticker.Stop()
		statsC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(d.Statistics().String())
			return nil
		case <-statsC:
			fmt.Println()
			fmt.Print(d.Statistics().String())
			fmt.Println()
		}
	}
}
