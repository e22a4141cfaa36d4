// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/moldstat/pkg/arburg"
)

var (
	probeTimeout     int
	probeTransaction uint16
	probeDump        bool
	probeTrace       bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the connection with a single status request",
	Long: `Send one status request to the machine and wait for the response.

The response is validated and its block layout printed, followed by the value
of every readable variable in the configuration.

Exit codes:
  0 - Valid status response received
  1 - Timeout, transport error or invalid response
  2 - Connection error

Useful for checking cabling, baud rate and parity before running the poller.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a response")
	probeCmd.Flags().Uint16Var(&probeTransaction, "txn", 1, "Transaction number of the request")
	probeCmd.Flags().BoolVar(&probeDump, "dump", false, "Hex dump the response message")
	probeCmd.Flags().BoolVar(&probeTrace, "trace", false, "Print every byte written and read")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	machine := cfg.MachineCopy()

	connector, err := NewConnector()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	port, err := connector.Open(machine.Settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	opts := []arburg.Option{arburg.WithLogger(logger)}
	if probeTrace {
		opts = append(opts, arburg.WithTrace(func(dir arburg.Direction, data []byte) {
			fmt.Println(arburg.FormatTrace(time.Now(), dir, data))
		}))
	}
	session := arburg.NewSession(port, opts...)
	defer session.Close()

	fmt.Printf("Moldstat - Probe\n")
	fmt.Printf("Connection: %s\n", connector.Describe(machine.Settings))
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Requesting status (transaction %d)...\n\n", probeTransaction)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	response, err := session.Request(ctx, arburg.NewStatusRequest(probeTransaction))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, arburg.ErrTimeout) {
			fmt.Fprintf(os.Stderr, "TIMEOUT: No response within the deadline: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "TRANSPORT ERROR: %v\n", err)
		}
		os.Exit(1)
	}

	if probeDump {
		fmt.Print(arburg.HexDump("  ", response))
		fmt.Println()
	}

	status, err := arburg.DecodeStatus(response, probeTransaction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID RESPONSE: %v\n", err)
		os.Exit(1)
	}

	wide := cfg.WideEncoding()
	fmt.Printf("SUCCESS: Received %d byte status response\n", len(response))
	fmt.Print(arburg.FormatStatus(status, wide))

	if len(machine.Variables) > 0 {
		fmt.Printf("\nVariables:\n")
	}
	for _, v := range machine.Variables {
		if !v.Readable() {
			continue
		}
		value, ok := arburg.Extract(status, v.Variable, wide)
		if !ok {
			fmt.Printf("  %-24s (no data at %s offset %d)\n", v.Name, v.BlockLocation, v.ByteOffset)
			continue
		}
		fmt.Printf("  %-24s %s\n", v.Name, arburg.FormatValue(value))
	}

	return nil
}
