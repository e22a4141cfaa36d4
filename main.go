// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Moldstat - Arburg Machine Status Poller
//
// A CLI tool for polling Arburg injection molding machines over their serial
// host interface and publishing the status variables.

package main

import (
	"os"

	"github.com/Thermoquad/moldstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
