// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Sextant - Serial Session Terminal
//
// A CLI tool for talking to UART-attached devices: interactive terminal,
// transcript logging, and AI-assisted transcript analysis.

package main

import (
	"os"

	"github.com/Thermoquad/sextant/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
