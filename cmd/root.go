// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sextant/pkg/session"
)

var (
	// Serial connection flags
	portName string
	baudRate int
	dataBits int
	stopBits int
	parity   string
	flowCtrl string
	rxBuf    int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Analysis flags
	aiModel string
	aiURL   string
)

var rootCmd = &cobra.Command{
	Use:   "sextant",
	Short: "Serial UART session terminal",
	Long: `Sextant - An interactive terminal for raw serial UART sessions.

Provides an interactive terminal, a streaming session log, and one-shot
sends over a local serial port or a remote WebSocket serial bridge. All
traffic is captured in a session transcript with per-direction byte
counters, and the transcript can be summarized by an AI text-generation
service.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200 --databits 8 --parity none --stopbits 1]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the
SEXTANT_WS_PASSWORD environment variable, or prompted interactively if
not set. The AI analysis key is read from SEXTANT_API_KEY the same way.
Neither is accepted as a flag to avoid leaking credentials in shell
history.`,
	Version: "1.0.0",
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().IntVar(&dataBits, "databits", 8, "Data bits (7 or 8)")
	rootCmd.PersistentFlags().StringVar(&parity, "parity", "none", "Parity (none, even or odd)")
	rootCmd.PersistentFlags().IntVar(&stopBits, "stopbits", 1, "Stop bits (1 or 2)")
	rootCmd.PersistentFlags().StringVar(&flowCtrl, "flow", "none", "Flow control (none or hardware)")
	rootCmd.PersistentFlags().IntVar(&rxBuf, "rxbuf", 1024, "Read buffer size in bytes")

	// WebSocket bridge flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Analysis flags
	rootCmd.PersistentFlags().StringVar(&aiModel, "model", "gpt-4o-mini", "Model name for transcript analysis")
	rootCmd.PersistentFlags().StringVar(&aiURL, "api-url", "", "OpenAI-compatible endpoint root (default https://api.openai.com)")
}

// lineConfigFromFlags builds the serial line configuration from the
// persistent flags.
func lineConfigFromFlags() (session.LineConfig, error) {
	cfg := session.DefaultLineConfig()
	cfg.BaudRate = baudRate
	cfg.DataBits = dataBits
	cfg.StopBits = stopBits
	cfg.ReadBufferSize = rxBuf

	p, err := session.ParseParity(parity)
	if err != nil {
		return cfg, err
	}
	cfg.Parity = p

	f, err := session.ParseFlowControl(flowCtrl)
	if err != nil {
		return cfg, err
	}
	cfg.FlowControl = f

	return cfg, cfg.Validate()
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
