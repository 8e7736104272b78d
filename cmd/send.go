// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sextant/pkg/session"
	"github.com/Thermoquad/sextant/pkg/transcript"
)

var (
	sendHex  bool
	sendCRLF bool
	sendFile string
	sendWait time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [payload]",
	Short: "Send a payload and collect the response",
	Long: `Connect, send one payload, wait for the response window to elapse,
and print everything received.

The payload is sent as UTF-8 text by default; with --hex it is parsed as
hex digits (whitespace and punctuation between digits is ignored, an odd
digit count is an error). With --file the named file's raw bytes are sent
unmodified instead of a payload argument.

Examples:
  sextant send -p /dev/ttyUSB0 --crlf "AT"
  sextant send -p /dev/ttyUSB0 --hex "01 03 00 00 00 01" --wait 500ms
  sextant send -p /dev/ttyUSB0 --file firmware.bin`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "Parse the payload as hex digits")
	sendCmd.Flags().BoolVar(&sendCRLF, "crlf", false, "Append CRLF to text payloads")
	sendCmd.Flags().StringVar(&sendFile, "file", "", "Send this file's raw bytes instead of a payload argument")
	sendCmd.Flags().DurationVar(&sendWait, "wait", time.Second, "How long to collect the response")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendFile == "" && len(args) == 0 {
		return fmt.Errorf("either a payload argument or --file must be given")
	}
	if sendFile != "" && len(args) > 0 {
		return fmt.Errorf("--file and a payload argument are mutually exclusive")
	}

	cfg, err := lineConfigFromFlags()
	if err != nil {
		return err
	}

	t, err := OpenTransport()
	if err != nil {
		return err
	}

	sess := session.New()
	sess.SetAppendCRLF(sendCRLF)
	if err := sess.Connect(t, cfg); err != nil {
		return err
	}
	defer sess.Disconnect()

	if sendFile != "" {
		raw, err := os.ReadFile(sendFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", sendFile, err)
		}
		if err := sess.SendBytes(raw); err != nil {
			return err
		}
	} else {
		if err := sess.Send(args[0], sendHex); err != nil {
			return err
		}
	}

	// Collect the response window, then dump everything received.
	select {
	case <-time.After(sendWait):
	case <-sess.Done():
	}

	received := sess.Log().Filter(func(e transcript.Entry) bool {
		return e.Kind == transcript.KindReceived
	})
	if len(received) > 0 {
		fmt.Println(strings.TrimRight(transcript.Render(received, sendHex), "\n"))
	}

	counters := sess.Log().Counters()
	fmt.Fprintf(os.Stderr, "%d bytes transmitted, %d bytes received\n",
		counters.TxBytes, counters.RxBytes)
	return nil
}
