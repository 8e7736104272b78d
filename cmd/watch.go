// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sextant/pkg/session"
	"github.com/Thermoquad/sextant/pkg/transcript"
)

var (
	watchHex    bool
	watchOutput string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream the session transcript to stdout",
	Long: `Connect and continuously print transcript entries as they arrive.

Each line carries a timestamp, a direction marker (<- received,
-> transmitted, -- info, !! error) and the payload. With --hex the
payload is shown as a hex dump instead of escaped text.

Supports both serial and WebSocket connections. Press Ctrl+C to
disconnect.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchHex, "hex", false, "Show payloads as hex dumps")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Also append rendered lines to this file")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := lineConfigFromFlags()
	if err != nil {
		return err
	}

	t, err := OpenTransport()
	if err != nil {
		return err
	}

	sess := session.New()
	if err := sess.Connect(t, cfg); err != nil {
		return err
	}

	var out *os.File
	if watchOutput != "" {
		out, err = os.OpenFile(watchOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			sess.Disconnect()
			return fmt.Errorf("failed to open output file: %w", err)
		}
		defer out.Close()
	}

	fmt.Printf("Sextant - Session Log\n")
	fmt.Printf("Connection: %s (%s)\n", t.Description(), cfg)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var lastID uint64
	printNew := func() {
		for _, e := range sess.Log().Snapshot() {
			if e.ID <= lastID {
				continue
			}
			lastID = e.ID
			line := transcript.RenderLine(e, watchHex)
			fmt.Println(line)
			if out != nil {
				fmt.Fprintln(out, line)
			}
		}
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printNew()
		case <-sigCh:
			sess.Disconnect()
		case <-sess.Done():
			printNew()
			counters := sess.Log().Counters()
			fmt.Printf("\nSession closed: %d bytes received, %d bytes transmitted\n",
				counters.RxBytes, counters.TxBytes)
			return nil
		}
	}
}
