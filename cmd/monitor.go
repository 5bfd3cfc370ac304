// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mqttsn-tools/pkg/client"
	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"github.com/Thermoquad/mqttsn-tools/pkg/transport"
)

var (
	monitorHex           bool
	monitorStatsInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display MQTT-SN frames on a serial link in human-readable format",
	Long: `Continuously decode and display MQTT-SN packets as they arrive on a serial
port or WebSocket link, without taking part in the session.

Each packet is shown with a timestamp, message type and decoded fields.
Forwarder encapsulated packets show the wireless node id and the inner
packet. Frames that do not decode are reported and counted.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVarP(&monitorHex, "hex", "x", false, "Also print the raw bytes of each frame")
	monitorCmd.Flags().DurationVar(&monitorStatsInterval, "stats-interval", 0, "Print statistics at this interval (0 disables)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	stream, err := OpenStream()
	if err != nil {
		return &exitError{code: exitConnection, err: err}
	}
	defer stream.Close()

	fmt.Printf("MQTT-SN - Frame Monitor\n")
	fmt.Printf("Connection: %s\n", stream)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := client.NewStatistics(time.Now())
	err = monitorFrames(ctx, stream, os.Stdout, stats, monitorHex, monitorStatsInterval)

	stats.LastUpdateTime = time.Now()
	fmt.Print("\n" + stats.String())
	if errors.Is(err, transport.ErrClosed) {
		slog.Info("connection closed")
		return nil
	}
	return err
}

// monitorFrames prints every frame received on t until ctx is done or t
// is closed
func monitorFrames(ctx context.Context, t transport.Transport, w io.Writer, stats *client.Statistics, showHex bool, statsInterval time.Duration) error {
	lastStats := time.Now()

	for ctx.Err() == nil {
		if statsInterval > 0 && time.Since(lastStats) >= statsInterval {
			stats.LastUpdateTime = time.Now()
			fmt.Fprint(w, stats.String())
			lastStats = time.Now()
		}

		frame, err := t.Receive()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				stats.ReceiveTimeouts++
				continue
			case errors.Is(err, transport.ErrFrame):
				stats.Malformed++
				fmt.Fprintf(w, "[ERROR] %v\n", err)
				continue
			}
			return err
		}

		now := time.Now()
		timestamp := now.Format("15:04:05.000")
		p, err := mqttsn.Decode(frame)
		if err != nil {
			stats.Malformed++
			fmt.Fprintf(w, "[%s] [ERROR] %v\n", timestamp, err)
			fmt.Fprint(w, mqttsn.FormatHex(frame))
			continue
		}

		stats.RecordReceived(p.Type(), now)
		fmt.Fprintf(w, "[%s] %s", timestamp, mqttsn.FormatPacket(p))
		if showHex {
			fmt.Fprintf(w, "  Raw: % X\n", frame)
		}
	}
	return nil
}
