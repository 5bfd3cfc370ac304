// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"github.com/Thermoquad/mqttsn-tools/pkg/transport"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test a serial link by waiting for a valid MQTT-SN frame",
	Long: `Wait for a valid MQTT-SN frame on a serial port or WebSocket link until timeout.

This command listens passively and ignores bytes that do not form a
complete, decodable frame. It is useful for checking baud rate, framing
and WebSocket bridges before running a session.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().DurationVar(&probeTimeout, "wait", 10*time.Second, "Time to wait for a frame")
}

func runProbe(cmd *cobra.Command, args []string) error {
	stream, err := OpenStream()
	if err != nil {
		return &exitError{code: exitConnection, err: err}
	}
	defer stream.Close()

	fmt.Printf("MQTT-SN - Link Probe\n")
	fmt.Printf("Connection: %s\n", stream)
	fmt.Printf("Timeout: %v\n", probeTimeout)
	fmt.Printf("Waiting for a valid MQTT-SN frame...\n\n")

	p, frame, skipped, err := waitForFrame(stream, probeTimeout)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return &exitError{code: exitFailure, err: fmt.Errorf("no valid frame received within %v", probeTimeout)}
		}
		return &exitError{code: exitConnection, err: err}
	}

	if skipped > 0 {
		fmt.Printf("(skipped %d invalid frames before sync)\n", skipped)
	}
	fmt.Printf("SUCCESS: Received valid frame\n")
	fmt.Printf("  Type: %s (0x%02X)\n", p.Type(), byte(p.Type()))
	fmt.Printf("  Length: %d bytes\n", len(frame))
	fmt.Printf("  Bytes: % X\n", frame)
	return nil
}

// waitForFrame receives until a frame decodes or timeout passes. It
// returns the packet, its bytes and the number of frames dropped before it.
func waitForFrame(t transport.Transport, timeout time.Duration) (mqttsn.Packet, []byte, int, error) {
	deadline := time.Now().Add(timeout)
	skipped := 0

	for time.Now().Before(deadline) {
		frame, err := t.Receive()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				continue
			case errors.Is(err, transport.ErrFrame):
				skipped++
				continue
			}
			return nil, nil, skipped, err
		}

		p, err := mqttsn.Decode(frame)
		if err != nil {
			skipped++
			continue
		}
		return p, frame, skipped, nil
	}
	return nil, nil, skipped, transport.ErrTimeout
}
