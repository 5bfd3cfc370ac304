// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mqttsn-tools/pkg/client"
)

var (
	pingCount    int
	pingInterval time.Duration
	pingStats    bool
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test a gateway by sending PINGREQ",
	Long: `Connect to an MQTT-SN gateway, send PINGREQ packets and wait for PINGRESP.

This command tests bidirectional communication with the gateway over any
transport. Each ping is bounded by --timeout.

This is useful for verifying:
  - The gateway accepts the connection
  - Serial or WebSocket framing works in both directions
  - Forwarder encapsulation settings match the gateway

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between pings")
	pingCmd.Flags().BoolVar(&pingStats, "stats", false, "Print packet statistics after the summary")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	if cfg.QoS < 0 {
		return fmt.Errorf("QoS -1 has no session to ping")
	}

	c, err := openClient()
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("MQTT-SN - Gateway Ping Test\n")
	fmt.Printf("Timeout: %v per ping\n", cfg.Timeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	if err := c.Connect(); err != nil {
		return &exitError{code: exitConnection, err: err}
	}

	successCount := 0
	failCount := 0
	var total, fastest, slowest time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		rtt, err := c.Ping()
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++

			var disc *client.DisconnectError
			if errors.As(err, &disc) {
				break
			}
		} else {
			fmt.Printf("PINGRESP from gateway, rtt=%v\n", rtt.Round(time.Microsecond))
			successCount++
			total += rtt
			if fastest == 0 || rtt < fastest {
				fastest = rtt
			}
			if rtt > slowest {
				slowest = rtt
			}
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	if c.SessionState() != client.Closed {
		if err := c.Disconnect(); err != nil {
			fmt.Printf("Disconnect failed: %v\n", err)
		}
	}

	// Summary
	sent := successCount + failCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		sent, successCount, float64(failCount)/float64(sent)*100)
	if successCount > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			fastest.Round(time.Microsecond),
			(total / time.Duration(successCount)).Round(time.Microsecond),
			slowest.Round(time.Microsecond))
	}
	if pingStats {
		stats := c.Stats()
		fmt.Print(stats.String())
	}

	if failCount > 0 {
		return &exitError{code: exitFailure, err: fmt.Errorf("%d of %d pings failed", failCount, sent)}
	}
	return nil
}
