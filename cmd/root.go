// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mqttsn-tools/pkg/settings"
)

var (
	// Settings shared by every command. Environment values are the flag
	// defaults.
	cfg     *settings.Settings
	loadErr error

	debugLevel int
)

var rootCmd = &cobra.Command{
	Use:   "mqttsn",
	Short: "MQTT-SN client tools",
	Long: `mqttsn - Command line tools for talking to MQTT-SN gateways.

Publishes and subscribes over UDP, a serial port, or a WebSocket bridge that
forwards raw serial bytes, and includes tools for checking and debugging
MQTT-SN links.

Connection modes:
  UDP:       --host 127.0.0.1 --port 10000 [--cport 20000]
  Serial:    --serial /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Every flag defaults to the matching MQTTSN_* environment variable, read from
the environment or from a .env file in the working directory.

For WebSocket authentication, the password is read from the MQTTSN_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cfg, loadErr = settings.Load()
	if loadErr != nil {
		cfg = &settings.Settings{ClientID: settings.DefaultClientID()}
	}

	flags := rootCmd.PersistentFlags()

	// UDP gateway flags
	flags.StringVarP(&cfg.Host, "host", "H", cfg.Host, "MQTT-SN gateway host")
	flags.IntVarP(&cfg.Port, "port", "p", cfg.Port, "MQTT-SN gateway UDP port")
	flags.IntVar(&cfg.LocalPort, "cport", cfg.LocalPort, "Local UDP source port (0 picks one)")

	// Serial connection flags
	flags.StringVar(&cfg.SerialPort, "serial", cfg.SerialPort, "Serial port device")
	flags.IntVarP(&cfg.BaudRate, "baud", "b", cfg.BaudRate, "Baud rate (serial only)")
	flags.StringVar(&cfg.Parity, "parity", cfg.Parity, "Parity: none, odd, even, mark or space (serial only)")
	flags.IntVar(&cfg.DataBits, "data-bits", cfg.DataBits, "Data bits (serial only)")
	flags.IntVar(&cfg.StopBits, "stop-bits", cfg.StopBits, "Stop bits: 1 or 2 (serial only)")
	flags.StringVar(&cfg.FlowControl, "flow-control", cfg.FlowControl, "Flow control: none or hardware (serial only)")
	flags.DurationVar(&cfg.NetworkTimeout, "net-timeout", cfg.NetworkTimeout, "Timeout for a single receive")

	// WebSocket connection flags
	flags.StringVarP(&cfg.URL, "url", "u", cfg.URL, "WebSocket URL (ws:// or wss://)")
	flags.StringVar(&cfg.Username, "username", cfg.Username, "Username for HTTP Basic auth")
	flags.BoolVar(&cfg.SkipVerify, "no-ssl-verify", cfg.SkipVerify, "Skip TLS certificate verification (wss:// only)")

	// Session flags
	flags.StringVarP(&cfg.ClientID, "id", "i", cfg.ClientID, "Client id (at most 23 bytes)")
	flags.DurationVarP(&cfg.KeepAlive, "keep-alive", "k", cfg.KeepAlive, "Keep-alive interval")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Time to wait for a gateway reply (0 waits forever)")
	flags.IntVarP(&cfg.QoS, "qos", "q", cfg.QoS, "Quality of service: -1, 0 or 1")
	flags.BoolVar(&cfg.CleanSession, "clean", cfg.CleanSession, "Start a clean session")

	// Forwarder encapsulation flags
	flags.BoolVar(&cfg.ForwarderEncapsulation, "fe", cfg.ForwarderEncapsulation, "Wrap packets in forwarder encapsulation")
	flags.Uint16Var(&cfg.WirelessNodeID, "wlnid", cfg.WirelessNodeID, "Wireless node id for forwarder encapsulation (0 uses the process id)")

	flags.CountVarP(&debugLevel, "debug", "d", "Increase log verbosity (repeat for more)")
}

// setup checks the environment and installs the logger
func setup(cmd *cobra.Command, args []string) error {
	if loadErr != nil {
		return loadErr
	}
	slog.SetDefault(newLogger(debugLevel))
	return nil
}

// newLogger returns a text logger on stderr. Each -d lowers the level one
// step from Error down to Debug.
func newLogger(verbosity int) *slog.Logger {
	level := slog.LevelError
	switch {
	case verbosity >= 3:
		level = slog.LevelDebug
	case verbosity == 2:
		level = slog.LevelInfo
	case verbosity == 1:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
