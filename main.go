// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// mqttsn - MQTT-SN Client Tools
//
// A CLI tool for publishing, subscribing and debugging MQTT-SN sessions
// over UDP, serial ports and WebSocket bridges.

package main

import (
	"os"

	"github.com/Thermoquad/mqttsn-tools/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
