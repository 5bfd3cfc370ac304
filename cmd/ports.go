// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mqttsn-tools/pkg/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that can be passed to --serial",
	Long: `List the serial ports present on this machine.

Exit codes:
  0 - At least one port found
  1 - No ports found
  2 - Ports could not be enumerated`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		return &exitError{code: exitConnection, err: err}
	}
	if len(ports) == 0 {
		return &exitError{code: exitFailure, err: fmt.Errorf("no serial ports found")}
	}

	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
