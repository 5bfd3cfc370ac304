// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// SerialConfig configures a serial port stream transport
type SerialConfig struct {
	Port     string
	BaudRate int
	Parity   string // none, odd, even, mark or space
	DataBits int
	StopBits int

	// FlowControl is "none" or "hardware". Hardware flow control asserts
	// RTS and DTR when the port is opened.
	FlowControl string

	Timeout time.Duration
}

// ParseParity converts a parity name to its serial setting
func ParseParity(name string) (serial.Parity, error) {
	switch strings.ToLower(name) {
	case "", "none", "n":
		return serial.NoParity, nil
	case "odd", "o":
		return serial.OddParity, nil
	case "even", "e":
		return serial.EvenParity, nil
	case "mark", "m":
		return serial.MarkParity, nil
	case "space", "s":
		return serial.SpaceParity, nil
	}
	return serial.NoParity, fmt.Errorf("invalid parity: %s (valid: none, odd, even, mark, space)", name)
}

func parseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 0, 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	}
	return serial.OneStopBit, fmt.Errorf("invalid stop bits: %d (valid: 1, 2)", n)
}

func parseFlowControl(name string) (*serial.ModemOutputBits, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "hardware", "rtscts":
		return &serial.ModemOutputBits{RTS: true, DTR: true}, nil
	}
	return nil, fmt.Errorf("invalid flow control: %s (valid: none, hardware)", name)
}

// Mode builds the serial mode for the configuration
func (c SerialConfig) Mode() (*serial.Mode, error) {
	parity, err := ParseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	stopBits, err := parseStopBits(c.StopBits)
	if err != nil {
		return nil, err
	}
	status, err := parseFlowControl(c.FlowControl)
	if err != nil {
		return nil, err
	}

	dataBits := c.DataBits
	if dataBits == 0 {
		dataBits = 8
	}
	if dataBits < 5 || dataBits > 8 {
		return nil, fmt.Errorf("invalid data bits: %d (valid: 5-8)", dataBits)
	}

	return &serial.Mode{
		BaudRate:          c.BaudRate,
		DataBits:          dataBits,
		Parity:            parity,
		StopBits:          stopBits,
		InitialStatusBits: status,
	}, nil
}

// OpenSerial opens a serial port and returns it as a stream transport
func OpenSerial(cfg SerialConfig) (*Stream, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportSetup, err)
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open serial port %s: %v", ErrTransportSetup, cfg.Port, err)
	}

	s := NewStream(port, cfg.Timeout)
	s.description = fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, cfg.BaudRate)
	return s, nil
}

// ListSerialPorts returns the serial ports present on the system
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
