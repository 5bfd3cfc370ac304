// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport moves MQTT-SN frames between a client and a gateway.
//
// Two backends are provided: Datagram sends one packet per UDP datagram and
// Stream reassembles packets from a byte stream such as a serial port or a
// WebSocket bridge that forwards raw serial bytes.
package transport

import (
	"errors"
	"time"
)

// Transport is the capability a protocol engine needs to exchange frames.
// A Transport is owned by a single engine and is not safe for concurrent
// use.
type Transport interface {
	// Initialize performs connection setup. Errors wrap ErrTransportSetup.
	Initialize() error

	// Send writes one complete frame
	Send(b []byte) (int, error)

	// Receive returns one complete frame, blocking for at most Timeout.
	// When no frame arrives in time the error wraps ErrTimeout.
	Receive() ([]byte, error)

	// Timeout is the per-receive timeout; 0 blocks until data arrives
	Timeout() time.Duration

	Close() error

	// String describes the endpoint for log output
	String() string
}

var (
	// ErrTransportSetup is returned when the endpoint cannot be opened
	ErrTransportSetup = errors.New("transport setup failed")

	// ErrTimeout is returned when no complete frame arrived in time
	ErrTimeout = errors.New("receive timed out")

	// ErrClosed is returned after Close or when the peer went away
	ErrClosed = errors.New("transport closed")

	// ErrFrame is returned by stream transports for a length byte that
	// cannot start a frame (0, or 1 for the unsupported extended form)
	ErrFrame = errors.New("invalid frame")
)

// maxDatagram is the receive buffer size for one datagram
const maxDatagram = 1024
