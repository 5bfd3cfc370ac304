// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"github.com/Thermoquad/mqttsn-tools/pkg/transport"
)

var (
	// ErrNoReply is returned when the overall timeout expires before the
	// expected reply arrives. It wraps transport.ErrTimeout.
	ErrNoReply = fmt.Errorf("no reply from gateway: %w", transport.ErrTimeout)

	// ErrProtocolViolation marks inbound packets that break the session's
	// framing rules, such as a bare packet while forwarder encapsulation is
	// enabled. Such packets are dropped.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnexpectedDisconnect is the parent of DisconnectError
	ErrUnexpectedDisconnect = errors.New("gateway disconnected")

	// ErrRejected is the parent of RejectedError
	ErrRejected = errors.New("rejected by gateway")

	// ErrNoTopic is returned when neither a topic name nor a topic id is
	// configured
	ErrNoTopic = errors.New("no topic configured")

	// ErrUnsupportedQoS is returned for QoS levels the engine cannot drive
	ErrUnsupportedQoS = errors.New("unsupported QoS level")
)

// DisconnectError is returned when the gateway sends DISCONNECT while the
// client waits for another reply. The session is over.
type DisconnectError struct {
	Waiting mqttsn.MsgType
	Packet  *mqttsn.Disconnect
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("gateway sent DISCONNECT while waiting for %s", e.Waiting)
}

// Unwrap lets errors.Is match ErrUnexpectedDisconnect
func (e *DisconnectError) Unwrap() error {
	return ErrUnexpectedDisconnect
}

// RejectedError reports a non-accepted return code in an acknowledgement
type RejectedError struct {
	Op         mqttsn.MsgType
	ReturnCode mqttsn.ReturnCode
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s (0x%02X)", e.Op, e.ReturnCode, byte(e.ReturnCode))
}

// Unwrap lets errors.Is match ErrRejected
func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

func checkReturnCode(op mqttsn.MsgType, rc mqttsn.ReturnCode) error {
	if rc != mqttsn.Accepted {
		return &RejectedError{Op: op, ReturnCode: rc}
	}
	return nil
}
