// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"log/slog"
	"time"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
)

// Config holds the per-session settings. It is not modified by the client.
type Config struct {
	// ClientID is sent in CONNECT, at most 23 bytes
	ClientID string

	// KeepAlive is announced in CONNECT and is the idle interval after
	// which a PINGREQ is sent while waiting. 0 disables pings.
	KeepAlive time.Duration

	// Timeout bounds every wait for a reply. 0 waits forever.
	Timeout time.Duration

	QoS          mqttsn.QoS
	Retain       bool
	CleanSession bool

	// Topic is the topic name to publish to; TopicID, when non-zero, is a
	// predefined topic id used instead
	Topic   string
	TopicID uint16

	// SleepDuration is sent in DISCONNECT to ask the gateway to keep the
	// session while the client sleeps. 0 sends a plain DISCONNECT.
	SleepDuration time.Duration

	// SkipSleepAck skips waiting for the gateway's DISCONNECT after a
	// sleeping disconnect
	SkipSleepAck bool

	// ForwarderEncapsulation wraps every packet in FRWDENCAP with
	// WirelessNodeID and requires every inbound packet to be wrapped
	ForwarderEncapsulation bool
	WirelessNodeID         []byte

	Logger *slog.Logger

	// Now is the clock used for keep-alive and timeout accounting
	Now func() time.Time
}

// State is the mutable part of a session
type State struct {
	// MessageID is the last message id issued
	MessageID uint16

	// TopicID is the resolved id for Config.Topic or Config.TopicID
	TopicID mqttsn.TopicID

	// LastWirelessNodeID is the node id of the last FRWDENCAP received
	LastWirelessNodeID []byte

	// Topics maps topic ids learned from REGACK, SUBACK and gateway
	// REGISTER to topic names
	Topics map[uint16]string
}

// SessionState is the protocol engine's position in the session lifecycle
type SessionState int

// Session states
const (
	Idle SessionState = iota
	AwaitingConnack
	Connected
	AwaitingRegack
	Ready
	AwaitingAck
	Disconnecting
	Closed
)

var sessionStateNames = map[SessionState]string{
	Idle:            "Idle",
	AwaitingConnack: "AwaitingConnack",
	Connected:       "Connected",
	AwaitingRegack:  "AwaitingRegack",
	Ready:           "Ready",
	AwaitingAck:     "AwaitingAck",
	Disconnecting:   "Disconnecting",
	Closed:          "Closed",
}

func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return "Unknown"
}
