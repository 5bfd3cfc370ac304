// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package settings loads session settings from the environment. Command
// line flags use these values as their defaults.
package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Thermoquad/mqttsn-tools/pkg/client"
	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"github.com/Thermoquad/mqttsn-tools/pkg/transport"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "MQTTSN_"

// ClientIDPrefix starts every generated client id
const ClientIDPrefix = "mqttsn-go-"

// ErrInvalid is the parent of all settings validation errors
var ErrInvalid = errors.New("invalid settings")

// Settings holds everything needed to open a transport and run a session
type Settings struct {
	// UDP gateway
	Host      string `env:"HOST"       envDefault:"127.0.0.1"`
	Port      int    `env:"PORT"       envDefault:"10000"`
	LocalPort int    `env:"LOCAL_PORT" envDefault:"0"`

	// Serial link
	SerialPort     string        `env:"SERIAL_PORT"`
	BaudRate       int           `env:"BAUD"         envDefault:"9600"`
	Parity         string        `env:"PARITY"       envDefault:"none"`
	DataBits       int           `env:"DATA_BITS"    envDefault:"8"`
	StopBits       int           `env:"STOP_BITS"    envDefault:"1"`
	FlowControl    string        `env:"FLOW_CONTROL" envDefault:"none"`
	NetworkTimeout time.Duration `env:"NET_TIMEOUT"  envDefault:"1s"`

	// WebSocket bridge
	URL        string `env:"URL"`
	Username   string `env:"USERNAME"`
	Password   string `env:"PASSWORD"`
	SkipVerify bool   `env:"NO_SSL_VERIFY"`

	// Session
	ClientID      string        `env:"CLIENT_ID"`
	KeepAlive     time.Duration `env:"KEEP_ALIVE"     envDefault:"3s"`
	Timeout       time.Duration `env:"TIMEOUT"        envDefault:"10s"`
	QoS           int           `env:"QOS"            envDefault:"0"`
	Retain        bool          `env:"RETAIN"`
	CleanSession  bool          `env:"CLEAN_SESSION"  envDefault:"true"`
	Topic         string        `env:"TOPIC"`
	TopicID       uint16        `env:"TOPIC_ID"`
	SleepDuration time.Duration `env:"SLEEP"`
	SkipSleepAck  bool          `env:"NO_SLEEP_ACK"`

	// Forwarder encapsulation
	ForwarderEncapsulation bool   `env:"FE"`
	WirelessNodeID         uint16 `env:"WLNID"`
}

// Load reads an optional .env file and the MQTTSN_* environment variables.
// A missing .env file is not an error.
func Load(files ...string) (*Settings, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	s := &Settings{}
	if err := env.ParseWithOptions(s, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if s.ClientID == "" {
		s.ClientID = DefaultClientID()
	}
	return s, nil
}

// DefaultClientID returns a random client id that fits the 23 byte limit
func DefaultClientID() string {
	id := ClientIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > mqttsn.MaxClientIDLength {
		id = id[:mqttsn.MaxClientIDLength]
	}
	return id
}

// Validate checks the settings that depend on each other, including the
// publish topic
func (s *Settings) Validate() error {
	if err := s.ValidateSession(); err != nil {
		return err
	}
	if s.Topic != "" && s.TopicID != 0 {
		return fmt.Errorf("%w: topic name and topic id are mutually exclusive", ErrInvalid)
	}
	if len(s.Topic) > mqttsn.MaxTopicLength {
		return fmt.Errorf("%w: topic longer than %d bytes", ErrInvalid, mqttsn.MaxTopicLength)
	}
	if s.QoS == -1 && s.TopicID == 0 && !mqttsn.IsShortTopicName(s.Topic) {
		return fmt.Errorf("%w: QoS -1 needs a predefined topic id or a two character short topic", ErrInvalid)
	}
	return nil
}

// ValidateSession checks everything except the publish topic
func (s *Settings) ValidateSession() error {
	if _, err := mqttsn.ParseQoS(s.QoS); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if s.QoS == 2 {
		return fmt.Errorf("%w: QoS 2 is not supported", ErrInvalid)
	}
	if len(s.ClientID) > mqttsn.MaxClientIDLength {
		return fmt.Errorf("%w: client id longer than %d bytes", ErrInvalid, mqttsn.MaxClientIDLength)
	}
	if s.SerialPort != "" && s.URL != "" {
		return fmt.Errorf("%w: serial port and WebSocket URL are mutually exclusive", ErrInvalid)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, s.Port)
	}
	if s.LocalPort < 0 || s.LocalPort > 65535 {
		return fmt.Errorf("%w: local port %d out of range", ErrInvalid, s.LocalPort)
	}
	if s.Timeout < 0 || s.KeepAlive < 0 || s.NetworkTimeout < 0 || s.SleepDuration < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}
	return nil
}

// GatewayAddr returns the UDP gateway address as host:port
func (s *Settings) GatewayAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WirelessNodeIDBytes returns the node id as two big-endian bytes. 0
// selects the low 16 bits of the process id.
func (s *Settings) WirelessNodeIDBytes() []byte {
	id := s.WirelessNodeID
	if id == 0 {
		id = uint16(os.Getpid())
	}
	return binary.BigEndian.AppendUint16(nil, id)
}

// Transport builds the transport selected by the settings: a serial port,
// a WebSocket bridge or, by default, a UDP gateway
func (s *Settings) Transport() (transport.Transport, error) {
	if s.SerialPort == "" && s.URL == "" {
		return s.Datagram(), nil
	}
	st, err := s.Stream()
	if err != nil {
		return nil, err
	}
	return st, nil
}

// HasStream reports whether a serial port or WebSocket URL is configured
func (s *Settings) HasStream() bool {
	return s.SerialPort != "" || s.URL != ""
}

// Stream opens the serial port or WebSocket bridge
func (s *Settings) Stream() (*transport.Stream, error) {
	switch {
	case s.SerialPort != "":
		return transport.OpenSerial(s.SerialConfig())
	case s.URL != "":
		return transport.OpenWebSocket(transport.WebSocketConfig{
			URL:        s.URL,
			Username:   s.Username,
			Password:   s.Password,
			SkipVerify: s.SkipVerify,
			Timeout:    s.NetworkTimeout,
		})
	}
	return nil, fmt.Errorf("%w: no serial port or WebSocket URL", ErrInvalid)
}

// Datagram returns the UDP gateway transport, not yet initialized
func (s *Settings) Datagram() *transport.Datagram {
	local := ""
	if s.LocalPort != 0 {
		local = net.JoinHostPort("", strconv.Itoa(s.LocalPort))
	}
	return transport.NewDatagram(transport.DatagramConfig{
		LocalAddr:  local,
		RemoteAddr: s.GatewayAddr(),
		Timeout:    s.NetworkTimeout,
	})
}

// SerialConfig returns the serial port part of the settings
func (s *Settings) SerialConfig() transport.SerialConfig {
	return transport.SerialConfig{
		Port:        s.SerialPort,
		BaudRate:    s.BaudRate,
		Parity:      s.Parity,
		DataBits:    s.DataBits,
		StopBits:    s.StopBits,
		FlowControl: s.FlowControl,
		Timeout:     s.NetworkTimeout,
	}
}

// ClientConfig returns the session part of the settings
func (s *Settings) ClientConfig() client.Config {
	cfg := client.Config{
		ClientID:               s.ClientID,
		KeepAlive:              s.KeepAlive,
		Timeout:                s.Timeout,
		QoS:                    mqttsn.QoS(s.QoS),
		Retain:                 s.Retain,
		CleanSession:           s.CleanSession,
		Topic:                  s.Topic,
		TopicID:                s.TopicID,
		SleepDuration:          s.SleepDuration,
		SkipSleepAck:           s.SkipSleepAck,
		ForwarderEncapsulation: s.ForwarderEncapsulation,
	}
	if s.ForwarderEncapsulation {
		cfg.WirelessNodeID = s.WirelessNodeIDBytes()
	}
	return cfg
}
