// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package client implements the MQTT-SN client protocol engine: session
// setup, topic resolution, publish, subscribe and the keep-alive aware
// wait for replies.
//
// A Client drives exactly one transport from a single goroutine. Only
// Stats may be called from other goroutines.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"github.com/Thermoquad/mqttsn-tools/pkg/transport"
)

// Client is one MQTT-SN session over a transport
type Client struct {
	t   transport.Transport
	cfg Config
	log *slog.Logger
	now func() time.Time

	state    State
	session  SessionState
	awaiting mqttsn.MsgType
	resolved bool
	lastSend time.Time

	statsMu sync.Mutex
	stats   *Statistics
}

// New initializes t and returns a client owning it. Transport setup errors
// wrap transport.ErrTransportSetup.
func New(t transport.Transport, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if err := t.Initialize(); err != nil {
		return nil, err
	}

	c := &Client{
		t:   t,
		cfg: cfg,
		log: cfg.Logger.With("transport", t.String()),
		now: cfg.Now,
		state: State{
			Topics: make(map[uint16]string),
		},
		session: Idle,
	}
	c.lastSend = c.now()
	c.stats = NewStatistics(c.lastSend)
	return c, nil
}

// State returns a copy of the session's mutable state
func (c *Client) State() State {
	s := c.state
	s.Topics = make(map[uint16]string, len(c.state.Topics))
	for id, name := range c.state.Topics {
		s.Topics[id] = name
	}
	return s
}

// SessionState returns the current lifecycle state
func (c *Client) SessionState() SessionState {
	return c.session
}

// Status describes the lifecycle state, including the awaited ack
func (c *Client) Status() string {
	if c.session == AwaitingAck {
		return fmt.Sprintf("AwaitingAck(%s)", c.awaiting)
	}
	return c.session.String()
}

// Stats returns a snapshot of the session statistics. It is safe to call
// from any goroutine.
func (c *Client) Stats() Statistics {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats.Clone()
}

func (c *Client) updateStats(fn func(s *Statistics)) {
	c.statsMu.Lock()
	fn(c.stats)
	c.statsMu.Unlock()
}

func (c *Client) setState(s SessionState) {
	if s != c.session {
		c.log.Debug("session state", "from", c.Status(), "to", s)
	}
	c.session = s
}

// nextMessageID draws the next message id, skipping 0 on wrap
func (c *Client) nextMessageID() uint16 {
	c.state.MessageID++
	if c.state.MessageID == 0 {
		c.state.MessageID = 1
	}
	return c.state.MessageID
}

// send encodes p, wraps it when forwarder encapsulation is enabled and
// writes it to the transport
func (c *Client) send(p mqttsn.Packet) error {
	b, err := mqttsn.Encode(p)
	if err != nil {
		return err
	}
	if c.cfg.ForwarderEncapsulation {
		b, err = mqttsn.Wrap(b, 0, c.cfg.WirelessNodeID)
		if err != nil {
			return err
		}
	}

	c.log.Debug("sending packet", "type", p.Type(), "bytes", fmt.Sprintf("% X", b))
	if _, err := c.t.Send(b); err != nil {
		c.log.Error("send failed", "type", p.Type(), "error", err)
		return fmt.Errorf("send %s: %w", p.Type(), err)
	}

	now := c.now()
	c.lastSend = now
	c.updateStats(func(s *Statistics) { s.RecordSent(p.Type(), now) })
	return nil
}

// decode parses a received frame, unwrapping FRWDENCAP when enabled
func (c *Client) decode(b []byte) (mqttsn.Packet, error) {
	if !c.cfg.ForwarderEncapsulation {
		return mqttsn.Decode(b)
	}

	fw, err := mqttsn.Unwrap(b)
	if err != nil {
		if errors.Is(err, mqttsn.ErrNotEncapsulated) {
			return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		return nil, err
	}
	c.state.LastWirelessNodeID = fw.WirelessNodeID
	return mqttsn.Decode(fw.Inner)
}

// waitFor receives packets until one of the expected type satisfying match
// arrives. A PINGREQ is sent whenever the keep-alive interval has passed
// since the last transmission. Malformed and unexpected packets are logged
// and skipped. A DISCONNECT from the gateway ends the wait with a
// *DisconnectError and the overall timeout with ErrNoReply.
func (c *Client) waitFor(expected mqttsn.MsgType, match func(mqttsn.Packet) bool) (mqttsn.Packet, error) {
	return c.waitForContext(context.Background(), expected, match)
}

// waitForContext is waitFor that also stops when ctx is done. ctx is
// checked between receives, so cancellation takes up to one transport
// timeout.
func (c *Client) waitForContext(ctx context.Context, expected mqttsn.MsgType, match func(mqttsn.Packet) bool) (mqttsn.Packet, error) {
	start := c.now()
	c.log.Debug("waiting for packet", "type", expected)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if c.cfg.Timeout > 0 && c.now().Sub(start) > c.cfg.Timeout {
			c.updateStats(func(s *Statistics) { s.NoReplies++ })
			c.log.Warn("timeout reached while waiting for packet", "type", expected, "timeout", c.cfg.Timeout)
			return nil, fmt.Errorf("%w: waiting for %s", ErrNoReply, expected)
		}

		if c.cfg.KeepAlive > 0 && c.now().Sub(c.lastSend) >= c.cfg.KeepAlive {
			c.log.Debug("keep-alive interval elapsed, sending PINGREQ")
			if err := c.send(&mqttsn.Pingreq{}); err != nil {
				return nil, err
			}
		}

		b, err := c.t.Receive()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrClosed):
				return nil, err
			case errors.Is(err, transport.ErrTimeout):
				c.updateStats(func(s *Statistics) { s.ReceiveTimeouts++ })
				c.log.Debug("no data", "waiting", expected)
			case errors.Is(err, transport.ErrFrame):
				c.updateStats(func(s *Statistics) { s.Malformed++ })
				c.log.Warn("dropping invalid frame", "error", err)
			default:
				c.log.Warn("receive failed, retrying", "error", err)
			}
			continue
		}

		p, err := c.decode(b)
		if err != nil {
			if errors.Is(err, ErrProtocolViolation) {
				c.updateStats(func(s *Statistics) { s.Violations++ })
			} else {
				c.updateStats(func(s *Statistics) { s.Malformed++ })
			}
			c.log.Warn("dropping packet", "error", err, "bytes", fmt.Sprintf("% X", b))
			continue
		}

		now := c.now()
		c.updateStats(func(s *Statistics) { s.RecordReceived(p.Type(), now) })
		c.log.Debug("received packet", "type", p.Type(), "bytes", fmt.Sprintf("% X", b))

		if p.Type() == expected && (match == nil || match(p)) {
			return p, nil
		}

		switch v := p.(type) {
		case *mqttsn.Disconnect:
			c.log.Error("received DISCONNECT from gateway", "waiting", expected)
			c.setState(Closed)
			return nil, &DisconnectError{Waiting: expected, Packet: v}
		case *mqttsn.Register:
			if err := c.acceptRegister(v); err != nil {
				return nil, err
			}
			continue
		case *mqttsn.Pingreq:
			if err := c.send(&mqttsn.Pingresp{}); err != nil {
				return nil, err
			}
			continue
		case *mqttsn.Pingresp:
			c.log.Debug("keep-alive answered")
			continue
		}

		c.updateStats(func(s *Statistics) { s.Mismatches++ })
		if p.Type() == expected {
			c.log.Warn("ignoring reply for another request", "type", p.Type())
		} else {
			c.log.Warn("unexpected packet", "expected", expected, "received", p.Type())
		}
	}
}

// acceptRegister records a topic announced by the gateway and acknowledges
// it
func (c *Client) acceptRegister(p *mqttsn.Register) error {
	name := string(p.TopicName)
	c.state.Topics[p.TopicID] = name
	c.log.Info("gateway registered topic", "topic", name, "id", p.TopicID)
	return c.send(&mqttsn.Regack{
		TopicID:    p.TopicID,
		MessageID:  p.MessageID,
		ReturnCode: mqttsn.Accepted,
	})
}

// Close closes the transport
func (c *Client) Close() error {
	c.setState(Closed)
	return c.t.Close()
}
