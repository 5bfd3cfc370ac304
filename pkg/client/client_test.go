// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"github.com/Thermoquad/mqttsn-tools/pkg/transport"
)

// fakeClock is advanced by fakeTransport on every Receive
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

// fakeTransport delivers queued frames and lets a gateway script react to
// sent packets. Every Receive advances the clock by step.
type fakeTransport struct {
	clock   *fakeClock
	step    time.Duration
	inbox   [][]byte
	sent    [][]byte
	gateway func(p mqttsn.Packet) []mqttsn.Packet
	setup   error
	closed  bool
}

func (f *fakeTransport) Initialize() error { return f.setup }

func (f *fakeTransport) Send(b []byte) (int, error) {
	if f.closed {
		return 0, transport.ErrClosed
	}
	f.sent = append(f.sent, append([]byte(nil), b...))
	if f.gateway != nil {
		p, err := mqttsn.Decode(b)
		if err != nil {
			return 0, err
		}
		for _, reply := range f.gateway(p) {
			f.queue(reply)
		}
	}
	return len(b), nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	if f.closed {
		return nil, transport.ErrClosed
	}
	f.clock.t = f.clock.t.Add(f.step)
	if len(f.inbox) == 0 {
		return nil, transport.ErrTimeout
	}
	b := f.inbox[0]
	f.inbox = f.inbox[1:]
	return b, nil
}

func (f *fakeTransport) Timeout() time.Duration { return f.step }
func (f *fakeTransport) Close() error           { f.closed = true; return nil }
func (f *fakeTransport) String() string         { return "fake" }

func (f *fakeTransport) queue(p mqttsn.Packet) {
	b, err := mqttsn.Encode(p)
	if err != nil {
		panic(err)
	}
	f.inbox = append(f.inbox, b)
}

// sentTypes decodes every sent frame and returns the packet types
func (f *fakeTransport) sentTypes(t *testing.T) []mqttsn.MsgType {
	t.Helper()
	var types []mqttsn.MsgType
	for _, b := range f.sent {
		p, err := mqttsn.Decode(b)
		if err != nil {
			t.Fatalf("client sent undecodable bytes % X: %v", b, err)
		}
		types = append(types, p.Type())
	}
	return types
}

func (f *fakeTransport) count(t *testing.T, mt mqttsn.MsgType) int {
	n := 0
	for _, st := range f.sentTypes(t) {
		if st == mt {
			n++
		}
	}
	return n
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeTransport) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	ft := &fakeTransport{clock: clock, step: 100 * time.Millisecond}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger
	}
	cfg.Now = clock.Now
	c, err := New(ft, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, ft
}

// gatewayScript answers like a well-behaved gateway
func gatewayScript(p mqttsn.Packet) []mqttsn.Packet {
	switch v := p.(type) {
	case *mqttsn.Connect:
		return []mqttsn.Packet{&mqttsn.Connack{ReturnCode: mqttsn.Accepted}}
	case *mqttsn.Register:
		return []mqttsn.Packet{&mqttsn.Regack{TopicID: 42, MessageID: v.MessageID}}
	case *mqttsn.Publish:
		if v.Flags.QoS == mqttsn.QoS1 {
			return []mqttsn.Packet{&mqttsn.Puback{TopicID: v.TopicID, MessageID: v.MessageID}}
		}
	case *mqttsn.Subscribe:
		id := uint16(7)
		if v.Flags.TopicIDType != mqttsn.TopicNormal {
			id = v.TopicID
		}
		return []mqttsn.Packet{&mqttsn.Suback{Flags: v.Flags, TopicID: id, MessageID: v.MessageID}}
	case *mqttsn.Pingreq:
		return []mqttsn.Packet{&mqttsn.Pingresp{}}
	case *mqttsn.Disconnect:
		return []mqttsn.Packet{&mqttsn.Disconnect{}}
	}
	return nil
}

// ============================================================
// Wait Loop Tests
// ============================================================

func TestWaitFor_PingsWhileWaiting(t *testing.T) {
	c, ft := newTestClient(t, Config{KeepAlive: time.Second, Timeout: time.Minute})
	ft.step = 2 * time.Second

	ft.queue(&mqttsn.Pingresp{})
	ft.queue(&mqttsn.Puback{TopicID: 1, MessageID: 1})
	ft.queue(&mqttsn.Connack{ReturnCode: mqttsn.Accepted})

	p, err := c.waitFor(mqttsn.MsgConnack, nil)
	if err != nil {
		t.Fatalf("waitFor failed: %v", err)
	}
	if p.Type() != mqttsn.MsgConnack {
		t.Errorf("got %s", p.Type())
	}
	if n := ft.count(t, mqttsn.MsgPingreq); n < 1 {
		t.Errorf("expected at least one PINGREQ, got %d", n)
	}
	stats := c.Stats()
	if stats.PingsSent < 1 || stats.Mismatches != 1 {
		t.Errorf("unexpected stats: pings=%d mismatches=%d", stats.PingsSent, stats.Mismatches)
	}
}

func TestWaitFor_NoReply(t *testing.T) {
	c, ft := newTestClient(t, Config{KeepAlive: 3 * time.Second, Timeout: 10 * time.Second})
	ft.step = time.Second

	_, err := c.waitFor(mqttsn.MsgConnack, nil)
	if !errors.Is(err, ErrNoReply) || !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expected ErrNoReply, got %v", err)
	}
	// ~11 receive attempts with a 3s keep-alive
	if n := ft.count(t, mqttsn.MsgPingreq); n < 2 {
		t.Errorf("expected repeated PINGREQs, got %d", n)
	}
	if c.Stats().NoReplies != 1 {
		t.Error("no-reply not counted")
	}
}

func TestWaitFor_NoReplyDespiteTraffic(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: 5 * time.Second})
	ft.step = time.Second
	for i := 0; i < 20; i++ {
		ft.queue(&mqttsn.Pingresp{})
	}

	_, err := c.waitFor(mqttsn.MsgConnack, nil)
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("expected ErrNoReply, got %v", err)
	}
}

func TestWaitFor_SkipsMalformed(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.inbox = [][]byte{
		{9, 0x0C, 0x00},       // truncated
		{1, 0x00, 0x05, 0x05}, // extended length
		{3, 0x01, 0x00},       // SEARCHGW, unsupported
		{2, 0xFE, 2, 0},       // envelope length inside its header
	}
	ft.queue(&mqttsn.Connack{})

	if _, err := c.waitFor(mqttsn.MsgConnack, nil); err != nil {
		t.Fatalf("waitFor failed: %v", err)
	}
	if c.Stats().Malformed != 4 {
		t.Errorf("Malformed = %d, want 4", c.Stats().Malformed)
	}
}

func TestWaitFor_GatewayDisconnect(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.queue(&mqttsn.Disconnect{})

	_, err := c.waitFor(mqttsn.MsgPuback, nil)
	var derr *DisconnectError
	if !errors.As(err, &derr) || !errors.Is(err, ErrUnexpectedDisconnect) {
		t.Fatalf("expected DisconnectError, got %v", err)
	}
	if derr.Waiting != mqttsn.MsgPuback {
		t.Errorf("Waiting = %s", derr.Waiting)
	}
	if c.SessionState() != Closed {
		t.Errorf("state = %s, want Closed", c.SessionState())
	}
}

func TestWaitFor_MatchesMessageID(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.queue(&mqttsn.Puback{MessageID: 4})
	ft.queue(&mqttsn.Puback{MessageID: 5})

	p, err := c.waitFor(mqttsn.MsgPuback, func(p mqttsn.Packet) bool {
		return p.(*mqttsn.Puback).MessageID == 5
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.(*mqttsn.Puback).MessageID != 5 {
		t.Error("returned the wrong PUBACK")
	}
}

func TestWaitFor_TransportClosed(t *testing.T) {
	c, ft := newTestClient(t, Config{})
	ft.closed = true
	if _, err := c.waitFor(mqttsn.MsgConnack, nil); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestWaitFor_AnswersGatewayPing(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.queue(&mqttsn.Pingreq{})
	ft.queue(&mqttsn.Connack{})

	if _, err := c.waitFor(mqttsn.MsgConnack, nil); err != nil {
		t.Fatal(err)
	}
	if ft.count(t, mqttsn.MsgPingresp) != 1 {
		t.Error("gateway PINGREQ not answered")
	}
}

// ============================================================
// Forwarder Encapsulation Tests
// ============================================================

func TestForwarderEncapsulation(t *testing.T) {
	wnid := []byte{0x01, 0x02}
	c, ft := newTestClient(t, Config{
		ClientID:               "fe",
		Timeout:                time.Minute,
		ForwarderEncapsulation: true,
		WirelessNodeID:         wnid,
	})

	// Bare packets are violations and dropped
	ft.queue(&mqttsn.Connack{ReturnCode: mqttsn.RejectedCongestion})
	inner, _ := mqttsn.Encode(&mqttsn.Connack{})
	wrapped, _ := mqttsn.Wrap(inner, 0, []byte{0xAB, 0xCD})
	ft.inbox = append(ft.inbox, wrapped)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	fw, err := mqttsn.Unwrap(ft.sent[0])
	if err != nil {
		t.Fatalf("sent packet not wrapped: %v", err)
	}
	if !bytes.Equal(fw.WirelessNodeID, wnid) {
		t.Errorf("sent node id % X, want % X", fw.WirelessNodeID, wnid)
	}
	p, err := mqttsn.Decode(fw.Inner)
	if err != nil || p.Type() != mqttsn.MsgConnect {
		t.Errorf("inner packet: %v, %v", p, err)
	}

	if got := c.State().LastWirelessNodeID; !bytes.Equal(got, []byte{0xAB, 0xCD}) {
		t.Errorf("LastWirelessNodeID = % X", got)
	}
	if c.Stats().Violations != 1 {
		t.Errorf("Violations = %d, want 1", c.Stats().Violations)
	}
}

// ============================================================
// Setup Tests
// ============================================================

func TestNew_SetupError(t *testing.T) {
	ft := &fakeTransport{clock: &fakeClock{}, setup: transport.ErrTransportSetup}
	if _, err := New(ft, Config{}); !errors.Is(err, transport.ErrTransportSetup) {
		t.Errorf("expected ErrTransportSetup, got %v", err)
	}
}

func TestMessageID_SkipsZero(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	c.state.MessageID = 0xFFFF
	if id := c.nextMessageID(); id != 1 {
		t.Errorf("wrapped to %d, want 1", id)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	a, _ := newTestClient(t, Config{})
	b, _ := newTestClient(t, Config{})
	a.nextMessageID()
	a.nextMessageID()
	if b.nextMessageID() != 1 {
		t.Error("message ids leak between sessions")
	}
}
