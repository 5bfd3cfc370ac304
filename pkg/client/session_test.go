// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
)

// ============================================================
// Connect Tests
// ============================================================

func TestConnect_Sensor1(t *testing.T) {
	c, ft := newTestClient(t, Config{ClientID: "sensor1", KeepAlive: 60 * time.Second, CleanSession: true, Timeout: time.Minute})
	ft.gateway = gatewayScript

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	want := []byte{13, 4, 4, 1, 0, 60, 's', 'e', 'n', 's', 'o', 'r', '1'}
	if !bytes.Equal(ft.sent[0], want) {
		t.Errorf("CONNECT bytes:\n got  % X\n want % X", ft.sent[0], want)
	}
	if c.SessionState() != Connected {
		t.Errorf("state = %s, want Connected", c.SessionState())
	}
}

func TestConnect_Rejected(t *testing.T) {
	c, ft := newTestClient(t, Config{ClientID: "x", Timeout: time.Minute})
	ft.queue(&mqttsn.Connack{ReturnCode: mqttsn.RejectedCongestion})

	err := c.Connect()
	var rerr *RejectedError
	if !errors.As(err, &rerr) || !errors.Is(err, ErrRejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rerr.ReturnCode != mqttsn.RejectedCongestion {
		t.Errorf("ReturnCode = %s", rerr.ReturnCode)
	}
}

func TestConnect_ClientIDTooLong(t *testing.T) {
	c, ft := newTestClient(t, Config{ClientID: strings.Repeat("c", 24)})
	if err := c.Connect(); !errors.Is(err, mqttsn.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(ft.sent) != 0 {
		t.Error("nothing should be sent for an invalid client id")
	}
}

func TestConnect_QoSMinus1SkipsHandshake(t *testing.T) {
	c, ft := newTestClient(t, Config{QoS: mqttsn.QoSMinus1, Topic: "ab"})
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := c.Publish([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatal(err)
	}

	types := ft.sentTypes(t)
	if len(types) != 1 || types[0] != mqttsn.MsgPublish {
		t.Errorf("sent %v, want a single PUBLISH", types)
	}
	p, _ := mqttsn.Decode(ft.sent[0])
	if f := p.(*mqttsn.Publish).Flags; f.QoS != mqttsn.QoSMinus1 || f.TopicIDType != mqttsn.TopicShort {
		t.Errorf("flags = %s", f)
	}
}

// ============================================================
// Topic Resolution Tests
// ============================================================

func TestResolveTopic(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		want      mqttsn.TopicID
		registers int
	}{
		{"predefined", Config{TopicID: 17, Topic: "ignored/topic"}, mqttsn.PredefinedTopic(17), 0},
		{"short", Config{Topic: "ab"}, mqttsn.TopicID{Type: mqttsn.TopicShort, ID: 0x6162}, 0},
		{"registered", Config{Topic: "sensors/temp"}, mqttsn.NormalTopic(42), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Timeout = time.Minute
			c, ft := newTestClient(t, tt.cfg)
			ft.gateway = gatewayScript

			got, err := c.ResolveTopic()
			if err != nil {
				t.Fatalf("ResolveTopic failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if n := ft.count(t, mqttsn.MsgRegister); n != tt.registers {
				t.Errorf("sent %d REGISTER, want %d", n, tt.registers)
			}
			if c.SessionState() != Ready {
				t.Errorf("state = %s, want Ready", c.SessionState())
			}
		})
	}
}

func TestResolveTopic_RecordsRegisteredName(t *testing.T) {
	c, ft := newTestClient(t, Config{Topic: "sensors/temp", Timeout: time.Minute})
	ft.gateway = gatewayScript

	if _, err := c.ResolveTopic(); err != nil {
		t.Fatal(err)
	}
	if c.State().Topics[42] != "sensors/temp" {
		t.Errorf("registry = %v", c.State().Topics)
	}
	if c.State().MessageID != 1 {
		t.Errorf("MessageID = %d, want 1", c.State().MessageID)
	}
}

func TestResolveTopic_Errors(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	if _, err := c.ResolveTopic(); !errors.Is(err, ErrNoTopic) {
		t.Errorf("expected ErrNoTopic, got %v", err)
	}

	c, _ = newTestClient(t, Config{QoS: mqttsn.QoSMinus1, Topic: "long/topic"})
	if _, err := c.ResolveTopic(); !errors.Is(err, mqttsn.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	c, ft := newTestClient(t, Config{Topic: "sensors/temp", Timeout: time.Minute})
	ft.gateway = func(p mqttsn.Packet) []mqttsn.Packet {
		r := p.(*mqttsn.Register)
		return []mqttsn.Packet{&mqttsn.Regack{MessageID: r.MessageID, ReturnCode: mqttsn.RejectedInvalidTopicID}}
	}
	if _, err := c.ResolveTopic(); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

// ============================================================
// Publish Tests
// ============================================================

func TestPublish_QoS0Bytes(t *testing.T) {
	c, ft := newTestClient(t, Config{QoS: mqttsn.QoS0})
	c.state.TopicID = mqttsn.NormalTopic(1)
	c.state.MessageID = 9
	c.resolved = true

	if err := c.Publish([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	want := []byte{9, 12, 0, 0, 1, 0, 0, 'h', 'i'}
	if !bytes.Equal(ft.sent[0], want) {
		t.Errorf("PUBLISH bytes:\n got  % X\n want % X", ft.sent[0], want)
	}
	if c.State().MessageID != 0 {
		t.Error("QoS 0 should reset the message id")
	}
}

func TestPublish_QoS1WaitsForPuback(t *testing.T) {
	c, ft := newTestClient(t, Config{QoS: mqttsn.QoS1, Retain: true, Topic: "a/b", Timeout: time.Minute})
	ft.gateway = gatewayScript

	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := c.Publish([]byte("23.5")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	last, _ := mqttsn.Decode(ft.sent[len(ft.sent)-1])
	pub := last.(*mqttsn.Publish)
	if pub.MessageID != 2 || pub.TopicID != 42 || !pub.Flags.Retain || pub.Flags.QoS != mqttsn.QoS1 {
		t.Errorf("unexpected PUBLISH %+v", pub)
	}
	if c.Stats().Received[mqttsn.MsgPuback] != 1 {
		t.Error("PUBACK not received")
	}
	if c.SessionState() != Ready {
		t.Errorf("state = %s", c.SessionState())
	}
}

func TestPublish_Rejected(t *testing.T) {
	c, ft := newTestClient(t, Config{QoS: mqttsn.QoS1, TopicID: 5, Timeout: time.Minute})
	ft.gateway = func(p mqttsn.Packet) []mqttsn.Packet {
		if v, ok := p.(*mqttsn.Publish); ok {
			return []mqttsn.Packet{&mqttsn.Puback{TopicID: v.TopicID, MessageID: v.MessageID, ReturnCode: mqttsn.RejectedInvalidTopicID}}
		}
		return nil
	}
	err := c.Publish([]byte("x"))
	var rerr *RejectedError
	if !errors.As(err, &rerr) || rerr.Op != mqttsn.MsgPublish {
		t.Errorf("expected rejected PUBLISH, got %v", err)
	}
}

func TestPublish_PayloadTooLarge(t *testing.T) {
	c, ft := newTestClient(t, Config{TopicID: 1})
	if err := c.Publish(make([]byte, mqttsn.MaxPayloadLength+1)); !errors.Is(err, mqttsn.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if len(ft.sent) != 0 {
		t.Error("oversize payload was sent")
	}
	if err := c.Publish(make([]byte, mqttsn.MaxPayloadLength)); err != nil {
		t.Errorf("max payload rejected: %v", err)
	}
}

func TestPublish_QoS2Unsupported(t *testing.T) {
	c, _ := newTestClient(t, Config{QoS: mqttsn.QoS2, TopicID: 1})
	if err := c.Publish(nil); !errors.Is(err, ErrUnsupportedQoS) {
		t.Errorf("expected ErrUnsupportedQoS, got %v", err)
	}
}

func TestPublish_NoReply(t *testing.T) {
	c, ft := newTestClient(t, Config{QoS: mqttsn.QoS1, TopicID: 1, Timeout: 2 * time.Second})
	ft.step = time.Second
	if err := c.Publish([]byte("x")); !errors.Is(err, ErrNoReply) {
		t.Errorf("expected ErrNoReply, got %v", err)
	}
}

// ============================================================
// Subscribe Tests
// ============================================================

func TestSubscribe(t *testing.T) {
	c, ft := newTestClient(t, Config{QoS: mqttsn.QoS1, Timeout: time.Minute})
	ft.gateway = gatewayScript

	id, err := c.Subscribe("sensors/#")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if id != 7 {
		t.Errorf("topic id = %d, want 7", id)
	}
	if c.State().Topics[7] != "sensors/#" {
		t.Errorf("registry = %v", c.State().Topics)
	}

	sent, _ := mqttsn.Decode(ft.sent[0])
	sub := sent.(*mqttsn.Subscribe)
	if sub.Flags.QoS != mqttsn.QoS1 || string(sub.TopicName) != "sensors/#" {
		t.Errorf("unexpected SUBSCRIBE %+v", sub)
	}
}

func TestSubscribe_ShortAndPredefined(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.gateway = gatewayScript

	if _, err := c.Subscribe("ab"); err != nil {
		t.Fatal(err)
	}
	sent, _ := mqttsn.Decode(ft.sent[0])
	if sent.(*mqttsn.Subscribe).Flags.TopicIDType != mqttsn.TopicShort {
		t.Error("two byte topic not sent as short topic")
	}
	if len(c.State().Topics) != 0 {
		t.Error("short topics should not be recorded")
	}

	id, err := c.SubscribeTopicID(300)
	if err != nil {
		t.Fatal(err)
	}
	if id != 300 {
		t.Errorf("topic id = %d, want 300", id)
	}
}

func TestSubscribe_IgnoresStaleSuback(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.gateway = func(p mqttsn.Packet) []mqttsn.Packet {
		s := p.(*mqttsn.Subscribe)
		return []mqttsn.Packet{
			&mqttsn.Suback{TopicID: 1, MessageID: s.MessageID - 1},
			&mqttsn.Suback{TopicID: 2, MessageID: s.MessageID},
		}
	}
	c.state.MessageID = 10

	id, err := c.Subscribe("x/y")
	if err != nil {
		t.Fatal(err)
	}
	if id != 2 {
		t.Errorf("took SUBACK for topic %d, want 2", id)
	}
}

func TestSubscribe_Rejected(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.gateway = func(p mqttsn.Packet) []mqttsn.Packet {
		s := p.(*mqttsn.Subscribe)
		return []mqttsn.Packet{&mqttsn.Suback{MessageID: s.MessageID, ReturnCode: mqttsn.RejectedNotSupported}}
	}
	if _, err := c.Subscribe("x/y"); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

// ============================================================
// Receive Tests
// ============================================================

func TestReceivePublish_GatewayRegister(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.queue(&mqttsn.Register{TopicID: 99, MessageID: 3, TopicName: []byte("alerts/fire")})
	ft.queue(&mqttsn.Publish{Flags: mqttsn.Flags{QoS: mqttsn.QoS1}, TopicID: 99, MessageID: 8, Data: []byte("!")})

	p, err := c.ReceivePublish(context.Background())
	if err != nil {
		t.Fatalf("ReceivePublish failed: %v", err)
	}
	if c.TopicName(p) != "alerts/fire" {
		t.Errorf("TopicName = %q", c.TopicName(p))
	}

	regack, _ := mqttsn.Decode(ft.sent[0])
	if ra, ok := regack.(*mqttsn.Regack); !ok || ra.TopicID != 99 || ra.MessageID != 3 {
		t.Errorf("gateway REGISTER answered with %v", regack)
	}

	if err := c.Acknowledge(p, mqttsn.Accepted); err != nil {
		t.Fatal(err)
	}
	ack, _ := mqttsn.Decode(ft.sent[1])
	if pa := ack.(*mqttsn.Puback); pa.TopicID != 99 || pa.MessageID != 8 {
		t.Errorf("PUBACK %+v", pa)
	}
}

func TestReceivePublish_Cancelled(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.ReceivePublish(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(ft.sent) != 0 {
		t.Errorf("sent %d packets after cancel", len(ft.sent))
	}
}

func TestTopicName(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	c.state.Topics[5] = "known"

	tests := []struct {
		p    *mqttsn.Publish
		want string
	}{
		{&mqttsn.Publish{TopicID: 5}, "known"},
		{&mqttsn.Publish{TopicID: 6}, "6"},
		{&mqttsn.Publish{Flags: mqttsn.Flags{TopicIDType: mqttsn.TopicShort}, TopicID: 0x6162}, "ab"},
		{&mqttsn.Publish{Flags: mqttsn.Flags{TopicIDType: mqttsn.TopicPredefined}, TopicID: 5}, "5"},
	}
	for _, tt := range tests {
		if got := c.TopicName(tt.p); got != tt.want {
			t.Errorf("TopicName(%v) = %q, want %q", tt.p.Topic(), got, tt.want)
		}
	}
}

// ============================================================
// Ping and Disconnect Tests
// ============================================================

func TestPing(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.gateway = gatewayScript

	rtt, err := c.Ping()
	if err != nil {
		t.Fatal(err)
	}
	if rtt != ft.step {
		t.Errorf("rtt = %v, want %v", rtt, ft.step)
	}
}

func TestDisconnect(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.gateway = gatewayScript

	if err := c.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ft.sent[0], []byte{2, 0x18}) {
		t.Errorf("DISCONNECT bytes % X", ft.sent[0])
	}
	if c.SessionState() != Closed {
		t.Errorf("state = %s", c.SessionState())
	}
}

func TestDisconnect_Sleep(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Second, SleepDuration: 5 * time.Minute, SkipSleepAck: true})

	if err := c.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ft.sent[0], []byte{4, 0x18, 0x01, 0x2C}) {
		t.Errorf("DISCONNECT bytes % X", ft.sent[0])
	}
	if c.SessionState() != Closed {
		t.Errorf("state = %s", c.SessionState())
	}
}

func TestStatus(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	c.awaitAck(mqttsn.MsgPuback)
	if c.Status() != "AwaitingAck(PUBACK)" {
		t.Errorf("Status() = %q", c.Status())
	}
	c.Close()
	if c.Status() != "Closed" {
		t.Errorf("Status() = %q", c.Status())
	}
}

func TestStatistics_String(t *testing.T) {
	c, ft := newTestClient(t, Config{Timeout: time.Minute})
	ft.gateway = gatewayScript
	c.Ping()

	out := c.Stats()
	s := out.String()
	for _, want := range []string{"=== Statistics", "Packets Sent:", "PINGREQ:", "PINGRESP:"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}
