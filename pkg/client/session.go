// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
)

// seconds converts d to a 16-bit duration field, saturating
func seconds(d time.Duration) uint16 {
	s := d / time.Second
	if s > math.MaxUint16 {
		return math.MaxUint16
	}
	if s < 0 {
		return 0
	}
	return uint16(s)
}

// Connect opens the session with CONNECT and waits for CONNACK. QoS -1
// sessions have no connection and return immediately.
func (c *Client) Connect() error {
	if c.cfg.QoS == mqttsn.QoSMinus1 {
		c.log.Debug("QoS -1: no CONNECT needed")
		c.setState(Connected)
		return nil
	}

	p, err := mqttsn.NewConnect(c.cfg.ClientID, seconds(c.cfg.KeepAlive), c.cfg.CleanSession)
	if err != nil {
		return err
	}

	c.log.Info("connecting", "client_id", c.cfg.ClientID, "keep_alive", c.cfg.KeepAlive)
	if err := c.send(p); err != nil {
		return err
	}
	c.setState(AwaitingConnack)

	reply, err := c.waitFor(mqttsn.MsgConnack, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := checkReturnCode(mqttsn.MsgConnect, reply.(*mqttsn.Connack).ReturnCode); err != nil {
		c.setState(Idle)
		return err
	}

	c.setState(Connected)
	c.log.Info("connected")
	return nil
}

// ResolveTopic determines the topic id for the configured topic. A
// predefined topic id or a two byte short name is used directly; any other
// name is registered with the gateway.
func (c *Client) ResolveTopic() (mqttsn.TopicID, error) {
	var topic mqttsn.TopicID
	switch {
	case c.cfg.TopicID != 0:
		topic = mqttsn.PredefinedTopic(c.cfg.TopicID)
	case mqttsn.IsShortTopicName(c.cfg.Topic):
		topic, _ = mqttsn.ShortTopic(c.cfg.Topic)
	case c.cfg.Topic == "":
		return mqttsn.TopicID{}, ErrNoTopic
	case c.cfg.QoS == mqttsn.QoSMinus1:
		return mqttsn.TopicID{}, fmt.Errorf("%w: QoS -1 needs a short topic name or a predefined topic id", mqttsn.ErrValidation)
	default:
		id, err := c.register(c.cfg.Topic)
		if err != nil {
			return mqttsn.TopicID{}, err
		}
		topic = mqttsn.NormalTopic(id)
	}

	c.state.TopicID = topic
	c.resolved = true
	c.setState(Ready)
	c.log.Debug("topic resolved", "topic", topic)
	return topic, nil
}

// register sends REGISTER for name and returns the id from REGACK
func (c *Client) register(name string) (uint16, error) {
	p, err := mqttsn.NewRegister(name, c.nextMessageID())
	if err != nil {
		return 0, err
	}

	c.log.Info("registering topic", "topic", name)
	if err := c.send(p); err != nil {
		return 0, err
	}
	c.setState(AwaitingRegack)

	reply, err := c.waitFor(mqttsn.MsgRegack, func(r mqttsn.Packet) bool {
		return r.(*mqttsn.Regack).MessageID == p.MessageID
	})
	if err != nil {
		return 0, fmt.Errorf("register %q: %w", name, err)
	}
	regack := reply.(*mqttsn.Regack)
	if err := checkReturnCode(mqttsn.MsgRegister, regack.ReturnCode); err != nil {
		c.setState(Connected)
		return 0, err
	}

	c.state.Topics[regack.TopicID] = name
	c.log.Debug("topic registered", "topic", name, "id", regack.TopicID)
	return regack.TopicID, nil
}

// Publish sends payload to the resolved topic, resolving it first if
// needed. QoS 1 waits for the matching PUBACK.
func (c *Client) Publish(payload []byte) error {
	qos := c.cfg.QoS
	if qos == mqttsn.QoS2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedQoS, qos)
	}
	if len(payload) > mqttsn.MaxPayloadLength {
		return &mqttsn.ValidationError{Field: "payload", Length: len(payload), Max: mqttsn.MaxPayloadLength}
	}

	if !c.resolved {
		if _, err := c.ResolveTopic(); err != nil {
			return err
		}
	}

	var messageID uint16
	if qos == mqttsn.QoS1 {
		messageID = c.nextMessageID()
	} else {
		c.state.MessageID = 0
	}

	p, err := mqttsn.NewPublish(c.state.TopicID, qos, c.cfg.Retain, messageID, payload)
	if err != nil {
		return err
	}

	c.log.Debug("publishing", "topic", c.state.TopicID, "qos", qos, "bytes", len(payload))
	if err := c.send(p); err != nil {
		return err
	}
	if qos != mqttsn.QoS1 {
		return nil
	}

	c.awaitAck(mqttsn.MsgPuback)
	reply, err := c.waitFor(mqttsn.MsgPuback, func(r mqttsn.Packet) bool {
		return r.(*mqttsn.Puback).MessageID == messageID
	})
	c.setState(Ready)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return checkReturnCode(mqttsn.MsgPublish, reply.(*mqttsn.Puback).ReturnCode)
}

// Subscribe subscribes to a topic name and returns the topic id assigned by
// the gateway. Two byte names are sent as short topics.
func (c *Client) Subscribe(topic string) (uint16, error) {
	p, err := mqttsn.NewSubscribeTopicName(topic, c.subscribeQoS(), c.nextMessageID())
	if err != nil {
		return 0, err
	}

	suback, err := c.subscribe(p, topic)
	if err != nil {
		return 0, err
	}
	if p.Flags.TopicIDType == mqttsn.TopicNormal && suback.TopicID != 0 {
		c.state.Topics[suback.TopicID] = topic
	}
	return suback.TopicID, nil
}

// SubscribeTopicID subscribes to a predefined topic id
func (c *Client) SubscribeTopicID(id uint16) (uint16, error) {
	p := mqttsn.NewSubscribeTopicID(id, c.subscribeQoS(), c.nextMessageID())
	suback, err := c.subscribe(p, strconv.Itoa(int(id)))
	if err != nil {
		return 0, err
	}
	return suback.TopicID, nil
}

func (c *Client) subscribeQoS() mqttsn.QoS {
	if c.cfg.QoS < mqttsn.QoS0 {
		return mqttsn.QoS0
	}
	return c.cfg.QoS
}

func (c *Client) subscribe(p *mqttsn.Subscribe, desc string) (*mqttsn.Suback, error) {
	c.log.Info("subscribing", "topic", desc, "qos", p.Flags.QoS)
	if err := c.send(p); err != nil {
		return nil, err
	}

	c.awaitAck(mqttsn.MsgSuback)
	reply, err := c.waitFor(mqttsn.MsgSuback, func(r mqttsn.Packet) bool {
		return r.(*mqttsn.Suback).MessageID == c.state.MessageID
	})
	c.setState(Ready)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", desc, err)
	}

	suback := reply.(*mqttsn.Suback)
	if err := checkReturnCode(mqttsn.MsgSubscribe, suback.ReturnCode); err != nil {
		return nil, err
	}
	c.log.Debug("subscribed", "topic", desc, "id", suback.TopicID, "qos", suback.Flags.QoS)
	return suback, nil
}

func (c *Client) awaitAck(kind mqttsn.MsgType) {
	c.awaiting = kind
	c.setState(AwaitingAck)
}

// ReceivePublish waits for the next PUBLISH from the gateway. Topics
// registered by the gateway in the meantime are recorded and acknowledged.
// The wait ends early with ctx's error when ctx is done.
func (c *Client) ReceivePublish(ctx context.Context) (*mqttsn.Publish, error) {
	p, err := c.waitForContext(ctx, mqttsn.MsgPublish, nil)
	if err != nil {
		return nil, err
	}
	return p.(*mqttsn.Publish), nil
}

// TopicName returns a printable topic for a received PUBLISH
func (c *Client) TopicName(p *mqttsn.Publish) string {
	topic := p.Topic()
	if topic.Type == mqttsn.TopicShort {
		return topic.ShortName()
	}
	if name, ok := c.state.Topics[topic.ID]; ok && topic.Type == mqttsn.TopicNormal {
		return name
	}
	return strconv.Itoa(int(topic.ID))
}

// Acknowledge answers a received PUBLISH with PUBACK
func (c *Client) Acknowledge(p *mqttsn.Publish, rc mqttsn.ReturnCode) error {
	return c.send(&mqttsn.Puback{
		TopicID:    p.TopicID,
		MessageID:  p.MessageID,
		ReturnCode: rc,
	})
}

// Ping sends PINGREQ and returns the round trip time to PINGRESP
func (c *Client) Ping() (time.Duration, error) {
	start := c.now()
	if err := c.send(&mqttsn.Pingreq{}); err != nil {
		return 0, err
	}
	if _, err := c.waitFor(mqttsn.MsgPingresp, nil); err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	return c.now().Sub(start), nil
}

// Disconnect sends DISCONNECT and waits for the gateway's DISCONNECT. With
// a sleep duration configured the gateway keeps the session; the wait is
// skipped when SkipSleepAck is set.
func (c *Client) Disconnect() error {
	if c.cfg.QoS == mqttsn.QoSMinus1 {
		c.setState(Closed)
		return nil
	}

	p := &mqttsn.Disconnect{}
	if c.cfg.SleepDuration > 0 {
		p.HasDuration = true
		p.Duration = seconds(c.cfg.SleepDuration)
	}

	c.log.Info("disconnecting", "sleep", c.cfg.SleepDuration)
	if err := c.send(p); err != nil {
		return err
	}
	c.setState(Disconnecting)

	if p.HasDuration && c.cfg.SkipSleepAck {
		c.setState(Closed)
		return nil
	}

	if _, err := c.waitFor(mqttsn.MsgDisconnect, nil); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	c.setState(Closed)
	return nil
}
