// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttsn

import "encoding/binary"

// headerLength is the size of the length and type bytes
const headerLength = 2

// Packet is one of the MQTT-SN messages supported by this package:
// *Connect, *Connack, *Register, *Regack, *Publish, *Puback, *Subscribe,
// *Suback, *Pingreq, *Pingresp, *Disconnect and *FwdEncap.
//
// Length is always derived from the packet contents.
type Packet interface {
	Type() MsgType
	Length() int

	appendBody(b []byte) []byte
	decode(b []byte) error
}

// Connect opens a session (0x04)
type Connect struct {
	Flags      Flags
	ProtocolID uint8
	Duration   uint16 // keep-alive in seconds
	ClientID   []byte
}

// NewConnect builds a CONNECT for clientID with the given keep-alive in seconds
func NewConnect(clientID string, keepAlive uint16, cleanSession bool) (*Connect, error) {
	if err := checkLength("client id", len(clientID), MaxClientIDLength); err != nil {
		return nil, err
	}
	return &Connect{
		Flags:      Flags{CleanSession: cleanSession},
		ProtocolID: ProtocolID,
		Duration:   keepAlive,
		ClientID:   cloneBytes([]byte(clientID)),
	}, nil
}

func (p *Connect) Type() MsgType { return MsgConnect }
func (p *Connect) Length() int   { return 6 + len(p.ClientID) }

func (p *Connect) appendBody(b []byte) []byte {
	b = append(b, p.Flags.Byte(), p.ProtocolID)
	b = binary.BigEndian.AppendUint16(b, p.Duration)
	return append(b, p.ClientID...)
}

func (p *Connect) decode(b []byte) error {
	if err := needLength(MsgConnect, b, 6); err != nil {
		return err
	}
	p.Flags = ParseFlags(b[2])
	p.ProtocolID = b[3]
	p.Duration = binary.BigEndian.Uint16(b[4:6])
	p.ClientID = cloneBytes(b[6:])
	return nil
}

// Connack answers a CONNECT (0x05)
type Connack struct {
	ReturnCode ReturnCode
}

func (p *Connack) Type() MsgType { return MsgConnack }
func (p *Connack) Length() int   { return 3 }

func (p *Connack) appendBody(b []byte) []byte {
	return append(b, byte(p.ReturnCode))
}

func (p *Connack) decode(b []byte) error {
	if err := needLength(MsgConnack, b, 3); err != nil {
		return err
	}
	p.ReturnCode = ReturnCode(b[2])
	return nil
}

// Register asks for (client) or announces (gateway) a topic id (0x0A)
type Register struct {
	TopicID   uint16
	MessageID uint16
	TopicName []byte
}

// NewRegister builds a client REGISTER for topic
func NewRegister(topic string, messageID uint16) (*Register, error) {
	if err := checkLength("topic name", len(topic), MaxTopicLength); err != nil {
		return nil, err
	}
	return &Register{MessageID: messageID, TopicName: cloneBytes([]byte(topic))}, nil
}

func (p *Register) Type() MsgType { return MsgRegister }
func (p *Register) Length() int   { return 6 + len(p.TopicName) }

func (p *Register) appendBody(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, p.TopicID)
	b = binary.BigEndian.AppendUint16(b, p.MessageID)
	return append(b, p.TopicName...)
}

func (p *Register) decode(b []byte) error {
	if err := needLength(MsgRegister, b, 6); err != nil {
		return err
	}
	p.TopicID = binary.BigEndian.Uint16(b[2:4])
	p.MessageID = binary.BigEndian.Uint16(b[4:6])
	p.TopicName = cloneBytes(b[6:])
	return nil
}

// Regack answers a REGISTER (0x0B)
type Regack struct {
	TopicID    uint16
	MessageID  uint16
	ReturnCode ReturnCode
}

func (p *Regack) Type() MsgType { return MsgRegack }
func (p *Regack) Length() int   { return 7 }

func (p *Regack) appendBody(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, p.TopicID)
	b = binary.BigEndian.AppendUint16(b, p.MessageID)
	return append(b, byte(p.ReturnCode))
}

func (p *Regack) decode(b []byte) error {
	if err := needLength(MsgRegack, b, 7); err != nil {
		return err
	}
	p.TopicID = binary.BigEndian.Uint16(b[2:4])
	p.MessageID = binary.BigEndian.Uint16(b[4:6])
	p.ReturnCode = ReturnCode(b[6])
	return nil
}

// Publish carries application data (0x0C)
type Publish struct {
	Flags     Flags
	TopicID   uint16
	MessageID uint16
	Data      []byte
}

// NewPublish builds a PUBLISH. The topic id type is taken from topic.
func NewPublish(topic TopicID, qos QoS, retain bool, messageID uint16, data []byte) (*Publish, error) {
	if err := checkLength("payload", len(data), MaxPayloadLength); err != nil {
		return nil, err
	}
	return &Publish{
		Flags:     Flags{QoS: qos, Retain: retain, TopicIDType: topic.Type},
		TopicID:   topic.ID,
		MessageID: messageID,
		Data:      cloneBytes(data),
	}, nil
}

func (p *Publish) Type() MsgType { return MsgPublish }
func (p *Publish) Length() int   { return 7 + len(p.Data) }

// Topic returns the topic id together with its type from the flags
func (p *Publish) Topic() TopicID {
	return TopicID{Type: p.Flags.TopicIDType, ID: p.TopicID}
}

func (p *Publish) appendBody(b []byte) []byte {
	b = append(b, p.Flags.Byte())
	b = binary.BigEndian.AppendUint16(b, p.TopicID)
	b = binary.BigEndian.AppendUint16(b, p.MessageID)
	return append(b, p.Data...)
}

func (p *Publish) decode(b []byte) error {
	if err := needLength(MsgPublish, b, 7); err != nil {
		return err
	}
	p.Flags = ParseFlags(b[2])
	p.TopicID = binary.BigEndian.Uint16(b[3:5])
	p.MessageID = binary.BigEndian.Uint16(b[5:7])
	p.Data = cloneBytes(b[7:])
	return nil
}

// Puback acknowledges a QoS 1 PUBLISH or rejects any PUBLISH (0x0D)
type Puback struct {
	TopicID    uint16
	MessageID  uint16
	ReturnCode ReturnCode
}

func (p *Puback) Type() MsgType { return MsgPuback }
func (p *Puback) Length() int   { return 7 }

func (p *Puback) appendBody(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, p.TopicID)
	b = binary.BigEndian.AppendUint16(b, p.MessageID)
	return append(b, byte(p.ReturnCode))
}

func (p *Puback) decode(b []byte) error {
	if err := needLength(MsgPuback, b, 7); err != nil {
		return err
	}
	p.TopicID = binary.BigEndian.Uint16(b[2:4])
	p.MessageID = binary.BigEndian.Uint16(b[4:6])
	p.ReturnCode = ReturnCode(b[6])
	return nil
}

// Subscribe requests a subscription by topic name or predefined topic id
// (0x12). Exactly one of TopicName and TopicID is meaningful, as selected by
// Flags.TopicIDType.
type Subscribe struct {
	Flags     Flags
	MessageID uint16
	TopicName []byte
	TopicID   uint16
}

// NewSubscribeTopicName subscribes by name. Two byte names are sent as short
// topic names.
func NewSubscribeTopicName(topic string, qos QoS, messageID uint16) (*Subscribe, error) {
	if err := checkLength("topic name", len(topic), MaxTopicLength); err != nil {
		return nil, err
	}
	topicType := TopicNormal
	if IsShortTopicName(topic) {
		topicType = TopicShort
	}
	return &Subscribe{
		Flags:     Flags{QoS: qos, TopicIDType: topicType},
		MessageID: messageID,
		TopicName: cloneBytes([]byte(topic)),
	}, nil
}

// NewSubscribeTopicID subscribes to a predefined topic id
func NewSubscribeTopicID(topicID uint16, qos QoS, messageID uint16) *Subscribe {
	return &Subscribe{
		Flags:     Flags{QoS: qos, TopicIDType: TopicPredefined},
		MessageID: messageID,
		TopicID:   topicID,
	}
}

func (p *Subscribe) Type() MsgType { return MsgSubscribe }

func (p *Subscribe) Length() int {
	if p.Flags.TopicIDType == TopicPredefined {
		return 7
	}
	return 5 + len(p.TopicName)
}

func (p *Subscribe) appendBody(b []byte) []byte {
	b = append(b, p.Flags.Byte())
	b = binary.BigEndian.AppendUint16(b, p.MessageID)
	if p.Flags.TopicIDType == TopicPredefined {
		return binary.BigEndian.AppendUint16(b, p.TopicID)
	}
	return append(b, p.TopicName...)
}

func (p *Subscribe) decode(b []byte) error {
	if err := needLength(MsgSubscribe, b, 5); err != nil {
		return err
	}
	p.Flags = ParseFlags(b[2])
	p.MessageID = binary.BigEndian.Uint16(b[3:5])
	if p.Flags.TopicIDType == TopicPredefined {
		if len(b) != 7 {
			return malformed("SUBSCRIBE with predefined topic id has length %d, want 7", len(b))
		}
		p.TopicID = binary.BigEndian.Uint16(b[5:7])
		return nil
	}
	p.TopicName = cloneBytes(b[5:])
	return nil
}

// Suback answers a SUBSCRIBE (0x13)
type Suback struct {
	Flags      Flags
	TopicID    uint16
	MessageID  uint16
	ReturnCode ReturnCode
}

func (p *Suback) Type() MsgType { return MsgSuback }
func (p *Suback) Length() int   { return 8 }

func (p *Suback) appendBody(b []byte) []byte {
	b = append(b, p.Flags.Byte())
	b = binary.BigEndian.AppendUint16(b, p.TopicID)
	b = binary.BigEndian.AppendUint16(b, p.MessageID)
	return append(b, byte(p.ReturnCode))
}

func (p *Suback) decode(b []byte) error {
	if err := needLength(MsgSuback, b, 8); err != nil {
		return err
	}
	p.Flags = ParseFlags(b[2])
	p.TopicID = binary.BigEndian.Uint16(b[3:5])
	p.MessageID = binary.BigEndian.Uint16(b[5:7])
	p.ReturnCode = ReturnCode(b[7])
	return nil
}

// Pingreq keeps a session alive (0x16). A sleeping client includes its
// client id to ask for buffered messages.
type Pingreq struct {
	ClientID []byte
}

func (p *Pingreq) Type() MsgType { return MsgPingreq }
func (p *Pingreq) Length() int   { return 2 + len(p.ClientID) }

func (p *Pingreq) appendBody(b []byte) []byte {
	return append(b, p.ClientID...)
}

func (p *Pingreq) decode(b []byte) error {
	p.ClientID = cloneBytes(b[2:])
	return nil
}

// Pingresp answers a PINGREQ (0x17)
type Pingresp struct{}

func (p *Pingresp) Type() MsgType { return MsgPingresp }
func (p *Pingresp) Length() int   { return 2 }

func (p *Pingresp) appendBody(b []byte) []byte { return b }

func (p *Pingresp) decode(b []byte) error {
	if len(b) != 2 {
		return malformed("PINGRESP has length %d, want 2", len(b))
	}
	return nil
}

// Disconnect ends a session (0x18). With HasDuration set the client asks to
// go to sleep for Duration seconds.
type Disconnect struct {
	HasDuration bool
	Duration    uint16
}

func (p *Disconnect) Type() MsgType { return MsgDisconnect }

func (p *Disconnect) Length() int {
	if p.HasDuration {
		return 4
	}
	return 2
}

func (p *Disconnect) appendBody(b []byte) []byte {
	if p.HasDuration {
		b = binary.BigEndian.AppendUint16(b, p.Duration)
	}
	return b
}

func (p *Disconnect) decode(b []byte) error {
	switch len(b) {
	case 2:
		p.HasDuration = false
		p.Duration = 0
	case 4:
		p.HasDuration = true
		p.Duration = binary.BigEndian.Uint16(b[2:4])
	default:
		return malformed("DISCONNECT has length %d, want 2 or 4", len(b))
	}
	return nil
}

// FwdEncap wraps a complete packet together with the wireless node id of the
// end device that sent it (0xFE). Its length byte only covers the envelope
// header; the inner packet follows and carries its own length.
type FwdEncap struct {
	Ctrl           byte
	WirelessNodeID []byte
	Inner          []byte
}

// NewFwdEncap wraps an encoded inner packet
func NewFwdEncap(ctrl byte, wirelessNodeID, inner []byte) (*FwdEncap, error) {
	if err := checkLength("wireless node id", len(wirelessNodeID), MaxWirelessNodeIDLength); err != nil {
		return nil, err
	}
	if err := checkInner(inner); err != nil {
		return nil, err
	}
	return &FwdEncap{
		Ctrl:           ctrl,
		WirelessNodeID: cloneBytes(wirelessNodeID),
		Inner:          cloneBytes(inner),
	}, nil
}

func (p *FwdEncap) Type() MsgType { return MsgFwdEncap }
func (p *FwdEncap) Length() int   { return 3 + len(p.WirelessNodeID) }

// Size returns the number of bytes of the envelope plus the inner packet
func (p *FwdEncap) Size() int { return p.Length() + len(p.Inner) }

func (p *FwdEncap) appendBody(b []byte) []byte {
	b = append(b, p.Ctrl)
	b = append(b, p.WirelessNodeID...)
	return append(b, p.Inner...)
}

func (p *FwdEncap) decode(b []byte) error {
	if err := needLength(MsgFwdEncap, b, 3); err != nil {
		return err
	}
	offset := int(b[0])
	if offset < 3 {
		return malformed("FRWDENCAP length %d shorter than its 3 byte header", offset)
	}
	if len(b) < offset+headerLength {
		return malformed("FRWDENCAP truncated: %d bytes, inner packet header at %d", len(b), offset)
	}
	inner := int(b[offset])
	end := offset + inner
	if inner < headerLength || end > len(b) {
		return malformed("FRWDENCAP inner packet length %d at offset %d exceeds %d bytes", inner, offset, len(b))
	}
	p.Ctrl = b[2]
	p.WirelessNodeID = cloneBytes(b[3:offset])
	p.Inner = cloneBytes(b[offset:end])
	return nil
}

// checkInner validates that inner is exactly one packet with a short length
func checkInner(inner []byte) error {
	if len(inner) < headerLength {
		return malformed("inner packet too short: %d bytes", len(inner))
	}
	if int(inner[0]) != len(inner) {
		return malformed("inner packet length byte %d does not match %d bytes", inner[0], len(inner))
	}
	return nil
}

func needLength(t MsgType, b []byte, min int) error {
	if len(b) < min {
		return malformed("%s needs at least %d bytes, got %d", t, min, len(b))
	}
	return nil
}

// cloneBytes copies b, keeping nil for empty input so decoded packets compare
// equal to freshly built ones.
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
