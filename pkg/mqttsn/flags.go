// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttsn

import "fmt"

// Flag bit layout
const (
	flagDup         = 0x80
	flagQoSMask     = 0x60
	flagQoSShift    = 5
	flagRetain      = 0x10
	flagWill        = 0x08
	flagClean       = 0x04
	flagTopicIDMask = 0x03
)

// QoS is an MQTT-SN quality of service level. QoSMinus1 publishes without a
// session and needs a predefined or short topic id.
type QoS int8

// QoS levels
const (
	QoSMinus1 QoS = -1
	QoS0      QoS = 0
	QoS1      QoS = 1
	QoS2      QoS = 2
)

// ParseQoS converts a command line style level (-1, 0, 1, 2) to a QoS
func ParseQoS(level int) (QoS, error) {
	switch level {
	case -1, 0, 1, 2:
		return QoS(level), nil
	}
	return QoS0, fmt.Errorf("invalid QoS level: %d (valid: -1, 0, 1, 2)", level)
}

// bits returns the two flag bits of the level; -1 is encoded as 0b11
func (q QoS) bits() byte {
	if q == QoSMinus1 {
		return 3
	}
	return byte(q) & 0x03
}

func qosFromBits(b byte) QoS {
	if b == 3 {
		return QoSMinus1
	}
	return QoS(b)
}

// TopicIDType selects how the topic id field of a packet is interpreted
type TopicIDType uint8

// Topic id types
const (
	TopicNormal     TopicIDType = 0x00
	TopicPredefined TopicIDType = 0x01
	TopicShort      TopicIDType = 0x02
)

// Valid reports whether t is one of the three defined topic id types
func (t TopicIDType) Valid() bool {
	return t <= TopicShort
}

func (t TopicIDType) String() string {
	switch t {
	case TopicNormal:
		return "normal"
	case TopicPredefined:
		return "predefined"
	case TopicShort:
		return "short"
	default:
		return "reserved"
	}
}

// Flags is the unpacked form of the MQTT-SN flags byte
type Flags struct {
	Dup          bool
	QoS          QoS
	Retain       bool
	Will         bool
	CleanSession bool
	TopicIDType  TopicIDType
}

// ParseFlags unpacks a flags byte
func ParseFlags(b byte) Flags {
	return Flags{
		Dup:          b&flagDup != 0,
		QoS:          qosFromBits((b & flagQoSMask) >> flagQoSShift),
		Retain:       b&flagRetain != 0,
		Will:         b&flagWill != 0,
		CleanSession: b&flagClean != 0,
		TopicIDType:  TopicIDType(b & flagTopicIDMask),
	}
}

// Byte packs the flags into their wire representation
func (f Flags) Byte() byte {
	var b byte
	if f.Dup {
		b |= flagDup
	}
	b |= f.QoS.bits() << flagQoSShift
	if f.Retain {
		b |= flagRetain
	}
	if f.Will {
		b |= flagWill
	}
	if f.CleanSession {
		b |= flagClean
	}
	b |= byte(f.TopicIDType) & flagTopicIDMask
	return b
}

func (f Flags) String() string {
	return fmt.Sprintf("dup=%t qos=%d retain=%t will=%t clean=%t topic=%s",
		f.Dup, f.QoS, f.Retain, f.Will, f.CleanSession, f.TopicIDType)
}
