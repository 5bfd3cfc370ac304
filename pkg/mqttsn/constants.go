// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttsn implements the MQTT-SN v1.2 wire format used by the client
// tools: packet encoding and decoding, flag and topic id value types, stream
// frame reassembly and forwarder encapsulation.
//
// All multi-byte fields are big-endian. Every packet starts with a one byte
// length (covering the whole packet) followed by a one byte message type.
package mqttsn

// Packet size limits
const (
	MaxPacketLength         = 255
	MaxPayloadLength        = MaxPacketLength - 7 // PUBLISH overhead
	MaxTopicLength          = MaxPacketLength - 6 // REGISTER overhead
	MaxClientIDLength       = 23
	MaxWirelessNodeIDLength = 252
)

// ProtocolID is the only protocol id defined by MQTT-SN v1.2
const ProtocolID = 0x01

// DefaultPort is the conventional UDP port of an MQTT-SN gateway
const DefaultPort = 10000

// MsgType is the message type byte of an MQTT-SN packet
type MsgType uint8

// Message types. Only the types with a Packet implementation can be decoded;
// the rest are named so that traffic dumps stay readable.
const (
	MsgAdvertise     MsgType = 0x00
	MsgSearchGW      MsgType = 0x01
	MsgGWInfo        MsgType = 0x02
	MsgConnect       MsgType = 0x04
	MsgConnack       MsgType = 0x05
	MsgWillTopicReq  MsgType = 0x06
	MsgWillTopic     MsgType = 0x07
	MsgWillMsgReq    MsgType = 0x08
	MsgWillMsg       MsgType = 0x09
	MsgRegister      MsgType = 0x0A
	MsgRegack        MsgType = 0x0B
	MsgPublish       MsgType = 0x0C
	MsgPuback        MsgType = 0x0D
	MsgPubcomp       MsgType = 0x0E
	MsgPubrec        MsgType = 0x0F
	MsgPubrel        MsgType = 0x10
	MsgSubscribe     MsgType = 0x12
	MsgSuback        MsgType = 0x13
	MsgUnsubscribe   MsgType = 0x14
	MsgUnsuback      MsgType = 0x15
	MsgPingreq       MsgType = 0x16
	MsgPingresp      MsgType = 0x17
	MsgDisconnect    MsgType = 0x18
	MsgWillTopicUpd  MsgType = 0x1A
	MsgWillTopicResp MsgType = 0x1B
	MsgWillMsgUpd    MsgType = 0x1C
	MsgWillMsgResp   MsgType = 0x1D
	MsgFwdEncap      MsgType = 0xFE
)

var msgTypeNames = map[MsgType]string{
	MsgAdvertise:     "ADVERTISE",
	MsgSearchGW:      "SEARCHGW",
	MsgGWInfo:        "GWINFO",
	MsgConnect:       "CONNECT",
	MsgConnack:       "CONNACK",
	MsgWillTopicReq:  "WILLTOPICREQ",
	MsgWillTopic:     "WILLTOPIC",
	MsgWillMsgReq:    "WILLMSGREQ",
	MsgWillMsg:       "WILLMSG",
	MsgRegister:      "REGISTER",
	MsgRegack:        "REGACK",
	MsgPublish:       "PUBLISH",
	MsgPuback:        "PUBACK",
	MsgPubcomp:       "PUBCOMP",
	MsgPubrec:        "PUBREC",
	MsgPubrel:        "PUBREL",
	MsgSubscribe:     "SUBSCRIBE",
	MsgSuback:        "SUBACK",
	MsgUnsubscribe:   "UNSUBSCRIBE",
	MsgUnsuback:      "UNSUBACK",
	MsgPingreq:       "PINGREQ",
	MsgPingresp:      "PINGRESP",
	MsgDisconnect:    "DISCONNECT",
	MsgWillTopicUpd:  "WILLTOPICUPD",
	MsgWillTopicResp: "WILLTOPICRESP",
	MsgWillMsgUpd:    "WILLMSGUPD",
	MsgWillMsgResp:   "WILLMSGRESP",
	MsgFwdEncap:      "FRWDENCAP",
}

// String returns the protocol name of the message type
func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ReturnCode is the status carried by CONNACK, REGACK, PUBACK and SUBACK
type ReturnCode uint8

// Return code values
const (
	Accepted               ReturnCode = 0x00
	RejectedCongestion     ReturnCode = 0x01
	RejectedInvalidTopicID ReturnCode = 0x02
	RejectedNotSupported   ReturnCode = 0x03
)

func (rc ReturnCode) String() string {
	switch rc {
	case Accepted:
		return "accepted"
	case RejectedCongestion:
		return "rejected: congestion"
	case RejectedInvalidTopicID:
		return "rejected: invalid topic id"
	case RejectedNotSupported:
		return "rejected: not supported"
	default:
		return "rejected: unknown return code"
	}
}
