// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttsn

import (
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p Packet) string {
	result := fmt.Sprintf("%s (0x%02X) len=%d\n", p.Type(), byte(p.Type()), p.Length())

	switch v := p.(type) {
	case *Connect:
		result += fmt.Sprintf("  Client ID: %q, Keep-alive: %ds, Protocol: 0x%02X\n", v.ClientID, v.Duration, v.ProtocolID)
		result += fmt.Sprintf("  Flags: %s\n", v.Flags)
	case *Connack:
		result += fmt.Sprintf("  Return Code: %s (0x%02X)\n", v.ReturnCode, byte(v.ReturnCode))
	case *Register:
		result += fmt.Sprintf("  Topic: %q, Topic ID: %d, Message ID: %d\n", v.TopicName, v.TopicID, v.MessageID)
	case *Regack:
		result += fmt.Sprintf("  Topic ID: %d, Message ID: %d, Return Code: %s\n", v.TopicID, v.MessageID, v.ReturnCode)
	case *Publish:
		result += fmt.Sprintf("  Topic: %s, Message ID: %d\n", v.Topic(), v.MessageID)
		result += fmt.Sprintf("  Flags: %s\n", v.Flags)
		if len(v.Data) > 0 {
			result += FormatHex(v.Data)
		}
	case *Puback:
		result += fmt.Sprintf("  Topic ID: %d, Message ID: %d, Return Code: %s\n", v.TopicID, v.MessageID, v.ReturnCode)
	case *Subscribe:
		if v.Flags.TopicIDType == TopicPredefined {
			result += fmt.Sprintf("  Topic ID: %d, Message ID: %d\n", v.TopicID, v.MessageID)
		} else {
			result += fmt.Sprintf("  Topic: %q, Message ID: %d\n", v.TopicName, v.MessageID)
		}
		result += fmt.Sprintf("  Flags: %s\n", v.Flags)
	case *Suback:
		result += fmt.Sprintf("  Topic ID: %d, Message ID: %d, QoS: %d, Return Code: %s\n",
			v.TopicID, v.MessageID, v.Flags.QoS, v.ReturnCode)
	case *Pingreq:
		if len(v.ClientID) > 0 {
			result += fmt.Sprintf("  Client ID: %q\n", v.ClientID)
		}
	case *Disconnect:
		if v.HasDuration {
			result += fmt.Sprintf("  Sleep Duration: %ds\n", v.Duration)
		}
	case *FwdEncap:
		result += fmt.Sprintf("  Ctrl: 0x%02X, Wireless Node ID: %X\n", v.Ctrl, v.WirelessNodeID)
		if inner, err := Decode(v.Inner); err == nil {
			for _, line := range strings.Split(strings.TrimRight(FormatPacket(inner), "\n"), "\n") {
				result += "  | " + line + "\n"
			}
		} else {
			result += fmt.Sprintf("  Inner: %v\n", err)
		}
	}

	return result
}

// FormatHex returns an indented hex dump of data, 16 bytes per line
func FormatHex(data []byte) string {
	var sb strings.Builder
	sb.WriteString("  Data: ")
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n        ")
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}
	sb.WriteString("\n")
	return sb.String()
}
