// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttsn

import "fmt"

// ShortTopicLength is the exact length of a short topic name
const ShortTopicLength = 2

// TopicID is a 16-bit topic identifier together with the way it was obtained
type TopicID struct {
	Type TopicIDType
	ID   uint16
}

// NormalTopic returns a topic id assigned by the gateway through REGISTER/REGACK
// or SUBSCRIBE/SUBACK.
func NormalTopic(id uint16) TopicID {
	return TopicID{Type: TopicNormal, ID: id}
}

// PredefinedTopic returns a topic id known in advance by client and gateway
func PredefinedTopic(id uint16) TopicID {
	return TopicID{Type: TopicPredefined, ID: id}
}

// ShortTopic packs a two byte topic name into a topic id. The first byte is the
// high byte, so "ab" becomes 0x6162.
func ShortTopic(name string) (TopicID, error) {
	if len(name) != ShortTopicLength {
		return TopicID{}, fmt.Errorf("short topic name must be exactly %d bytes, got %d", ShortTopicLength, len(name))
	}
	return TopicID{Type: TopicShort, ID: uint16(name[0])<<8 | uint16(name[1])}, nil
}

// IsShortTopicName reports whether name qualifies as a short topic name
func IsShortTopicName(name string) bool {
	return len(name) == ShortTopicLength
}

// ShortName unpacks a short topic id back into its two character name
func (t TopicID) ShortName() string {
	return string([]byte{byte(t.ID >> 8), byte(t.ID)})
}

func (t TopicID) String() string {
	if t.Type == TopicShort {
		return fmt.Sprintf("short(%q)", t.ShortName())
	}
	return fmt.Sprintf("%s(%d)", t.Type, t.ID)
}
