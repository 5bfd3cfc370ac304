// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"fmt"
	"sort"
	"time"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
)

// Statistics counts the traffic and failures of a session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	PacketsSent     uint64
	PacketsReceived uint64
	Sent            map[mqttsn.MsgType]uint64
	Received        map[mqttsn.MsgType]uint64
	PingsSent       uint64
	ReceiveTimeouts uint64 // receive attempts without data
	NoReplies       uint64 // waits that ran out of time
	Malformed       uint64
	Violations      uint64
	Mismatches      uint64 // well formed packets nobody waited for

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics(now time.Time) *Statistics {
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		Sent:           make(map[mqttsn.MsgType]uint64),
		Received:       make(map[mqttsn.MsgType]uint64),
	}
}

// RecordSent counts one outbound packet of type t
func (s *Statistics) RecordSent(t mqttsn.MsgType, now time.Time) {
	s.PacketsSent++
	s.Sent[t]++
	if t == mqttsn.MsgPingreq {
		s.PingsSent++
	}
	s.LastUpdateTime = now
}

// RecordReceived counts one inbound packet of type t
func (s *Statistics) RecordReceived(t mqttsn.MsgType, now time.Time) {
	s.PacketsReceived++
	s.Received[t]++
	s.LastUpdateTime = now
}

// Errors returns the number of malformed, violating and unanswered events
func (s *Statistics) Errors() uint64 {
	return s.Malformed + s.Violations + s.NoReplies
}

// CalculateRates calculates packet and error rates up to now
func (s *Statistics) CalculateRates(now time.Time) {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.PacketsSent+s.PacketsReceived) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// Clone returns a deep copy
func (s *Statistics) Clone() Statistics {
	c := *s
	c.Sent = make(map[mqttsn.MsgType]uint64, len(s.Sent))
	for k, v := range s.Sent {
		c.Sent[k] = v
	}
	c.Received = make(map[mqttsn.MsgType]uint64, len(s.Received))
	for k, v := range s.Received {
		c.Received[k] = v
	}
	return c
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	elapsed := s.LastUpdateTime.Sub(s.StartTime)
	s.CalculateRates(s.LastUpdateTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Packets Sent:    %8d\n", s.PacketsSent)
	for _, t := range sortedTypes(s.Sent) {
		result += fmt.Sprintf("  %-14s %8d\n", t.String()+":", s.Sent[t])
	}
	result += fmt.Sprintf("Packets Recv:    %8d\n", s.PacketsReceived)
	for _, t := range sortedTypes(s.Received) {
		result += fmt.Sprintf("  %-14s %8d\n", t.String()+":", s.Received[t])
	}

	if s.ReceiveTimeouts > 0 {
		result += fmt.Sprintf("Recv Timeouts:   %8d\n", s.ReceiveTimeouts)
	}
	if s.NoReplies > 0 {
		result += fmt.Sprintf("No Reply:        %8d\n", s.NoReplies)
	}
	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed Pkts:  %8d\n", s.Malformed)
	}
	if s.Violations > 0 {
		result += fmt.Sprintf("Violations:      %8d\n", s.Violations)
	}
	if s.Mismatches > 0 {
		result += fmt.Sprintf("Unexpected Pkts: %8d\n", s.Mismatches)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset(now time.Time) {
	*s = *NewStatistics(now)
}

func sortedTypes(m map[mqttsn.MsgType]uint64) []mqttsn.MsgType {
	types := make([]mqttsn.MsgType, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
