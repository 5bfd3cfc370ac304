// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttsn

import (
	"errors"
	"fmt"
)

// ErrNotEncapsulated is returned by Unwrap for packets without a FRWDENCAP
// envelope.
var ErrNotEncapsulated = errors.New("packet is not forwarder encapsulated")

// Wrap encloses an encoded packet in a FRWDENCAP envelope carrying the
// wireless node id of the sender.
func Wrap(inner []byte, ctrl byte, wirelessNodeID []byte) ([]byte, error) {
	fw, err := NewFwdEncap(ctrl, wirelessNodeID, inner)
	if err != nil {
		return nil, err
	}
	return Encode(fw)
}

// Unwrap decodes a FRWDENCAP envelope. The returned Inner field holds the
// exact bytes of the enclosed packet.
func Unwrap(b []byte) (*FwdEncap, error) {
	if len(b) >= headerLength && MsgType(b[1]) != MsgFwdEncap {
		return nil, fmt.Errorf("%w: got %s", ErrNotEncapsulated, MsgType(b[1]))
	}
	p, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return p.(*FwdEncap), nil
}
