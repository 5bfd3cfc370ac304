// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttsn

import "fmt"

// Encode serializes a packet. The length byte is computed from the packet
// contents. Packets built with the New* constructors always fit.
func Encode(p Packet) ([]byte, error) {
	n := p.Length()
	if n > MaxPacketLength {
		return nil, fmt.Errorf("%w: %s length %d (max %d)", ErrPacketTooLarge, p.Type(), n, MaxPacketLength)
	}

	size := n
	if fw, ok := p.(*FwdEncap); ok {
		size = fw.Size()
	}

	b := make([]byte, 0, size)
	b = append(b, byte(n), byte(p.Type()))
	return p.appendBody(b), nil
}
