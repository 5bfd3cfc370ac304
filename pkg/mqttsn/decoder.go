// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttsn

import "fmt"

// Decode parses one packet from b. Only the number of bytes announced by the
// length byte is read; trailing bytes are ignored. A FRWDENCAP envelope is
// decoded together with the inner packet that follows it.
func Decode(b []byte) (Packet, error) {
	if len(b) < headerLength {
		return nil, malformed("buffer too short: %d bytes", len(b))
	}

	length := int(b[0])
	switch {
	case length == 0:
		return nil, malformed("zero length")
	case length == 1:
		return nil, fmt.Errorf("%w: %w", ErrMalformedPacket, ErrExtendedLength)
	case length > len(b):
		return nil, malformed("length byte announces %d bytes, got %d", length, len(b))
	}

	t := MsgType(b[1])
	p := newPacket(t)
	if p == nil {
		return nil, fmt.Errorf("%w: %s (0x%02X)", ErrUnsupportedType, t, byte(t))
	}

	frame := b[:length]
	if t == MsgFwdEncap {
		frame = b
	}
	if err := p.decode(frame); err != nil {
		return nil, err
	}
	return p, nil
}

func newPacket(t MsgType) Packet {
	switch t {
	case MsgConnect:
		return &Connect{}
	case MsgConnack:
		return &Connack{}
	case MsgRegister:
		return &Register{}
	case MsgRegack:
		return &Regack{}
	case MsgPublish:
		return &Publish{}
	case MsgPuback:
		return &Puback{}
	case MsgSubscribe:
		return &Subscribe{}
	case MsgSuback:
		return &Suback{}
	case MsgPingreq:
		return &Pingreq{}
	case MsgPingresp:
		return &Pingresp{}
	case MsgDisconnect:
		return &Disconnect{}
	case MsgFwdEncap:
		return &FwdEncap{}
	}
	return nil
}

// Frame decoder states (internal)
const (
	stateLength = iota
	stateBody
)

// FrameDecoder splits a byte stream into MQTT-SN frames. The first byte of a
// frame is its total length. For FRWDENCAP frames the inner packet that
// follows the envelope is included in the frame.
type FrameDecoder struct {
	state  int
	buffer []byte
	length int // bytes expected for the frame so far
	outer  int // envelope length, 0 unless the frame is FRWDENCAP
}

// NewFrameDecoder creates a new frame decoder
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{
		state:  stateLength,
		buffer: make([]byte, 0, 2*MaxPacketLength),
	}
}

// Reset drops any partially received frame
func (d *FrameDecoder) Reset() {
	d.state = stateLength
	d.buffer = d.buffer[:0]
	d.length = 0
	d.outer = 0
}

// InProgress reports whether part of a frame has been received
func (d *FrameDecoder) InProgress() bool {
	return d.state != stateLength
}

// Buffered returns the number of bytes of the current partial frame
func (d *FrameDecoder) Buffered() int {
	return len(d.buffer)
}

// DecodeByte feeds one byte to the decoder. It returns the complete frame
// when b was its last byte, nil while the frame is incomplete, and an error
// when the byte stream cannot be a valid frame.
func (d *FrameDecoder) DecodeByte(b byte) ([]byte, error) {
	switch d.state {
	case stateLength:
		switch b {
		case 0:
			return nil, fmt.Errorf("invalid frame length: 0")
		case 1:
			return nil, ErrExtendedLength
		}
		d.buffer = append(d.buffer[:0], b)
		d.length = int(b)
		d.outer = 0
		d.state = stateBody
		return nil, nil

	case stateBody:
		d.buffer = append(d.buffer, b)
		n := len(d.buffer)

		if n == headerLength && MsgType(b) == MsgFwdEncap {
			if d.length < 3 {
				d.Reset()
				return nil, fmt.Errorf("invalid FRWDENCAP length: %d", d.length)
			}
			// Wait for the inner packet's length byte
			d.outer = d.length
			d.length = d.outer + 1
		} else if d.outer > 0 && n == d.outer+1 {
			if b < headerLength {
				d.Reset()
				return nil, fmt.Errorf("invalid inner packet length: %d", b)
			}
			d.length = d.outer + int(b)
		}

		if n >= d.length {
			frame := make([]byte, n)
			copy(frame, d.buffer)
			d.Reset()
			return frame, nil
		}
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}
