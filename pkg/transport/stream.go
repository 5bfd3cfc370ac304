// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"go.bug.st/serial"
)

// StreamPort is a byte stream with a configurable read timeout. A read that
// times out returns 0 bytes and a nil error. serial.Port satisfies it.
type StreamPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Stream is a transport over a byte stream without message boundaries.
// Frames are reassembled using the leading length byte.
type Stream struct {
	port        StreamPort
	timeout     time.Duration
	description string

	decoder *mqttsn.FrameDecoder
	pending []byte // bytes read past the end of the last frame
	buf     []byte
	closed  atomic.Bool
}

// NewStream wraps an already open port
func NewStream(port StreamPort, timeout time.Duration) *Stream {
	return &Stream{
		port:        port,
		timeout:     timeout,
		description: "stream",
		decoder:     mqttsn.NewFrameDecoder(),
		buf:         make([]byte, mqttsn.MaxPacketLength),
	}
}

// Initialize is a no-op; the port is opened by its constructor
func (s *Stream) Initialize() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", ErrTransportSetup, ErrClosed)
	}
	return nil
}

// Send writes the whole frame, retrying short writes
func (s *Stream) Send(b []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	total := 0
	for total < len(b) {
		n, err := s.port.Write(b[total:])
		total += n
		if err != nil {
			return total, s.mapError(err)
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// Receive reads until one complete frame has been assembled. The wait for
// the first byte and the wait for the rest of the frame are each bounded by
// the timeout. A partial frame is discarded when the timeout expires.
func (s *Stream) Receive() ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if len(s.pending) > 0 {
		data := s.pending
		s.pending = nil
		frame, err := s.feed(data)
		if frame != nil || err != nil {
			return frame, err
		}
	}

	deadline := s.deadline()
	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		wait := serial.NoTimeout
		if s.timeout > 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				partial := s.decoder.Buffered()
				s.decoder.Reset()
				if partial > 0 {
					return nil, fmt.Errorf("%w: incomplete frame (%d bytes)", ErrTimeout, partial)
				}
				return nil, ErrTimeout
			}
		}
		if err := s.port.SetReadTimeout(wait); err != nil {
			return nil, s.mapError(err)
		}

		n, err := s.port.Read(s.buf)
		if err != nil {
			if s.closed.Load() {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, s.mapError(err)
		}
		if n == 0 {
			// Not ready yet
			continue
		}

		started := !s.decoder.InProgress()
		frame, err := s.feed(s.buf[:n])
		if frame != nil || err != nil {
			return frame, err
		}
		if started {
			deadline = s.deadline()
		}
	}
}

// feed runs data through the frame decoder. Bytes after a completed frame
// or an invalid length byte are kept for the next call.
func (s *Stream) feed(data []byte) ([]byte, error) {
	for i, b := range data {
		frame, err := s.decoder.DecodeByte(b)
		if err != nil {
			s.keep(data[i+1:])
			return nil, fmt.Errorf("%w: %v", ErrFrame, err)
		}
		if frame != nil {
			s.keep(data[i+1:])
			return frame, nil
		}
	}
	return nil, nil
}

func (s *Stream) keep(rest []byte) {
	if len(rest) == 0 {
		return
	}
	s.pending = append(s.pending, rest...)
}

func (s *Stream) deadline() time.Time {
	return time.Now().Add(s.timeout)
}

// Timeout returns the per-receive timeout
func (s *Stream) Timeout() time.Duration {
	return s.timeout
}

// Close closes the underlying port
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.port.Close()
}

func (s *Stream) String() string {
	return s.description
}

func (s *Stream) mapError(err error) error {
	var portErr *serial.PortError
	switch {
	case errors.As(err, &portErr) && portErr.Code() == serial.PortClosed:
		return fmt.Errorf("%w: %v", ErrClosed, err)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
