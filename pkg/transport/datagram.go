// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// DatagramConfig configures a UDP transport
type DatagramConfig struct {
	// LocalAddr is the local bind address; empty or port 0 selects an
	// ephemeral port
	LocalAddr string

	// RemoteAddr is the gateway address as host:port
	RemoteAddr string

	Timeout time.Duration
}

// Datagram is a UDP transport connected to a single gateway. Every
// datagram carries exactly one packet.
type Datagram struct {
	cfg    DatagramConfig
	conn   *net.UDPConn
	buf    []byte
	closed atomic.Bool
}

// NewDatagram creates an unconnected UDP transport; call Initialize to bind
func NewDatagram(cfg DatagramConfig) *Datagram {
	return &Datagram{
		cfg: cfg,
		buf: make([]byte, maxDatagram),
	}
}

// Initialize binds the local endpoint and connects it to the gateway
func (d *Datagram) Initialize() error {
	raddr, err := net.ResolveUDPAddr("udp", d.cfg.RemoteAddr)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrTransportSetup, d.cfg.RemoteAddr, err)
	}

	var laddr *net.UDPAddr
	if d.cfg.LocalAddr != "" {
		laddr, err = net.ResolveUDPAddr("udp", d.cfg.LocalAddr)
		if err != nil {
			return fmt.Errorf("%w: resolve %s: %v", ErrTransportSetup, d.cfg.LocalAddr, err)
		}
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportSetup, err)
	}
	d.conn = conn
	return nil
}

// Send writes b as a single datagram
func (d *Datagram) Send(b []byte) (int, error) {
	if d.conn == nil || d.closed.Load() {
		return 0, ErrClosed
	}
	n, err := d.conn.Write(b)
	if err != nil {
		return n, d.mapError(err)
	}
	return n, nil
}

// Receive returns the next datagram
func (d *Datagram) Receive() ([]byte, error) {
	if d.conn == nil || d.closed.Load() {
		return nil, ErrClosed
	}

	var deadline time.Time
	if d.cfg.Timeout > 0 {
		deadline = time.Now().Add(d.cfg.Timeout)
	}
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return nil, d.mapError(err)
	}

	n, err := d.conn.Read(d.buf)
	if err != nil {
		return nil, d.mapError(err)
	}

	frame := make([]byte, n)
	copy(frame, d.buf[:n])
	return frame, nil
}

// Timeout returns the per-receive timeout
func (d *Datagram) Timeout() time.Duration {
	return d.cfg.Timeout
}

// LocalAddr returns the bound local address, or nil before Initialize
func (d *Datagram) LocalAddr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Close releases the socket. It may be called while another goroutine is
// blocked in Receive, which then returns ErrClosed.
func (d *Datagram) Close() error {
	if d.conn == nil || !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.conn.Close()
}

func (d *Datagram) String() string {
	return fmt.Sprintf("UDP: %s", d.cfg.RemoteAddr)
}

func (d *Datagram) mapError(err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
