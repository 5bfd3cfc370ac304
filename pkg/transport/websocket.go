// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures a WebSocket stream transport
type WebSocketConfig struct {
	URL        string
	Username   string
	Password   string
	SkipVerify bool
	Timeout    time.Duration
}

// WebSocketPort presents the binary messages of a WebSocket connection as
// a byte stream. Messages are read by a background goroutine so a read
// timeout never interrupts the connection itself.
type WebSocketPort struct {
	conn     *websocket.Conn
	messages chan []byte
	done     chan struct{}
	once     sync.Once

	buf     []byte
	timeout time.Duration
	err     error // set by readLoop before messages is closed
}

// NewWebSocketPort starts reading from conn
func NewWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	w := &WebSocketPort{
		conn:     conn,
		messages: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketPort) readLoop() {
	defer close(w.messages)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			return
		}

		// Only binary messages carry frames
		if messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case w.messages <- data:
		case <-w.done:
			return
		}
	}
}

// Read returns buffered bytes or waits for the next message. It returns
// 0, nil when the read timeout expires.
func (w *WebSocketPort) Read(p []byte) (int, error) {
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	var expired <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data, ok := <-w.messages:
		if !ok {
			return 0, fmt.Errorf("%w: %v", ErrClosed, w.err)
		}
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-expired:
		return 0, nil
	}
}

// Write sends p as one binary message
func (w *WebSocketPort) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadTimeout sets the timeout for Read; a negative value blocks
func (w *WebSocketPort) SetReadTimeout(t time.Duration) error {
	if t < 0 {
		t = 0
	}
	w.timeout = t
	return nil
}

// Close closes the connection and stops the reader
func (w *WebSocketPort) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// OpenWebSocket dials a ws:// or wss:// endpoint with optional HTTP Basic
// auth and returns it as a stream transport
func OpenWebSocket(cfg WebSocketConfig) (*Stream, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", ErrTransportSetup, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported URL scheme: %s (use ws:// or wss://)", ErrTransportSetup, u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.SkipVerify,
		}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: WebSocket connection failed (HTTP %d): %v", ErrTransportSetup, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: WebSocket connection failed: %v", ErrTransportSetup, err)
	}

	s := NewStream(NewWebSocketPort(conn), cfg.Timeout)
	s.description = fmt.Sprintf("WebSocket: %s", cfg.URL)
	return s, nil
}
