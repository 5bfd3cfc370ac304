// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// newEchoBridge starts a WebSocket server that checks basic auth, sends
// the given messages, then echoes binary messages back
func newEchoBridge(t *testing.T, greeting [][]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte("ignored"))
		for _, msg := range greeting {
			conn.WriteMessage(websocket.BinaryMessage, msg)
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocket_ReassemblesSplitMessages(t *testing.T) {
	srv := newEchoBridge(t, [][]byte{connectFrame[:1], connectFrame[1:6], connectFrame[6:]})

	s, err := OpenWebSocket(WebSocketConfig{
		URL:      wsURL(srv),
		Username: "admin",
		Password: "secret",
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("OpenWebSocket failed: %v", err)
	}
	defer s.Close()

	frame, err := s.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(frame, connectFrame) {
		t.Errorf("got % X, want % X", frame, connectFrame)
	}

	if _, err := s.Send([]byte{2, 0x16}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	frame, err = s.Receive()
	if err != nil || !bytes.Equal(frame, []byte{2, 0x16}) {
		t.Errorf("echo: got % X, %v", frame, err)
	}
	if !strings.HasPrefix(s.String(), "WebSocket: ws://") {
		t.Errorf("String() = %q", s.String())
	}
}

func TestWebSocket_ReadTimeoutKeepsConnection(t *testing.T) {
	srv := newEchoBridge(t, nil)

	s, err := OpenWebSocket(WebSocketConfig{URL: wsURL(srv), Username: "admin", Password: "secret", Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Receive(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// The connection survives the timeout
	s.Send([]byte{2, 0x17})
	var frame []byte
	for i := 0; i < 50; i++ {
		frame, err = s.Receive()
		if !errors.Is(err, ErrTimeout) {
			break
		}
	}
	if err != nil || !bytes.Equal(frame, []byte{2, 0x17}) {
		t.Errorf("after timeout: got % X, %v", frame, err)
	}
}

func TestWebSocket_AuthFailure(t *testing.T) {
	srv := newEchoBridge(t, nil)

	_, err := OpenWebSocket(WebSocketConfig{URL: wsURL(srv), Username: "admin", Password: "wrong"})
	if !errors.Is(err, ErrTransportSetup) {
		t.Fatalf("expected ErrTransportSetup, got %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("error should carry the HTTP status: %v", err)
	}
}

func TestWebSocket_BadScheme(t *testing.T) {
	_, err := OpenWebSocket(WebSocketConfig{URL: "http://example.com"})
	if !errors.Is(err, ErrTransportSetup) {
		t.Errorf("expected ErrTransportSetup, got %v", err)
	}
}

func TestWebSocketPort_BlockingTimeout(t *testing.T) {
	w := &WebSocketPort{}
	w.SetReadTimeout(serial.NoTimeout)
	if w.timeout != 0 {
		t.Errorf("negative timeout should block, got %v", w.timeout)
	}
}

// ============================================================
// Serial Configuration Tests
// ============================================================

func TestParseParity(t *testing.T) {
	tests := []struct {
		in   string
		want serial.Parity
	}{
		{"none", serial.NoParity},
		{"", serial.NoParity},
		{"odd", serial.OddParity},
		{"EVEN", serial.EvenParity},
		{"mark", serial.MarkParity},
		{"s", serial.SpaceParity},
	}
	for _, tt := range tests {
		got, err := ParseParity(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseParity(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseParity("sometimes"); err == nil {
		t.Error("invalid parity accepted")
	}
}

func TestSerialConfig_Mode(t *testing.T) {
	mode, err := SerialConfig{BaudRate: 115200, Parity: "even", StopBits: 2, FlowControl: "hardware"}.Mode()
	if err != nil {
		t.Fatal(err)
	}
	if mode.BaudRate != 115200 || mode.DataBits != 8 || mode.Parity != serial.EvenParity || mode.StopBits != serial.TwoStopBits {
		t.Errorf("unexpected mode: %+v", mode)
	}
	if mode.InitialStatusBits == nil || !mode.InitialStatusBits.RTS {
		t.Error("hardware flow control should assert RTS")
	}

	mode, err = SerialConfig{BaudRate: 9600}.Mode()
	if err != nil {
		t.Fatal(err)
	}
	if mode.InitialStatusBits != nil || mode.StopBits != serial.OneStopBit {
		t.Errorf("unexpected default mode: %+v", mode)
	}

	bad := []SerialConfig{
		{Parity: "x"},
		{StopBits: 3},
		{DataBits: 9},
		{FlowControl: "xon"},
	}
	for _, c := range bad {
		if _, err := c.Mode(); err == nil {
			t.Errorf("config %+v accepted", c)
		}
	}
}

func TestOpenSerial_MissingPort(t *testing.T) {
	_, err := OpenSerial(SerialConfig{Port: "/dev/does-not-exist-mqttsn", BaudRate: 9600})
	if !errors.Is(err, ErrTransportSetup) {
		t.Errorf("expected ErrTransportSetup, got %v", err)
	}
}
