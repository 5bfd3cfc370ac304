// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Thermoquad/mqttsn-tools/pkg/client"
	"github.com/Thermoquad/mqttsn-tools/pkg/transport"
)

// Exit codes shared by all commands
const (
	exitOK         = 0
	exitFailure    = 1
	exitConnection = 2
)

// exitError carries an explicit exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// ExitCode maps a command error to the process exit code: 2 for
// connection errors, 1 for everything else
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	if errors.Is(err, transport.ErrTransportSetup) || errors.Is(err, transport.ErrClosed) {
		return exitConnection
	}
	return exitFailure
}

// resolvePassword asks for the WebSocket password when a username is set
// without one
func resolvePassword() error {
	if cfg.URL == "" || cfg.Username == "" || cfg.Password != "" {
		return nil
	}
	password, err := promptPassword(os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	cfg.Password = password
	return nil
}

// promptPassword reads one line from in. Terminals read without echo.
// Other input is read a byte at a time so a piped message after the
// password line stays unread for pub -s.
func promptPassword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprintf(out, "Password for %s: ", cfg.Username)
	defer fmt.Fprintln(out)

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				break
			}
			line = append(line, buf[0])
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
	}
	return strings.TrimSuffix(string(line), "\r"), nil
}

// OpenTransport opens the serial, WebSocket or UDP transport selected by
// the flags
func OpenTransport() (transport.Transport, error) {
	if err := resolvePassword(); err != nil {
		return nil, err
	}
	return cfg.Transport()
}

// OpenStream opens the serial or WebSocket link. Commands that only make
// sense on a byte stream use it.
func OpenStream() (*transport.Stream, error) {
	if !cfg.HasStream() {
		return nil, fmt.Errorf("either --serial or --url must be specified")
	}
	if err := resolvePassword(); err != nil {
		return nil, err
	}
	return cfg.Stream()
}

// openClient validates the session flags and returns a client over the
// selected transport. Connection failures are wrapped for exit code 2.
func openClient() (*client.Client, error) {
	if err := cfg.ValidateSession(); err != nil {
		return nil, err
	}

	t, err := OpenTransport()
	if err != nil {
		return nil, &exitError{code: exitConnection, err: err}
	}

	c, err := client.New(t, cfg.ClientConfig())
	if err != nil {
		t.Close()
		return nil, &exitError{code: exitConnection, err: err}
	}
	return c, nil
}
