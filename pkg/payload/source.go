// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package payload reads message payloads from files or stdin and converts
// them between the formats offered on the command line.
package payload

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
)

// MaxLength is the largest payload a single PUBLISH can carry
const MaxLength = mqttsn.MaxPayloadLength

// Read reads one payload from r. Input beyond MaxLength is dropped and
// reported with truncated.
func Read(r io.Reader) (data []byte, truncated bool, err error) {
	data, err = io.ReadAll(io.LimitReader(r, MaxLength+1))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read payload: %w", err)
	}
	if len(data) > MaxLength {
		return data[:MaxLength], true, nil
	}
	return data, false, nil
}

// ReadFile reads one payload from path; "-" reads stdin
func ReadFile(path string) ([]byte, bool, error) {
	if path == "-" {
		return Read(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open payload file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// ScanLines calls fn for every non-empty line of r. Lines longer than
// MaxLength are cut to MaxLength and passed with truncated set. Scanning
// stops at the first error returned by fn.
func ScanLines(r io.Reader, fn func(line []byte, truncated bool) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		truncated := false
		if len(line) > MaxLength {
			line = line[:MaxLength]
			truncated = true
		}

		msg := make([]byte, len(line))
		copy(msg, line)
		if err := fn(msg, truncated); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read lines: %w", err)
	}
	return nil
}
