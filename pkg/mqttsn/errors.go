// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttsn

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPacket is returned when a buffer cannot hold the packet its
	// header announces.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrUnsupportedType is returned for well framed packets whose type has no
	// decoder (gateway discovery, will handling, QoS 2, ...).
	ErrUnsupportedType = errors.New("unsupported packet type")

	// ErrExtendedLength is returned for packets using the three byte length
	// form, which is not supported.
	ErrExtendedLength = errors.New("extended length packets are not supported")

	// ErrPacketTooLarge is returned when a packet would not fit in a one byte
	// length field.
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrValidation is the parent of all field validation failures
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports a field that exceeds its protocol limit
type ValidationError struct {
	Field  string
	Length int
	Max    int
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return fmt.Sprintf("%s too long: %d bytes (max %d)", v.Field, v.Length, v.Max)
}

// Unwrap lets errors.Is match ErrValidation
func (v *ValidationError) Unwrap() error {
	return ErrValidation
}

func checkLength(field string, n, max int) error {
	if n > max {
		return &ValidationError{Field: field, Length: n, Max: max}
	}
	return nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}
