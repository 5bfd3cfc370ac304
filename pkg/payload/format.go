// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package payload

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Format selects how payloads are entered and displayed
type Format string

// Payload formats
const (
	FormatRaw  Format = "raw"
	FormatHex  Format = "hex"
	FormatCBOR Format = "cbor"
)

// ParseFormat validates a format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case "", FormatRaw:
		return FormatRaw, nil
	case FormatHex, FormatCBOR:
		return f, nil
	}
	return FormatRaw, fmt.Errorf("invalid payload format: %s (valid: raw, hex, cbor)", name)
}

var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Encode converts user input to wire bytes. Hex input may contain
// whitespace; CBOR input is a JSON document encoded as deterministic CBOR.
func Encode(f Format, input []byte) ([]byte, error) {
	switch f {
	case FormatRaw, "":
		return input, nil

	case FormatHex:
		clean := strings.Join(strings.Fields(string(input)), "")
		data, err := hex.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return data, nil

	case FormatCBOR:
		dec := json.NewDecoder(bytes.NewReader(input))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("invalid JSON payload: %w", err)
		}
		data, err := cborEncMode.Marshal(fromJSON(v))
		if err != nil {
			return nil, fmt.Errorf("failed to encode CBOR: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("invalid payload format: %s", f)
}

// fromJSON replaces json.Number values with integers where possible
func fromJSON(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []interface{}:
		for i := range val {
			val[i] = fromJSON(val[i])
		}
		return val
	case map[string]interface{}:
		for k := range val {
			val[k] = fromJSON(val[k])
		}
		return val
	}
	return v
}

// Render formats payload bytes for display. CBOR that fails to parse is
// shown as hex.
func Render(f Format, data []byte) string {
	switch f {
	case FormatHex:
		return fmt.Sprintf("% X", data)
	case FormatCBOR:
		diag, err := cbor.Diagnose(data)
		if err != nil {
			return fmt.Sprintf("% X (invalid CBOR: %v)", data, err)
		}
		return diag
	}
	return string(data)
}
