// Package jsonutil provides canonical JSON encoding for durable state
// and reports: sorted keys, compact separators, one trailing newline.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalCanonical encodes v as canonical JSON. Object keys are sorted
// (encoding/json sorts map keys), output is compact, and a single
// trailing newline is appended so journal lines and reports are stable
// byte-for-byte.
func MarshalCanonical(v interface{}) ([]byte, error) {
	// Round-trip through interface{} so struct field order collapses
	// into sorted map keys.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical re-decode: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical re-encode: %w", err)
	}
	return append(out, '\n'), nil
}

// MarshalCanonicalString is MarshalCanonical returning a string
func MarshalCanonicalString(v interface{}) (string, error) {
	b, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
