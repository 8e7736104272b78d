// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transcript

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// wireEntry is the machine-readable export form of an Entry. Integer keys
// keep the dump compact.
type wireEntry struct {
	ID     uint64 `cbor:"1,keyasint"`
	UnixMS int64  `cbor:"2,keyasint"`
	Kind   int    `cbor:"3,keyasint"`
	Text   string `cbor:"4,keyasint"`
	Hex    string `cbor:"5,keyasint"`
	Size   int    `cbor:"6,keyasint"`
}

// ExportCBOR encodes entries as a CBOR array for machine consumption.
func ExportCBOR(entries []Entry) ([]byte, error) {
	out := make([]wireEntry, len(entries))
	for i, e := range entries {
		out[i] = wireEntry{
			ID:     e.ID,
			UnixMS: e.Timestamp.UnixMilli(),
			Kind:   int(e.Kind),
			Text:   e.Text,
			Hex:    e.Hex,
			Size:   e.Size,
		}
	}
	data, err := cbor.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript: %w", err)
	}
	return data, nil
}

// DecodeCBOR decodes a CBOR transcript dump produced by ExportCBOR.
func DecodeCBOR(data []byte) ([]Entry, error) {
	var in []wireEntry
	if err := cbor.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	out := make([]Entry, len(in))
	for i, w := range in {
		out[i] = Entry{
			ID:        w.ID,
			Timestamp: time.UnixMilli(w.UnixMS),
			Kind:      Kind(w.Kind),
			Text:      w.Text,
			Hex:       w.Hex,
			Size:      w.Size,
		}
	}
	return out, nil
}
