// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hexcodec converts between raw byte sequences, hexadecimal text,
// and UTF-8 text. All functions are pure and stateless.
package hexcodec

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const hexDigits = "0123456789ABCDEF"

// FormatError reports a hexadecimal string that does not decode into
// whole bytes.
type FormatError struct {
	Digits int // hex digit count of the offending group, 0 when no digits at all
}

func (e *FormatError) Error() string {
	if e.Digits == 0 {
		return "hex input contains no hex digits"
	}
	return fmt.Sprintf("hex group has odd digit count: %d", e.Digits)
}

// BytesToHex renders each byte as two uppercase hexadecimal digits,
// space-separated. Lossless and reversible via HexToBytes.
func BytesToHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[v>>4])
		sb.WriteByte(hexDigits[v&0x0F])
	}
	return sb.String()
}

// HexToBytes decodes a hexadecimal string into bytes. Whitespace splits
// the input into byte groups and characters outside [0-9A-Fa-f] are
// stripped within each group. A group with an odd digit count fails with
// a *FormatError, as does an input with no hex digits at all; a lone
// digit never pairs with a neighboring group, so "0 1" is rejected
// rather than read as 0x01.
func HexToBytes(s string) ([]byte, error) {
	var out []byte
	total := 0
	for _, group := range strings.Fields(s) {
		nibbles := make([]byte, 0, len(group))
		for i := 0; i < len(group); i++ {
			if v, ok := hexNibble(group[i]); ok {
				nibbles = append(nibbles, v)
			}
		}
		if len(nibbles)%2 != 0 {
			return nil, &FormatError{Digits: len(nibbles)}
		}
		total += len(nibbles)
		for i := 0; i < len(nibbles); i += 2 {
			out = append(out, nibbles[i]<<4|nibbles[i+1])
		}
	}
	if total == 0 {
		return nil, &FormatError{Digits: 0}
	}
	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// TextToBytes encodes text as UTF-8 bytes.
func TextToBytes(s string) []byte {
	return []byte(s)
}

// BytesToText decodes bytes as UTF-8 text. Invalid sequences are replaced
// with U+FFFD rather than failing; inbound device data is not guaranteed
// to be valid text but must still be displayable.
func BytesToText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

// EscapeControl replaces control characters with visible escape sequences
// so a transcript line stays on one line.
func EscapeControl(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r < 0x20 || r == 0x7F:
			fmt.Fprintf(&sb, `\x%02X`, r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
