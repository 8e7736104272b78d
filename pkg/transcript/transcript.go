// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transcript implements the bounded session transcript: an
// append-only log of communication activity with running byte counters.
package transcript

import (
	"sync"
	"time"

	"github.com/Thermoquad/sextant/pkg/hexcodec"
)

// Capacity is the retention limit. Appending beyond it evicts the oldest
// entries first.
const Capacity = 2000

// Kind classifies a transcript entry.
type Kind int

const (
	KindReceived Kind = iota
	KindTransmitted
	KindInfo
	KindError
)

// String returns the entry kind name used in analysis prompts.
func (k Kind) String() string {
	switch k {
	case KindReceived:
		return "RX"
	case KindTransmitted:
		return "TX"
	case KindInfo:
		return "INFO"
	case KindError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Marker returns the two-character direction marker used in rendered
// transcript lines.
func (k Kind) Marker() string {
	switch k {
	case KindReceived:
		return "<-"
	case KindTransmitted:
		return "->"
	case KindError:
		return "!!"
	default:
		return "--"
	}
}

// Entry is one logged unit of communication activity. Entries are
// immutable once created; Text and Hex are both views of the same
// underlying byte sequence.
type Entry struct {
	ID        uint64
	Timestamp time.Time
	Kind      Kind
	Text      string
	Hex       string
	Size      int
}

// Counters holds the running byte totals.
type Counters struct {
	RxBytes uint64
	TxBytes uint64
}

// Log is a capacity-bounded, append-only transcript. All methods are safe
// for concurrent use; an append is never observable half-done.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	nextID   uint64
	counters Counters
}

// NewLog creates an empty transcript log.
func NewLog() *Log {
	return &Log{entries: make([]Entry, 0, 64)}
}

// Append records raw bytes with their display text, evicting from the
// front when over capacity. Received and Transmitted entries bump the
// matching byte counter; Info and Error entries do not.
func (l *Log) Append(kind Kind, raw []byte, text string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	e := Entry{
		ID:        l.nextID,
		Timestamp: time.Now(),
		Kind:      kind,
		Text:      text,
		Hex:       hexcodec.BytesToHex(raw),
		Size:      len(raw),
	}
	l.entries = append(l.entries, e)
	if len(l.entries) > Capacity {
		l.entries = l.entries[len(l.entries)-Capacity:]
	}

	switch kind {
	case KindReceived:
		l.counters.RxBytes += uint64(len(raw))
	case KindTransmitted:
		l.counters.TxBytes += uint64(len(raw))
	}
	return e
}

// AppendNote records a status message with no backing byte sequence. The
// hex view is recomputed by re-encoding the text as UTF-8.
func (l *Log) AppendNote(kind Kind, text string) Entry {
	return l.Append(kind, hexcodec.TextToBytes(text), text)
}

// Reset clears all entries and zeroes both counters. Irreversible.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
	l.counters = Counters{}
}

// Len returns the current entry count.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Counters returns the running byte totals.
func (l *Log) Counters() Counters {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counters
}

// Snapshot returns a copy of all entries in insertion order.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Tail returns a copy of the most recent n entries (all of them when the
// log holds fewer).
func (l *Log) Tail(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Filter returns the entries matching keep, in insertion order. The
// result is an eager snapshot, not a live view: the log is never mutated
// and may keep growing, while the returned slice stays stable however
// long the caller holds it.
func (l *Log) Filter(keep func(Entry) bool) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
