// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session implements the serial session engine: connection
// lifecycle, concurrent read/write over a borrowed duplex byte channel,
// and the timed auto-retransmission loop. One Session owns one transcript
// log; a new connection after a disconnect starts a fresh read loop.
package session

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/sextant/pkg/hexcodec"
	"github.com/Thermoquad/sextant/pkg/transcript"
)

// State is the connection lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

const (
	// MinRepeatInterval bounds auto-repeat resource usage.
	MinRepeatInterval = 10 * time.Millisecond

	// lineTerminator is appended to text sends when the option is on and
	// the text does not already end with it.
	lineTerminator = "\r\n"

	// readerStopTimeout bounds how long Closing waits for the read loop.
	readerStopTimeout = 2 * time.Second

	// BreakDuration is the default line break length.
	BreakDuration = 250 * time.Millisecond
)

// Session owns the transcript log, the connection state, and the
// auto-repeat timer. The duplex channel is borrowed from the transport
// for the lifetime of one connection and returned on close.
type Session struct {
	mu        sync.Mutex
	state     State
	transport Transport
	cfg       LineConfig

	log *transcript.Log

	// Exclusive stream access: one reader, one writer at a time.
	readMu  sync.Mutex
	writeMu sync.Mutex

	appendCRLF bool

	stop       chan struct{}
	readerDone chan struct{}
	done       chan struct{}

	repeatStop chan struct{}
}

// New creates a disconnected session with an empty transcript.
func New() *Session {
	return &Session{log: transcript.NewLog()}
}

// Log returns the session's transcript log.
func (s *Session) Log() *transcript.Log {
	return s.log
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the line configuration of the current or last connection.
func (s *Session) Config() LineConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetAppendCRLF controls whether text sends get a CRLF terminator
// appended when not already present.
func (s *Session) SetAppendCRLF(v bool) {
	s.mu.Lock()
	s.appendCRLF = v
	s.mu.Unlock()
}

// AppendCRLF reports the line terminator option.
func (s *Session) AppendCRLF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendCRLF
}

// Done returns a channel closed when the current connection reaches
// StateClosed, whatever the cause. For a session that never connected it
// returns an already-closed channel.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Connect opens the transport with the given line parameters and starts
// the read loop. On open failure the session returns to StateClosed with
// no partial state retained.
func (s *Session) Connect(t Transport, cfg LineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateClosed {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot connect while %s", state)
	}
	s.state = StateOpening
	s.mu.Unlock()

	if err := t.Open(cfg); err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		err = fmt.Errorf("open %s: %w", t.Description(), err)
		s.log.AppendNote(transcript.KindError, err.Error())
		return err
	}

	s.mu.Lock()
	s.transport = t
	s.cfg = cfg
	s.stop = make(chan struct{})
	s.readerDone = make(chan struct{})
	s.done = make(chan struct{})
	s.state = StateOpen
	stop, readerDone := s.stop, s.readerDone
	s.mu.Unlock()

	s.log.AppendNote(transcript.KindInfo,
		fmt.Sprintf("connected: %s (%s)", t.Description(), cfg))
	go s.readLoop(t, cfg.ReadBufferSize, stop, readerDone)
	return nil
}

// Disconnect requests an orderly close. It is a no-op unless the session
// is open.
func (s *Session) Disconnect() {
	s.shutdown("disconnect requested")
}

// NotifyDeviceRemoved reports a device-initiated removal (hot-unplug).
// It funnels through the same transition as an explicit disconnect.
func (s *Session) NotifyDeviceRemoved() {
	s.shutdown("device removed")
}

// shutdown is the single Open -> Closing -> Closed transition. It always
// completes to StateClosed; close and cancellation failures become
// transcript entries, never a stuck state.
func (s *Session) shutdown(cause string) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	t := s.transport
	stop := s.stop
	readerDone := s.readerDone
	done := s.done
	s.transport = nil
	s.mu.Unlock()

	s.StopRepeat()

	// Request read cancellation first, then return the channel. A read
	// failing after this point is treated as cancellation, not an error.
	close(stop)
	if err := t.Close(); err != nil {
		s.log.AppendNote(transcript.KindError, fmt.Sprintf("close: %v", err))
	}

	select {
	case <-readerDone:
	case <-time.After(readerStopTimeout):
		s.log.AppendNote(transcript.KindError, "read loop did not stop in time")
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.log.AppendNote(transcript.KindInfo, "disconnected: "+cause)
	close(done)
}

// readLoop drains the inbound stream into the transcript while the
// connection is open. Exclusive read access is released on every exit
// path so a later reopen never finds the stream still held.
func (s *Session) readLoop(t Transport, bufSize int, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if !s.readMu.TryLock() {
		s.log.AppendNote(transcript.KindError, ErrStreamHeld.Error())
		return
	}
	defer s.readMu.Unlock()

	buf := make([]byte, bufSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := t.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.log.Append(transcript.KindReceived, chunk, hexcodec.BytesToText(chunk))
		}
		if err != nil {
			select {
			case <-stop:
				// Cancelled by the lifecycle; not an error.
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				go s.shutdown("end of stream")
				return
			}
			s.log.AppendNote(transcript.KindError, fmt.Sprintf("read: %v", err))
			go s.shutdown("read failure")
			return
		}
	}
}

// Send encodes and transmits a payload. With asHex the payload is decoded
// via hexcodec.HexToBytes and a malformed string aborts the send with
// nothing written. Otherwise the payload is sent as UTF-8 text, with the
// line terminator appended when the option is enabled.
func (s *Session) Send(payload string, asHex bool) error {
	if s.State() != StateOpen {
		s.log.AppendNote(transcript.KindError, "send: not connected")
		return ErrNotConnected
	}

	var raw []byte
	var text string
	if asHex {
		b, err := hexcodec.HexToBytes(payload)
		if err != nil {
			s.log.AppendNote(transcript.KindError, "send: "+err.Error())
			return err
		}
		raw = b
		text = hexcodec.BytesToText(b)
	} else {
		text = payload
		if s.AppendCRLF() && !strings.HasSuffix(text, lineTerminator) {
			text += lineTerminator
		}
		raw = hexcodec.TextToBytes(text)
	}

	return s.write(raw, text)
}

// SendBytes transmits an already-raw payload (e.g. file content)
// unmodified. Zero-length payloads are rejected.
func (s *Session) SendBytes(raw []byte) error {
	if len(raw) == 0 {
		s.log.AppendNote(transcript.KindError, "send: "+ErrEmptyPayload.Error())
		return ErrEmptyPayload
	}
	if s.State() != StateOpen {
		s.log.AppendNote(transcript.KindError, "send: not connected")
		return ErrNotConnected
	}
	return s.write(raw, hexcodec.BytesToText(raw))
}

// write acquires exclusive write access, writes the byte sequence in
// full, and records the transmitted entry. Write access is released
// unconditionally.
func (s *Session) write(raw []byte, text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state != StateOpen || s.transport == nil {
		s.mu.Unlock()
		s.log.AppendNote(transcript.KindError, "send: not connected")
		return ErrNotConnected
	}
	t := s.transport
	s.mu.Unlock()

	for off := 0; off < len(raw); {
		n, err := t.Write(raw[off:])
		if err != nil {
			s.log.AppendNote(transcript.KindError, fmt.Sprintf("write: %v", err))
			return fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			s.log.AppendNote(transcript.KindError, "write: no progress")
			return fmt.Errorf("write: no progress after %d of %d bytes", off, len(raw))
		}
		off += n
	}

	s.log.Append(transcript.KindTransmitted, raw, text)
	return nil
}

// StartRepeat arms the auto-repeat timer: the payload is re-sent at the
// given interval until StopRepeat or disconnect. A previously armed timer
// is replaced. The interval is floored at MinRepeatInterval.
func (s *Session) StartRepeat(payload string, asHex bool, interval time.Duration) error {
	s.StopRepeat()

	if strings.TrimSpace(payload) == "" {
		return ErrEmptyPayload
	}
	if asHex {
		if _, err := hexcodec.HexToBytes(payload); err != nil {
			s.log.AppendNote(transcript.KindError, "auto-repeat: "+err.Error())
			return err
		}
	}
	if interval < MinRepeatInterval {
		interval = MinRepeatInterval
	}

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		s.log.AppendNote(transcript.KindError, "auto-repeat: not connected")
		return ErrNotConnected
	}
	stop := make(chan struct{})
	s.repeatStop = stop
	s.mu.Unlock()

	s.log.AppendNote(transcript.KindInfo,
		fmt.Sprintf("auto-repeat armed: every %s", interval))

	go func() {
		defer s.clearRepeat(stop)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.Send(payload, asHex); err != nil {
					return
				}
			}
		}
	}()
	return nil
}

// StopRepeat disarms the auto-repeat timer if armed. The timer goroutine
// is released; no further sends occur once StopRepeat returns.
func (s *Session) StopRepeat() {
	s.mu.Lock()
	stop := s.repeatStop
	s.repeatStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		s.log.AppendNote(transcript.KindInfo, "auto-repeat disarmed")
	}
}

func (s *Session) clearRepeat(stop chan struct{}) {
	s.mu.Lock()
	if s.repeatStop == stop {
		s.repeatStop = nil
	}
	s.mu.Unlock()
}

// RepeatArmed reports whether the auto-repeat timer is armed.
func (s *Session) RepeatArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repeatStop != nil
}

// SetDTR sets the DTR control line. Outside StateOpen this is a no-op
// recorded as an error entry.
func (s *Session) SetDTR(v bool) error {
	return s.setSignal("DTR", v, func(t Transport) error { return t.SetDTR(v) })
}

// SetRTS sets the RTS control line. Outside StateOpen this is a no-op
// recorded as an error entry.
func (s *Session) SetRTS(v bool) error {
	return s.setSignal("RTS", v, func(t Transport) error { return t.SetRTS(v) })
}

// SendBreak holds the line in break condition for the given duration
// (BreakDuration when zero). Outside StateOpen this is a no-op recorded
// as an error entry.
func (s *Session) SendBreak(d time.Duration) error {
	if d <= 0 {
		d = BreakDuration
	}

	s.mu.Lock()
	if s.state != StateOpen || s.transport == nil {
		s.mu.Unlock()
		s.log.AppendNote(transcript.KindError, "break: not connected")
		return ErrNotConnected
	}
	t := s.transport
	s.mu.Unlock()

	if err := t.Break(d); err != nil {
		s.log.AppendNote(transcript.KindError, fmt.Sprintf("break: %v", err))
		return fmt.Errorf("break: %w", err)
	}
	s.log.AppendNote(transcript.KindInfo, fmt.Sprintf("break sent (%s)", d))
	return nil
}

func (s *Session) setSignal(name string, v bool, set func(Transport) error) error {
	s.mu.Lock()
	if s.state != StateOpen || s.transport == nil {
		s.mu.Unlock()
		s.log.AppendNote(transcript.KindError, "set "+name+": not connected")
		return ErrNotConnected
	}
	t := s.transport
	s.mu.Unlock()

	if err := set(t); err != nil {
		s.log.AppendNote(transcript.KindError, fmt.Sprintf("set %s: %v", name, err))
		return fmt.Errorf("set %s: %w", name, err)
	}
	state := "low"
	if v {
		state = "high"
	}
	s.log.AppendNote(transcript.KindInfo, name+" "+state)
	return nil
}

// Signals returns the channel's control line states, mirrored from the
// hardware where supported. Only valid while open.
func (s *Session) Signals() (Signals, error) {
	s.mu.Lock()
	if s.state != StateOpen || s.transport == nil {
		s.mu.Unlock()
		return Signals{}, ErrNotConnected
	}
	t := s.transport
	s.mu.Unlock()
	return t.Signals()
}
