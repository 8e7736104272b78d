// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/sextant/pkg/hexcodec"
	"github.com/Thermoquad/sextant/pkg/transcript"
)

// ============================================================
// Fake Transport
// ============================================================

// fakeTransport is an in-memory duplex channel. Inbound data is fed
// through the rx channel; closing rx simulates end of stream, Close
// fails a pending read like a real port teardown does.
type fakeTransport struct {
	mu     sync.Mutex
	writes [][]byte

	rx        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	openErr error
	dtr     bool
	rts     bool
	breaks  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		rx:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Open(cfg LineConfig) error { return f.openErr }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, errors.New("transport closed")
	case data, ok := <-f.rx:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, data), nil
	case <-time.After(20 * time.Millisecond):
		// Idle poll, same contract as a serial read timeout.
		return 0, nil
	}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.writes = append(f.writes, buf)
	return len(p), nil
}

func (f *fakeTransport) SetDTR(v bool) error { f.dtr = v; return nil }
func (f *fakeTransport) SetRTS(v bool) error { f.rts = v; return nil }

func (f *fakeTransport) Break(time.Duration) error { f.breaks++; return nil }

func (f *fakeTransport) Signals() (Signals, error) {
	return Signals{DTR: f.dtr, RTS: f.rts, CTS: true, DSR: true}, nil
}

func (f *fakeTransport) Description() string { return "fake device" }

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) writtenBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for _, w := range f.writes {
		out = append(out, w...)
	}
	return out
}

// ============================================================
// Test Helpers
// ============================================================

func connectedSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	s := New()
	if err := s.Connect(ft, DefaultLineConfig()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	return s, ft
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func errorEntries(s *Session) []transcript.Entry {
	return s.Log().Filter(func(e transcript.Entry) bool {
		return e.Kind == transcript.KindError
	})
}

func txEntries(s *Session) []transcript.Entry {
	return s.Log().Filter(func(e transcript.Entry) bool {
		return e.Kind == transcript.KindTransmitted
	})
}

// ============================================================
// Lifecycle Tests
// ============================================================

func TestConnect_OpenFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.openErr = errors.New("no such port")

	s := New()
	err := s.Connect(ft, DefaultLineConfig())
	if err == nil {
		t.Fatal("Expected open error")
	}
	if s.State() != StateClosed {
		t.Errorf("State after failed open: expected closed, got %s", s.State())
	}
	if len(errorEntries(s)) != 1 {
		t.Errorf("Expected one error entry, got %d", len(errorEntries(s)))
	}
}

func TestConnect_RejectsInvalidConfig(t *testing.T) {
	s := New()
	cfg := DefaultLineConfig()
	cfg.BaudRate = 0
	if err := s.Connect(newFakeTransport(), cfg); err == nil {
		t.Fatal("Expected config validation error")
	}
	if s.State() != StateClosed {
		t.Errorf("State: expected closed, got %s", s.State())
	}
}

func TestConnect_WhileOpen(t *testing.T) {
	s, _ := connectedSession(t)
	defer s.Disconnect()

	if err := s.Connect(newFakeTransport(), DefaultLineConfig()); err == nil {
		t.Fatal("Expected error connecting an open session")
	}
}

func TestDisconnect_PendingRead(t *testing.T) {
	s, _ := connectedSession(t)
	waitFor(t, "open state", func() bool { return s.State() == StateOpen })

	s.Disconnect()

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Session did not reach closed within the cancellation bound")
	}
	if s.State() != StateClosed {
		t.Errorf("State: expected closed, got %s", s.State())
	}
	// Cancellation is not an error.
	if errs := errorEntries(s); len(errs) != 0 {
		t.Errorf("Expected no error entries, got %d: %v", len(errs), errs)
	}
}

func TestDeviceRemoved_ClosesSession(t *testing.T) {
	s, _ := connectedSession(t)

	s.NotifyDeviceRemoved()

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Session did not close on device removal")
	}
	if s.State() != StateClosed {
		t.Errorf("State: expected closed, got %s", s.State())
	}
}

func TestEndOfStream_ClosesSession(t *testing.T) {
	s, ft := connectedSession(t)

	close(ft.rx)

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Session did not close on end of stream")
	}
	if errs := errorEntries(s); len(errs) != 0 {
		t.Errorf("EOF should not produce error entries, got %d", len(errs))
	}
}

func TestReconnect_FreshReadLoop(t *testing.T) {
	s, _ := connectedSession(t)
	s.Disconnect()
	<-s.Done()

	ft2 := newFakeTransport()
	if err := s.Connect(ft2, DefaultLineConfig()); err != nil {
		t.Fatalf("Reconnect error: %v", err)
	}
	defer s.Disconnect()

	ft2.rx <- []byte("OK")
	waitFor(t, "received bytes on new loop", func() bool {
		return s.Log().Counters().RxBytes == 2
	})
}

// ============================================================
// Read Loop Tests
// ============================================================

func TestReceive_AppendsEntries(t *testing.T) {
	s, ft := connectedSession(t)
	defer s.Disconnect()

	ft.rx <- []byte("OK\r\n")
	waitFor(t, "received entry", func() bool {
		return s.Log().Counters().RxBytes == 4
	})

	rx := s.Log().Filter(func(e transcript.Entry) bool {
		return e.Kind == transcript.KindReceived
	})
	if len(rx) != 1 {
		t.Fatalf("Expected 1 received entry, got %d", len(rx))
	}
	if rx[0].Text != "OK\r\n" || rx[0].Hex != "4F 4B 0D 0A" {
		t.Errorf("Entry content mismatch: %+v", rx[0])
	}
}

func TestReceive_InvalidUTF8Displayable(t *testing.T) {
	s, ft := connectedSession(t)
	defer s.Disconnect()

	ft.rx <- []byte{0xFF, 0xFE}
	waitFor(t, "received bytes", func() bool {
		return s.Log().Counters().RxBytes == 2
	})

	rx := s.Log().Filter(func(e transcript.Entry) bool {
		return e.Kind == transcript.KindReceived
	})
	if rx[0].Hex != "FF FE" {
		t.Errorf("Hex view mismatch: %q", rx[0].Hex)
	}
	if !strings.ContainsRune(rx[0].Text, '�') {
		t.Errorf("Text view should carry replacement runes, got %q", rx[0].Text)
	}
}

// ============================================================
// Write Path Tests
// ============================================================

func TestSend_NotConnected(t *testing.T) {
	s := New()
	err := s.Send("AT", false)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
	if len(txEntries(s)) != 0 {
		t.Error("No transmitted entry should be appended")
	}
	if len(errorEntries(s)) != 1 {
		t.Error("The failure should be recorded as an error entry")
	}
}

func TestSend_TextWithTerminator(t *testing.T) {
	// CRLF append disabled, payload already terminated.
	s, ft := connectedSession(t)
	defer s.Disconnect()

	if err := s.Send("AT\r\n", false); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if got := string(ft.writtenBytes()); got != "AT\r\n" {
		t.Errorf("Wire bytes mismatch: %q", got)
	}
	if c := s.Log().Counters(); c.TxBytes != 4 {
		t.Errorf("TxBytes: expected 4, got %d", c.TxBytes)
	}
	if n := len(txEntries(s)); n != 1 {
		t.Errorf("Expected exactly one transmitted entry, got %d", n)
	}
}

func TestSend_CRLFAppend(t *testing.T) {
	s, ft := connectedSession(t)
	defer s.Disconnect()
	s.SetAppendCRLF(true)

	if err := s.Send("AT", false); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got := string(ft.writtenBytes()); got != "AT\r\n" {
		t.Errorf("Terminator not appended: %q", got)
	}

	// Already terminated payloads are not double-terminated.
	if err := s.Send("ATI\r\n", false); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got := string(ft.writtenBytes()); got != "AT\r\nATI\r\n" {
		t.Errorf("Terminator doubled: %q", got)
	}
}

func TestSend_HexPayload(t *testing.T) {
	s, ft := connectedSession(t)
	defer s.Disconnect()

	// Modbus read-holding-registers request, 12 hex digits.
	if err := s.Send("01 03 00 00 00 01", true); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	if got := ft.writtenBytes(); len(got) != 6 || string(got) != string(want) {
		t.Errorf("Wire bytes mismatch: % X", got)
	}

	// One effective digit after stripping: nothing reaches the wire.
	err := s.Send("0 1", true)
	var fe *hexcodec.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected *hexcodec.FormatError, got %v", err)
	}
	if ft.writeCount() != 1 {
		t.Errorf("Malformed hex must not write: %d writes", ft.writeCount())
	}
	if n := len(txEntries(s)); n != 1 {
		t.Errorf("Malformed hex must not append a transmitted entry, got %d", n)
	}
}

func TestSendBytes_Passthrough(t *testing.T) {
	s, ft := connectedSession(t)
	defer s.Disconnect()

	raw := []byte{0x00, 0x01, 0xFF}
	if err := s.SendBytes(raw); err != nil {
		t.Fatalf("SendBytes error: %v", err)
	}
	if got := ft.writtenBytes(); string(got) != string(raw) {
		t.Errorf("Raw bytes modified on the wire: % X", got)
	}
	if c := s.Log().Counters(); c.TxBytes != 3 {
		t.Errorf("TxBytes: expected 3, got %d", c.TxBytes)
	}
}

func TestSendBytes_Empty(t *testing.T) {
	s, ft := connectedSession(t)
	defer s.Disconnect()

	if err := s.SendBytes(nil); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("Expected ErrEmptyPayload, got %v", err)
	}
	if ft.writeCount() != 0 {
		t.Error("Empty payload must not write")
	}
}

// ============================================================
// Auto-Repeat Tests
// ============================================================

func TestRepeat_DisarmStopsSends(t *testing.T) {
	s, ft := connectedSession(t)
	defer s.Disconnect()

	if err := s.StartRepeat("A5", true, MinRepeatInterval); err != nil {
		t.Fatalf("StartRepeat error: %v", err)
	}
	if !s.RepeatArmed() {
		t.Fatal("Timer should be armed")
	}

	waitFor(t, "repeated sends", func() bool { return ft.writeCount() >= 3 })
	s.StopRepeat()
	if s.RepeatArmed() {
		t.Error("Timer should be disarmed")
	}

	// Let any in-flight tick drain, then verify the count stays put.
	time.Sleep(50 * time.Millisecond)
	count := ft.writeCount()
	time.Sleep(100 * time.Millisecond)
	if ft.writeCount() != count {
		t.Errorf("Writes continued after disarm: %d -> %d", count, ft.writeCount())
	}
}

func TestRepeat_DisarmedOnDisconnect(t *testing.T) {
	s, ft := connectedSession(t)

	if err := s.StartRepeat("ping", false, MinRepeatInterval); err != nil {
		t.Fatalf("StartRepeat error: %v", err)
	}
	s.Disconnect()
	<-s.Done()

	if s.RepeatArmed() {
		t.Error("Disconnect should disarm the timer")
	}
	time.Sleep(50 * time.Millisecond)
	count := ft.writeCount()
	time.Sleep(100 * time.Millisecond)
	if ft.writeCount() != count {
		t.Errorf("Writes continued after disconnect: %d -> %d", count, ft.writeCount())
	}
}

func TestRepeat_Validation(t *testing.T) {
	s := New()
	if err := s.StartRepeat("AT", false, MinRepeatInterval); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	s2, _ := connectedSession(t)
	defer s2.Disconnect()
	if err := s2.StartRepeat("   ", false, MinRepeatInterval); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Expected ErrEmptyPayload, got %v", err)
	}
	var fe *hexcodec.FormatError
	if err := s2.StartRepeat("0 1", true, MinRepeatInterval); !errors.As(err, &fe) {
		t.Errorf("Expected *hexcodec.FormatError, got %v", err)
	}
	if s2.RepeatArmed() {
		t.Error("Rejected arm attempts must not leave a timer armed")
	}
}

// ============================================================
// Control Signal Tests
// ============================================================

func TestSignals_SetAndReadback(t *testing.T) {
	s, ft := connectedSession(t)
	defer s.Disconnect()

	if err := s.SetDTR(true); err != nil {
		t.Fatalf("SetDTR error: %v", err)
	}
	if err := s.SetRTS(true); err != nil {
		t.Fatalf("SetRTS error: %v", err)
	}
	if !ft.dtr || !ft.rts {
		t.Error("Transport did not receive the signal sets")
	}

	sig, err := s.Signals()
	if err != nil {
		t.Fatalf("Signals error: %v", err)
	}
	if !sig.DTR || !sig.RTS || !sig.CTS || !sig.DSR {
		t.Errorf("Signal readback mismatch: %+v", sig)
	}
}

func TestSendBreak(t *testing.T) {
	s, ft := connectedSession(t)
	defer s.Disconnect()

	if err := s.SendBreak(0); err != nil {
		t.Fatalf("SendBreak error: %v", err)
	}
	if ft.breaks != 1 {
		t.Errorf("Expected 1 break, got %d", ft.breaks)
	}

	s2 := New()
	if err := s2.SendBreak(0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestSignals_NotConnected(t *testing.T) {
	s := New()
	if err := s.SetDTR(true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetDTR: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.Signals(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Signals: expected ErrNotConnected, got %v", err)
	}
}
