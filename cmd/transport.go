// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/sextant/pkg/session"
)

// serialReadTimeout bounds each blocking read so the session's stop
// signal is observed promptly.
const serialReadTimeout = 100 * time.Millisecond

// SerialTransport drives a local serial port through go.bug.st/serial.
type SerialTransport struct {
	name string
	port serial.Port

	// DTR/RTS are write-only on most UART drivers; mirror the last set
	// values for Signals readback.
	dtr bool
	rts bool
}

// NewSerialTransport creates a transport for the named port device.
func NewSerialTransport(name string) *SerialTransport {
	return &SerialTransport{name: name}
}

func (s *SerialTransport) Open(cfg session.LineConfig) error {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch cfg.Parity {
	case session.ParityEven:
		mode.Parity = serial.EvenParity
	case session.ParityOdd:
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	if cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}

	if cfg.FlowControl == session.FlowHardware {
		return fmt.Errorf("hardware flow control is not supported on this platform")
	}

	port, err := serial.Open(s.name, mode)
	if err != nil {
		return err
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	s.port = port
	return nil
}

// Close tears down the port. The handle is left in place so a read
// pending in another goroutine fails through the closed port instead of
// racing a field write; Open installs a fresh handle on reconnect.
func (s *SerialTransport) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

// Read returns (0, nil) when the read timeout elapses with no data.
func (s *SerialTransport) Read(p []byte) (int, error) {
	if s.port == nil {
		return 0, errors.New("port not open")
	}
	return s.port.Read(p)
}

func (s *SerialTransport) Write(p []byte) (int, error) {
	if s.port == nil {
		return 0, errors.New("port not open")
	}
	return s.port.Write(p)
}

func (s *SerialTransport) SetDTR(v bool) error {
	if s.port == nil {
		return errors.New("port not open")
	}
	if err := s.port.SetDTR(v); err != nil {
		return err
	}
	s.dtr = v
	return nil
}

func (s *SerialTransport) SetRTS(v bool) error {
	if s.port == nil {
		return errors.New("port not open")
	}
	if err := s.port.SetRTS(v); err != nil {
		return err
	}
	s.rts = v
	return nil
}

func (s *SerialTransport) Break(d time.Duration) error {
	if s.port == nil {
		return errors.New("port not open")
	}
	return s.port.Break(d)
}

// Signals merges the mirrored DTR/RTS outputs with the CTS/DSR inputs
// read back from the modem status bits.
func (s *SerialTransport) Signals() (session.Signals, error) {
	if s.port == nil {
		return session.Signals{}, errors.New("port not open")
	}
	bits, err := s.port.GetModemStatusBits()
	if err != nil {
		return session.Signals{}, err
	}
	return session.Signals{
		DTR: s.dtr,
		RTS: s.rts,
		CTS: bits.CTS,
		DSR: bits.DSR,
	}, nil
}

func (s *SerialTransport) Description() string {
	return "serial " + s.name
}

// WebSocketTransport drives a remote serial bridge that relays raw UART
// bytes as binary WebSocket messages.
type WebSocketTransport struct {
	url           string
	username      string
	password      string
	skipSSLVerify bool

	conn      *websocket.Conn
	buf       []byte
	bufOffset int
}

// NewWebSocketTransport creates a transport for the bridge at the given
// ws:// or wss:// URL.
func NewWebSocketTransport(wsURL, username, password string, skipSSLVerify bool) *WebSocketTransport {
	return &WebSocketTransport{
		url:           wsURL,
		username:      username,
		password:      password,
		skipSSLVerify: skipSSLVerify,
	}
}

// Open dials the bridge. The line configuration is applied by the bridge
// at its end; only the URL side of the handshake is ours.
func (w *WebSocketTransport) Open(cfg session.LineConfig) error {
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: w.skipSSLVerify,
		}
	}

	headers := http.Header{}
	if w.username != "" && w.password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(w.username + ":" + w.password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, w.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}

	w.conn = conn
	w.buf = nil
	w.bufOffset = 0
	return nil
}

// Close tears down the connection. The handle is left in place so a read
// pending in another goroutine fails through the closed connection
// instead of racing a field write; Open installs a fresh handle on
// reconnect.
func (w *WebSocketTransport) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// Read drains buffered message bytes first, then blocks on the next
// binary message. Closing the connection fails a pending read.
func (w *WebSocketTransport) Read(p []byte) (int, error) {
	if w.conn == nil {
		return 0, errors.New("connection not open")
	}

	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketTransport) Write(p []byte) (int, error) {
	if w.conn == nil {
		return 0, errors.New("connection not open")
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// The bridge protocol carries data bytes only; modem control lines are
// not relayed.
func (w *WebSocketTransport) SetDTR(bool) error {
	return errors.New("DTR is not supported over a WebSocket bridge")
}

func (w *WebSocketTransport) SetRTS(bool) error {
	return errors.New("RTS is not supported over a WebSocket bridge")
}

func (w *WebSocketTransport) Break(time.Duration) error {
	return errors.New("break is not supported over a WebSocket bridge")
}

func (w *WebSocketTransport) Signals() (session.Signals, error) {
	return session.Signals{}, errors.New("signals are not supported over a WebSocket bridge")
}

func (w *WebSocketTransport) Description() string {
	return "websocket " + w.url
}

// getSecret retrieves a secret from the environment or prompts for it
// with echo disabled.
func getSecret(envVar, prompt string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}

	fmt.Fprint(os.Stderr, prompt)

	secretBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		secret, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(secret), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(secretBytes), nil
}

// GetAPIKey retrieves the analysis API key from SEXTANT_API_KEY. An
// empty key is allowed; analysis reports the missing credential when
// invoked.
func GetAPIKey() string {
	return os.Getenv("SEXTANT_API_KEY")
}

// OpenTransport builds the transport selected by the connection flags.
// The returned transport is not yet open.
func OpenTransport() (session.Transport, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = getSecret("SEXTANT_WS_PASSWORD", "Password: ")
			if err != nil {
				return nil, err
			}
		}
		return NewWebSocketTransport(wsURL, wsUsername, password, wsNoSSLVerify), nil
	}

	if portName != "" {
		return NewSerialTransport(portName), nil
	}

	return nil, fmt.Errorf("either --port or --url must be specified")
}
