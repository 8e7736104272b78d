// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "time"

// Signals holds the control line states of an open channel. DTR and RTS
// mirror the last values successfully set; CTS and DSR are read back from
// the hardware where the transport supports it.
type Signals struct {
	DTR bool
	RTS bool
	CTS bool
	DSR bool
}

// Transport is the duplex byte channel borrowed from the host environment
// for the lifetime of one connection. Implementations must tolerate Close
// being called while a Read is pending; the pending Read must fail within
// bounded time.
//
// Read should return (0, nil) periodically when no data is available so
// the session's stop signal can be observed.
type Transport interface {
	Open(cfg LineConfig) error
	Close() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetDTR(v bool) error
	SetRTS(v bool) error
	Break(d time.Duration) error
	Signals() (Signals, error)
	Description() string
}
