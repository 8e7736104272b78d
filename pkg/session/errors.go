// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "errors"

var (
	// ErrNotConnected is returned when an operation requires an open
	// connection and the session is not in StateOpen.
	ErrNotConnected = errors.New("not connected")

	// ErrEmptyPayload is returned when a send is attempted with a
	// zero-length payload.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrStreamHeld is returned when the inbound stream's exclusive read
	// access is still claimed by a previous loop.
	ErrStreamHeld = errors.New("read stream already held")
)
