// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "fmt"

// Parity is the serial parity mode.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

// ParseParity parses a parity name (none, even, odd).
func ParseParity(s string) (Parity, error) {
	switch s {
	case "none", "":
		return ParityNone, nil
	case "even":
		return ParityEven, nil
	case "odd":
		return ParityOdd, nil
	}
	return ParityNone, fmt.Errorf("invalid parity: %q (use none, even or odd)", s)
}

// FlowControl is the serial flow control mode.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowHardware
)

func (f FlowControl) String() string {
	if f == FlowHardware {
		return "hardware"
	}
	return "none"
}

// ParseFlowControl parses a flow control name (none, hardware).
func ParseFlowControl(s string) (FlowControl, error) {
	switch s {
	case "none", "":
		return FlowNone, nil
	case "hardware":
		return FlowHardware, nil
	}
	return FlowNone, fmt.Errorf("invalid flow control: %q (use none or hardware)", s)
}

// LineConfig holds the serial line parameters. It is only consulted while
// opening; reconfiguring requires a disconnect first.
type LineConfig struct {
	BaudRate       int
	DataBits       int
	StopBits       int
	Parity         Parity
	FlowControl    FlowControl
	ReadBufferSize int
}

// DefaultLineConfig returns the 115200 8N1 configuration.
func DefaultLineConfig() LineConfig {
	return LineConfig{
		BaudRate:       115200,
		DataBits:       8,
		StopBits:       1,
		Parity:         ParityNone,
		FlowControl:    FlowNone,
		ReadBufferSize: 1024,
	}
}

// Validate checks the line parameters.
func (c LineConfig) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate: %d", c.BaudRate)
	}
	if c.DataBits != 7 && c.DataBits != 8 {
		return fmt.Errorf("invalid data bits: %d (use 7 or 8)", c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("invalid stop bits: %d (use 1 or 2)", c.StopBits)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("invalid read buffer size: %d", c.ReadBufferSize)
	}
	return nil
}

func (c LineConfig) String() string {
	parity := "N"
	switch c.Parity {
	case ParityEven:
		parity = "E"
	case ParityOdd:
		parity = "O"
	}
	return fmt.Sprintf("%d %d%s%d", c.BaudRate, c.DataBits, parity, c.StopBits)
}
