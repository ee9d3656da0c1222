// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// Default timeout
	serialTimeout     = 5 * time.Second
	serialIdleTimeout = 60 * time.Second
)

// serialPort wraps go.bug.st/serial.Port behind SerialTransport, adding
// the idle-close timer the teacher's tcpTransporter also carries.
type serialPort struct {
	Address     string
	BaudRate    int
	DataBits    int
	StopBits    StopBits
	Parity      Parity
	Timeout     time.Duration
	Logger      Logger
	IdleTimeout time.Duration

	mu           sync.Mutex
	port         serial.Port
	lastActivity time.Time
	closeTimer   *time.Timer
}

func toSerialStopBits(sb StopBits) serial.StopBits {
	switch sb {
	case TwoStopBits:
		return serial.TwoStopBits
	case OneAndHalfStopBits:
		return serial.OnePointFiveStopBits
	default:
		return serial.OneStopBit
	}
}

func toSerialParity(p Parity) serial.Parity {
	switch p {
	case NoParity:
		return serial.NoParity
	case OddParity:
		return serial.OddParity
	default:
		return serial.EvenParity
	}
}

// Connect dials the serial line, honoring ctx only for cancellation
// before the open call — go.bug.st/serial.Open has no native context
// support, matching the teacher's original synchronous Connect.
func (mb *serialPort) Connect(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return mb.connect()
}

func (mb *serialPort) connect() error {
	if mb.port == nil {
		mode := &serial.Mode{
			BaudRate: mb.BaudRate,
			DataBits: mb.DataBits,
			StopBits: toSerialStopBits(mb.StopBits),
			Parity:   toSerialParity(mb.Parity),
		}
		port, err := serial.Open(mb.Address, mode)
		if err != nil {
			return transportError("failed to open serial port", err)
		}
		if mb.Timeout > 0 {
			if err := port.SetReadTimeout(mb.Timeout); err != nil {
				port.Close()
				return transportError("failed to set serial read timeout", err)
			}
		}
		mb.port = port
	}
	return nil
}

func (mb *serialPort) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.close()
}

func (mb *serialPort) close() error {
	if mb.port != nil {
		err := mb.port.Close()
		mb.port = nil
		if err != nil {
			return transportError("failed to close serial port", err)
		}
	}
	return nil
}

// Read reads from the open port, connecting lazily as the teacher's
// transports do on first use.
func (mb *serialPort) Read(p []byte) (int, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if err := mb.connect(); err != nil {
		return 0, err
	}
	n, err := mb.port.Read(p)
	mb.lastActivity = time.Now()
	mb.startCloseTimer()
	return n, err
}

func (mb *serialPort) Write(p []byte) (int, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if err := mb.connect(); err != nil {
		return 0, err
	}
	n, err := mb.port.Write(p)
	mb.lastActivity = time.Now()
	mb.startCloseTimer()
	return n, err
}

// Flush discards unread bytes sitting in the OS input buffer, per
// spec.md §4.7's "flush before write" rule.
func (mb *serialPort) Flush() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if err := mb.connect(); err != nil {
		return err
	}
	return mb.port.ResetInputBuffer()
}

// SetReadTimeout reconfigures the port's read timeout (used between the
// T3.5 delay and each read iteration of the serial transaction primitive).
func (mb *serialPort) SetReadTimeout(d time.Duration) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if err := mb.connect(); err != nil {
		return err
	}
	return mb.port.SetReadTimeout(d)
}

func (mb *serialPort) logf(format string, v ...interface{}) {
	nopLoggerIfNil(mb.Logger).Debugf(format, v...)
}

func (mb *serialPort) startCloseTimer() {
	if mb.IdleTimeout <= 0 {
		return
	}
	if mb.closeTimer == nil {
		mb.closeTimer = time.AfterFunc(mb.IdleTimeout, mb.closeIdle)
	} else {
		mb.closeTimer.Reset(mb.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (mb *serialPort) closeIdle() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.IdleTimeout <= 0 {
		return
	}
	idle := time.Since(mb.lastActivity)
	if idle >= mb.IdleTimeout {
		mb.logf("modbus: closing connection due to idle timeout: %v", idle)
		mb.close()
	}
}
