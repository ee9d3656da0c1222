// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"io"
	"time"
)

// StreamTransport is the capability set a connection-oriented byte
// transport (TCP, TLS, Unix domain socket) must offer. It generalizes the
// teacher's concrete *net.TCPConn field in tcpTransporter into an
// interface so tcpclient.go can drive any stream, matching the "Transport
// surface" core component of spec.md's System Overview table.
type StreamTransport interface {
	io.ReadWriteCloser

	// Connect dials the remote endpoint, honoring ctx for cancellation.
	Connect(ctx context.Context) error

	// SetDeadline arms the next Read/Write deadline, as net.Conn does.
	SetDeadline(t time.Time) error
}

// DatagramTransport is the capability set a connectionless byte transport
// (UDP) must offer (spec.md §1, §6 lists UDP as in scope).
type DatagramTransport interface {
	// Connect binds/associates the datagram socket, honoring ctx.
	Connect(ctx context.Context) error
	Close() error

	// SendTo writes one datagram.
	SendTo(p []byte) (int, error)
	// RecvFrom blocks for one datagram or until the deadline set by
	// SetDeadline elapses.
	RecvFrom(p []byte) (int, error)
	SetDeadline(t time.Time) error
}

// SerialTransport is the capability set the RTU/ASCII serial transaction
// primitive (spec.md §4.7) needs: a half-duplex, line-oriented byte pipe
// plus the explicit Flush a serial line requires before a request can be
// trusted to be clean. Grounded on the teacher's serial.go, which wraps
// go.bug.st/serial.Port behind exactly this shape.
type SerialTransport interface {
	io.ReadWriteCloser

	// Flush discards any bytes sitting in the OS input buffer (spec.md
	// §4.7, "flush before write").
	Flush() error

	// SetReadTimeout arms the inter-character/overall read timeout used
	// by the chunked read loop.
	SetReadTimeout(d time.Duration) error
}
