// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"net"
	"sync"
	"time"
)

const udpMaxPacketSize = maxTCPADUSize

// UDPClientHandler implements ClientHandler over MBAP framing on a
// connectionless datagram transport (spec.md §1, §6). Each datagram is
// exactly one ADU — there is no stream to decode, so it reuses tcpPackager
// as-is and only swaps the transporter.
type UDPClientHandler struct {
	tcpPackager
	*udpTransporter
}

// NewUDPClientHandler allocates a handler for a single-in-flight UDP
// association.
func NewUDPClientHandler(address string) *UDPClientHandler {
	return &UDPClientHandler{udpTransporter: newUDPTransporter(address)}
}

// UDPClient creates a UDP client with default handler and given connect string.
func UDPClient(address string) Client {
	return NewClient(NewUDPClientHandler(address))
}

type udpTransporter struct {
	Address string
	Timeout time.Duration
	Logger  Logger

	mu    sync.Mutex
	conn  *net.UDPConn
	raddr *net.UDPAddr
}

func newUDPTransporter(address string) *udpTransporter {
	return &udpTransporter{Address: address, Timeout: tcpTimeout}
}

func (mb *udpTransporter) Connect(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.connectLocked()
}

func (mb *udpTransporter) connectLocked() error {
	if mb.conn != nil {
		return nil
	}
	raddr, err := net.ResolveUDPAddr("udp", mb.Address)
	if err != nil {
		return transportError("resolving "+mb.Address, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return transportError("dialing "+mb.Address, err)
	}
	mb.conn = conn
	mb.raddr = raddr
	return nil
}

// Send writes one datagram and waits for the matching reply datagram,
// retrying reads that return a mismatched transaction id (unsolicited or
// stale datagrams are simply discarded, spec.md §4.6).
func (mb *udpTransporter) Send(ctx context.Context, aduRequest []byte) ([]byte, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := mb.connectLocked(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(mb.Timeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := mb.conn.SetDeadline(deadline); err != nil {
		return nil, transportError("setting deadline", err)
	}
	nopLoggerIfNil(mb.Logger).Debugf("modbus: sending % x", aduRequest)
	if _, err := mb.conn.Write(aduRequest); err != nil {
		return nil, transportError("writing datagram", err)
	}

	reqTxID, _ := readU16BE(aduRequest, 0)
	buf := make([]byte, udpMaxPacketSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := mb.conn.Read(buf)
		if err != nil {
			return nil, transportError("reading datagram", err)
		}
		respTxID, ok := readU16BE(buf[:n], 0)
		if !ok || respTxID != reqTxID {
			nopLoggerIfNil(mb.Logger).Warnf("modbus: discarding datagram with unexpected transaction id")
			continue
		}
		resp := make([]byte, n)
		copy(resp, buf[:n])
		return resp, nil
	}
}

func (mb *udpTransporter) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.conn == nil {
		return nil
	}
	err := mb.conn.Close()
	mb.conn = nil
	if err != nil {
		return transportError("closing connection", err)
	}
	return nil
}
