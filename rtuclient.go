// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	rtuMinSize = 4
	rtuMaxSize = 256

	rtuExceptionSize = 5
)

// RTUClientHandler implements Packager and Transporter interface.
type RTUClientHandler struct {
	rtuPackager
	rtuSerialTransporter
}

// NewRTUClientHandler allocates and initializes a RTUClientHandler.
func NewRTUClientHandler(address string) *RTUClientHandler {
	handler := &RTUClientHandler{}
	handler.Address = address
	handler.BaudRate = 19200
	handler.DataBits = 8
	handler.StopBits = OneStopBit
	handler.Parity = EvenParity
	handler.Timeout = serialTimeout
	handler.IdleTimeout = serialIdleTimeout
	return handler
}

// RTUClient creates RTU client with default handler and given connect string.
func RTUClient(address string) Client {
	handler := NewRTUClientHandler(address)
	return NewClient(handler)
}

// rtuPackager implements Packager interface over the CRC-16/MODBUS framing
// of spec.md §4.4.
type rtuPackager struct{}

// Encode encodes PDU in a RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 byte
func (mb *rtuPackager) Encode(unitID byte, pdu *ProtocolDataUnit) (adu []byte, err error) {
	length := len(pdu.Data) + 4
	if length > rtuMaxSize {
		return nil, fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", ErrInvalidData, length, rtuMaxSize)
	}
	adu = make([]byte, length)

	adu[0] = unitID
	adu[1] = pdu.FunctionCode
	copy(adu[2:], pdu.Data)

	checksum := crc16Modbus(adu[0 : length-2])
	adu[length-1] = byte(checksum >> 8)
	adu[length-2] = byte(checksum)
	return adu, nil
}

// Verify verifies response length and slave id.
func (mb *rtuPackager) Verify(aduRequest, aduResponse []byte) (err error) {
	length := len(aduResponse)
	if length < rtuMinSize {
		return fmt.Errorf("%w: response length '%v' does not meet minimum '%v'", ErrShortFrame, length, rtuMinSize)
	}
	if aduResponse[0] != aduRequest[0] {
		return unitIDMismatch(aduRequest[0], aduResponse[0])
	}
	return nil
}

// Decode extracts PDU from RTU frame and verify CRC.
func (mb *rtuPackager) Decode(adu []byte) (pdu *ProtocolDataUnit, err error) {
	length := len(adu)
	checksum := crc16Modbus(adu[0 : length-2])
	got := uint16(adu[length-1])<<8 | uint16(adu[length-2])
	if checksum != got {
		return nil, fmt.Errorf("%w: response crc '%v' does not match expected '%v'", ErrProtocolError, got, checksum)
	}
	pdu = &ProtocolDataUnit{}
	pdu.FunctionCode = adu[1]
	pdu.Data = adu[2 : length-2]
	return pdu, nil
}

// rtuSerialTransporter implements the serial transaction primitive of
// spec.md §4.7 over RTU framing: flush, write, T3.5 delay, chunked read.
type rtuSerialTransporter struct {
	serialPort
	// HandleLocalEcho strips the echoed request bytes from the read when
	// the line is a half-duplex RS-485 bus wired back to its own
	// transmitter (spec.md §6, "handleLocalEcho").
	HandleLocalEcho bool
}

// Send transmits an RTU request and receives the response.
// This implementation uses Read() in a loop with context checks between iterations,
// rather than io.ReadFull(). This approach:
//   - Prevents indefinite hangs when devices send incomplete responses
//   - Allows context cancellation to be detected between read operations
//   - Improves reliability on systems where serial port timeouts are not well-supported
//
// Note: Individual Read() calls may still block if the underlying device/driver
// doesn't support read timeouts (e.g., PTYs in tests). However, context is checked
// between reads, providing better timeout behavior than the previous io.ReadFull() approach.
func (mb *rtuSerialTransporter) Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before send: %w", err)
	}
	if err = mb.connect(); err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	// Flush stray bytes left on the line before trusting our own write
	// (spec.md §4.7, "flush before write").
	if err = mb.port.ResetInputBuffer(); err != nil {
		mb.logf("modbus: warning - failed to flush input buffer: %v", err)
	}

	mb.logf("modbus: sending % x", aduRequest)
	if _, err = mb.port.Write(aduRequest); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	function := aduRequest[1]
	functionFail := aduRequest[1] | 0x80
	bytesToRead := calculateResponseLength(aduRequest)
	expectedBytesOnWire := len(aduRequest) + bytesToRead
	if mb.HandleLocalEcho {
		expectedBytesOnWire += len(aduRequest)
	}
	time.Sleep(mb.calculateDelay(expectedBytesOnWire))

	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	readTimeout := mb.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeUntilDeadline := time.Until(deadline)
		if timeUntilDeadline > 0 {
			readTimeout = timeUntilDeadline
		} else {
			return nil, fmt.Errorf("context deadline exceeded before read")
		}
	}
	if err = mb.port.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}
	defer func() {
		if restoreErr := mb.port.SetReadTimeout(mb.Timeout); restoreErr != nil {
			mb.logf("modbus: warning - failed to restore read timeout: %v", restoreErr)
		}
	}()

	var n int
	var data [rtuMaxSize]byte

	if mb.HandleLocalEcho {
		n, err = mb.readEcho(ctx, data[:], aduRequest)
		if err != nil {
			return nil, err
		}
	}

	for n < rtuMinSize {
		if err = ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during read: %w", err)
		}
		var nn int
		nn, err = mb.port.Read(data[n:])
		n += nn
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if nn == 0 && n < rtuMinSize {
			return nil, fmt.Errorf("reading response: unexpected EOF, got %d bytes, expected at least %d", n, rtuMinSize)
		}
	}

	var targetLength int
	switch data[1] {
	case function:
		targetLength = bytesToRead
	case functionFail:
		targetLength = rtuExceptionSize
	default:
		targetLength = n
	}

	if targetLength > rtuMinSize && targetLength <= rtuMaxSize {
		for n < targetLength {
			if err = ctx.Err(); err != nil {
				return nil, fmt.Errorf("context cancelled during read: %w", err)
			}
			var nn int
			nn, err = mb.port.Read(data[n:targetLength])
			n += nn
			if err != nil {
				return nil, fmt.Errorf("reading response body: %w", err)
			}
			if nn == 0 {
				return nil, fmt.Errorf("reading response body: unexpected EOF, got %d bytes, expected %d", n, targetLength)
			}
		}
	}
	aduResponse = data[:n]
	mb.logf("modbus: received % x", aduResponse)
	return aduResponse, nil
}

// readEcho consumes exactly len(aduRequest) bytes and discards them,
// expecting them to equal the bytes just written (spec.md §4.7's
// "half-duplex echo stripping"). Any mismatch is logged but not fatal —
// some adapters echo with line-noise artifacts.
func (mb *rtuSerialTransporter) readEcho(ctx context.Context, buf []byte, aduRequest []byte) (int, error) {
	want := len(aduRequest)
	n := 0
	for n < want {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("context cancelled during echo read: %w", err)
		}
		nn, err := mb.port.Read(buf[n:want])
		n += nn
		if err != nil {
			return 0, fmt.Errorf("reading local echo: %w", err)
		}
		if nn == 0 {
			return 0, fmt.Errorf("reading local echo: unexpected EOF, got %d bytes, expected %d", n, want)
		}
	}
	if !bytes.Equal(buf[:want], aduRequest) {
		mb.logf("modbus: warning - local echo mismatch, expected % x got % x", aduRequest, buf[:want])
	}
	return 0, nil
}

// calculateDelay roughly calculates time needed for the next frame.
// See MODBUS over Serial Line - Specification and Implementation Guide (page 13).
func (mb *rtuSerialTransporter) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int // us

	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / mb.BaudRate
		frameDelay = 35000000 / mb.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}

func calculateResponseLength(adu []byte) int {
	length := rtuMinSize
	switch adu[1] {
	case FuncCodeReadDiscreteInputs,
		FuncCodeReadCoils:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case FuncCodeReadInputRegisters,
		FuncCodeReadHoldingRegisters,
		FuncCodeReadWriteMultipleRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case FuncCodeWriteSingleCoil,
		FuncCodeWriteMultipleCoils,
		FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleRegisters:
		length += 4
	case FuncCodeMaskWriteRegister:
		length += 6
	case FuncCodeReadExceptionStatus:
		length += 1
	case FuncCodeDiagnostics:
		length += 4
	case FuncCodeGetCommEventCounter:
		length += 4
	case FuncCodeReportServerID, FuncCodeReadFIFOQueue, FuncCodeGetCommEventLog,
		FuncCodeReadFileRecord, FuncCodeWriteFileRecord, FuncCodeEncapsulatedInterface:
		// variable length, determined once the byte count field arrives
	default:
	}
	return length
}
