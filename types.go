// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "context"

// ProtocolDataUnit is a function code plus its function-specific payload
// (spec.md §3, "PDU"). It never includes framing bytes (MBAP header, RTU
// address/CRC, ASCII start/LRC/end) — those live in the ADU layer.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Packager turns a PDU into wire bytes and back, and verifies that a
// response ADU matches the request that produced it (transaction id, unit
// id, slave address depending on transport). This is the ADU framing layer
// of spec.md §4.4–§4.6.
type Packager interface {
	Encode(unitID byte, pdu *ProtocolDataUnit) ([]byte, error)
	Decode(adu []byte) (*ProtocolDataUnit, error)
	Verify(aduRequest, aduResponse []byte) error
}

// Transporter moves already-framed ADU bytes across a byte transport and
// returns the matching response ADU. Concrete transports (TCP, TLS, UDP,
// serial) are external collaborators per spec.md §1; this package only
// depends on the capability sets in transport.go.
type Transporter interface {
	Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error)
}

// ClientHandler groups the Packager and Transporter methods a concrete
// transport (TCP/TLS, RTU, ASCII) must implement.
type ClientHandler interface {
	Packager
	Transporter
}

// StopBits is the serial line stop-bit configuration.
type StopBits int

const (
	OneStopBit StopBits = iota
	OneAndHalfStopBits
	TwoStopBits
)

// Parity is the serial line parity configuration.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// Client is the full request/response surface of spec.md §4.3 and §6, one
// method per supported function code, each taking a unit id so broadcast
// (0) and multi-drop addressing work uniformly across transports.
type Client interface {
	ReadCoils(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error)
	ReadInputRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]byte, error)
	WriteSingleCoil(ctx context.Context, unitID byte, address, value uint16) ([]byte, error)
	WriteSingleRegister(ctx context.Context, unitID byte, address, value uint16) ([]byte, error)
	WriteMultipleCoils(ctx context.Context, unitID byte, address, quantity uint16, value []byte) ([]byte, error)
	WriteMultipleRegisters(ctx context.Context, unitID byte, address, quantity uint16, value []byte) ([]byte, error)
	MaskWriteRegister(ctx context.Context, unitID byte, address, andMask, orMask uint16) ([]byte, error)
	ReadWriteMultipleRegisters(ctx context.Context, unitID byte, readAddress, readQuantity, writeAddress, writeQuantity uint16, value []byte) ([]byte, error)
	ReadFIFOQueue(ctx context.Context, unitID byte, address uint16) ([]byte, error)

	ReadExceptionStatus(ctx context.Context, unitID byte) (byte, error)
	Diagnostic(ctx context.Context, unitID byte, subFunction, data uint16) (uint16, error)
	GetCommEventCounter(ctx context.Context, unitID byte) (status, count uint16, err error)
	GetCommEventLog(ctx context.Context, unitID byte) (*CommEventLog, error)
	ReportServerID(ctx context.Context, unitID byte) (serverID []byte, running bool, err error)
	ReadFileRecord(ctx context.Context, unitID byte, requests []FileRecordRequest) ([]FileRecordData, error)
	WriteFileRecord(ctx context.Context, unitID byte, records []FileRecordData) error
	ReadDeviceIdentification(ctx context.Context, unitID byte, readCode byte, objectID byte) (*DeviceIdentification, error)

	Connect(ctx context.Context) error
	Close() error
}

// CommEventLog is the decoded response of FC 0x0C (spec.md §4.3).
type CommEventLog struct {
	Status       uint16
	EventCount   uint16
	MessageCount uint16
	Events       []byte
}

// FileRecordRequest is one sub-request of FC 0x14 (read file record).
type FileRecordRequest struct {
	FileNumber   uint16
	RecordNumber uint16
	// Length is the record length in 16-bit words, per spec.md §3.
	Length uint16
}

// FileRecordData is one sub-record of a read response or a write request
// (FC 0x14/0x15). Data is always even length (spec.md §3, "File record").
// On read responses FileNumber/RecordNumber are not echoed by the wire
// format and are left zero; correlate by position with the request
// (SPEC_FULL.md §7, Open Question 2).
type FileRecordData struct {
	FileNumber   uint16
	RecordNumber uint16
	Data         []byte
}

// DeviceIdentificationObject is one {object id -> value} pair of FC
// 0x2B/0x0E (spec.md §3, "Device identification object").
type DeviceIdentificationObject struct {
	ID    byte
	Value string
}

// DeviceIdentification is the decoded response of FC 0x2B/0x0E.
type DeviceIdentification struct {
	ReadCode       byte
	Conformity     ConformityLevel
	MoreFollows    bool
	NextObjectID   byte
	Objects        []DeviceIdentificationObject
}
