// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "encoding/binary"

// mbapHeader is {Transaction ID, Protocol ID, Length, Unit ID} per
// spec.md §3/§4.4, generalized out of the teacher's tcpPackager so TCP,
// TLS and UDP clients (and the stream frame decoder) share one
// implementation.
type mbapHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        byte
}

// buildMBAPFrame emits the 7-byte MBAP header followed by the PDU
// (spec.md §4.4 "Build").
func buildMBAPFrame(h mbapHeader, pdu *ProtocolDataUnit) []byte {
	adu := make([]byte, mbapHeaderSize+1+len(pdu.Data))
	binary.BigEndian.PutUint16(adu, h.TransactionID)
	binary.BigEndian.PutUint16(adu[2:], 0x0000)
	length := uint16(1 + 1 + len(pdu.Data))
	binary.BigEndian.PutUint16(adu[4:], length)
	adu[6] = h.UnitID
	adu[mbapHeaderSize] = pdu.FunctionCode
	copy(adu[mbapHeaderSize+1:], pdu.Data)
	return adu
}

// parseMBAPFrame validates and decodes a complete MBAP ADU (spec.md §4.4
// "Parse"): at least 8 bytes (the 7-byte header plus a function code),
// protocol id zero, length in [1,254], total bytes consistent with the
// declared length. A length of 1 leaves no room for a function code and is
// reported as too short.
func parseMBAPFrame(adu []byte) (mbapHeader, *ProtocolDataUnit, error) {
	if len(adu) < mbapHeaderSize+1 {
		return mbapHeader{}, nil, pduTooShort(0)
	}
	txID, _ := readU16BE(adu, 0)
	protoID, _ := readU16BE(adu, 2)
	length, _ := readU16BE(adu, 4)
	unitID, _ := readU8(adu, 6)

	if protoID != 0 {
		return mbapHeader{}, nil, protocolMismatch("invalid protocol id", nil)
	}
	if length < 1 || length > 254 {
		return mbapHeader{}, nil, protocolMismatch("invalid length field", nil)
	}
	if len(adu) < 6+int(length) || length < 2 {
		return mbapHeader{}, nil, pduTooShort(0)
	}
	pdu := &ProtocolDataUnit{
		FunctionCode: adu[mbapHeaderSize],
		Data:         adu[mbapHeaderSize+1 : 6+int(length)],
	}
	return mbapHeader{TransactionID: txID, ProtocolID: protoID, UnitID: unitID}, pdu, nil
}

// verifyMBAP checks transaction id and unit id against what the caller
// expected, raising the Correlation errors of spec.md §7.
func verifyMBAP(h mbapHeader, expectedTxID uint16, expectedUnitID byte) error {
	if h.TransactionID != expectedTxID {
		return transactionIDMismatch(expectedTxID, h.TransactionID)
	}
	if h.UnitID != expectedUnitID {
		return unitIDMismatch(expectedUnitID, h.UnitID)
	}
	return nil
}

// mbapFrameSize returns the total ADU size (6 + Length) declared by a
// complete 7-byte header, or ok=false if the header is incomplete.
func mbapFrameSize(header []byte) (int, bool) {
	length, ok := readU16BE(header, 4)
	if !ok {
		return 0, false
	}
	return 6 + int(length), true
}
