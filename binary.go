// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "encoding/binary"

// This file is the sole primitive PDU parsers use to reach into payload
// bytes. Every reader takes an offset and returns (value, ok); ok is false
// whenever the read would touch or cross the end of b. Parsers must never
// index b directly in a decode path — see spec.md §4.1 and the CVE classes
// it cites (CVE-2024-10918, CVE-2023-26793, CVE-2022-0367) for why.

func readU8(b []byte, offset int) (byte, bool) {
	if offset < 0 || offset >= len(b) {
		return 0, false
	}
	return b[offset], true
}

func readU16BE(b []byte, offset int) (uint16, bool) {
	if offset < 0 || offset+2 > len(b) {
		return 0, false
	}
	return binary.BigEndian.Uint16(b[offset:]), true
}

func readU16LE(b []byte, offset int) (uint16, bool) {
	if offset < 0 || offset+2 > len(b) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b[offset:]), true
}

func readU32BE(b []byte, offset int) (uint32, bool) {
	if offset < 0 || offset+4 > len(b) {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[offset:]), true
}

func readU32LE(b []byte, offset int) (uint32, bool) {
	if offset < 0 || offset+4 > len(b) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[offset:]), true
}

// readBytes returns b[offset:offset+n], or ok=false if that range is not
// fully contained in b.
func readBytes(b []byte, offset, n int) ([]byte, bool) {
	if offset < 0 || n < 0 || offset+n > len(b) {
		return nil, false
	}
	return b[offset : offset+n], true
}
