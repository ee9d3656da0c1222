package modbus

import (
	"bytes"
	"testing"
)

// spec.md §8 scenario 2: read holding registers, 3 regs at 0x006B, slave
// 0x01 builds to 01 03 00 6B 00 03 74 17.
func TestRTUPackagerEncodeScenario2(t *testing.T) {
	var p rtuPackager
	pdu := &ProtocolDataUnit{FunctionCode: FuncCodeReadHoldingRegisters, Data: dataBlock(0x006B, 0x0003)}
	adu, err := p.Encode(0x01, pdu)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x74, 0x17}
	if !bytes.Equal(adu, want) {
		t.Fatalf("Encode = % x, want % x", adu, want)
	}

	decoded, err := p.Decode(adu)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.FunctionCode != pdu.FunctionCode || !bytes.Equal(decoded.Data, pdu.Data) {
		t.Fatalf("Decode = %+v, want %+v", decoded, pdu)
	}
}

func TestRTUPackagerDecodeRejectsBadCRC(t *testing.T) {
	var p rtuPackager
	adu := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x00, 0x00}
	if _, err := p.Decode(adu); err == nil {
		t.Fatal("expected a CRC mismatch error")
	}
}

func TestRTUPackagerVerifyRejectsUnitIDMismatch(t *testing.T) {
	var p rtuPackager
	req := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x74, 0x17}
	resp := []byte{0x02, 0x03, 0x02, 0x00, 0x01, 0x00, 0x00}
	if err := p.Verify(req, resp); err == nil {
		t.Fatal("expected a unit id mismatch error")
	}
}

func TestRTUPackagerVerifyRejectsShortFrame(t *testing.T) {
	var p rtuPackager
	req := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x74, 0x17}
	resp := []byte{0x01, 0x03}
	if err := p.Verify(req, resp); err == nil {
		t.Fatal("expected a short-frame error")
	}
}
