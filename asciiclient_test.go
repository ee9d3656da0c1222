package modbus

import (
	"bytes"
	"testing"
)

// spec.md §8 scenario 5: message [04 01 00 0A 00 0D] encodes to
// :040100 0A00 0D E4 \r\n and decodes back to the original PDU, with LRC
// 0xE4.
func TestASCIIPackagerScenario5RoundTrip(t *testing.T) {
	var p asciiPackager
	pdu := &ProtocolDataUnit{FunctionCode: 0x01, Data: []byte{0x00, 0x0A, 0x00, 0x0D}}

	adu, err := p.Encode(0x04, pdu)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := ":0401000A000DE4\r\n"
	if string(adu) != want {
		t.Fatalf("Encode = %q, want %q", adu, want)
	}

	decoded, err := p.Decode(adu)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.FunctionCode != pdu.FunctionCode || !bytes.Equal(decoded.Data, pdu.Data) {
		t.Fatalf("Decode = %+v, want %+v", decoded, pdu)
	}
}

func TestASCIIPackagerDecodeRejectsBadLRC(t *testing.T) {
	var p asciiPackager
	adu := []byte(":0401000A000DFF\r\n") // correct LRC is 0xE4, not 0xFF
	if _, err := p.Decode(adu); err == nil {
		t.Fatal("expected an LRC mismatch error")
	}
}

func TestASCIIPackagerVerifyRejectsShortFrame(t *testing.T) {
	var p asciiPackager
	if err := p.Verify([]byte(":0403\r\n"), []byte(":04\r\n")); err == nil {
		t.Fatal("expected an error for a too-short response frame")
	}
}

func TestASCIIPackagerVerifyRejectsSlaveIDMismatch(t *testing.T) {
	var p asciiPackager
	req, _ := p.Encode(0x04, &ProtocolDataUnit{FunctionCode: 0x01, Data: []byte{0x00, 0x0A}})
	resp, _ := p.Encode(0x05, &ProtocolDataUnit{FunctionCode: 0x01, Data: []byte{0x00, 0x0A}})
	if err := p.Verify(req, resp); err == nil {
		t.Fatal("expected a slave id mismatch error")
	}
}
