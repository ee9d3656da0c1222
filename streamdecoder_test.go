package modbus

import (
	"bytes"
	"testing"
)

func frameFor(t *testing.T, txID uint16, unitID byte, functionCode byte, data []byte) []byte {
	t.Helper()
	return buildMBAPFrame(mbapHeader{TransactionID: txID, UnitID: unitID}, &ProtocolDataUnit{FunctionCode: functionCode, Data: data})
}

func TestStreamFrameDecoderSingleChunk(t *testing.T) {
	d := newStreamFrameDecoder()
	frame := frameFor(t, 1, 1, 0x03, []byte{0x02, 0x00, 0x01})

	frames, err := d.Push(frame)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0], frame) {
		t.Fatalf("frames = %v, want [% x]", frames, frame)
	}
}

// spec.md §4.5: the decoder emits zero or more complete frames per
// delivery, assembling a frame split across arbitrarily small chunks.
func TestStreamFrameDecoderSplitAcrossChunks(t *testing.T) {
	d := newStreamFrameDecoder()
	frame := frameFor(t, 2, 1, 0x03, []byte{0x02, 0x00, 0x01})

	for i := 0; i < len(frame); i++ {
		frames, err := d.Push(frame[i : i+1])
		if err != nil {
			t.Fatalf("Push byte %d: %v", i, err)
		}
		if i < len(frame)-1 {
			if len(frames) != 0 {
				t.Fatalf("byte %d: got %d frames early", i, len(frames))
			}
		} else {
			if len(frames) != 1 || !bytes.Equal(frames[0], frame) {
				t.Fatalf("final byte: frames = %v, want [% x]", frames, frame)
			}
		}
	}
}

func TestStreamFrameDecoderTwoFramesOneDelivery(t *testing.T) {
	d := newStreamFrameDecoder()
	f1 := frameFor(t, 1, 1, 0x03, []byte{0x02, 0x00, 0x01})
	f2 := frameFor(t, 2, 1, 0x03, []byte{0x02, 0x00, 0x02})

	frames, err := d.Push(append(append([]byte{}, f1...), f2...))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(frames) != 2 || !bytes.Equal(frames[0], f1) || !bytes.Equal(frames[1], f2) {
		t.Fatalf("frames = %v", frames)
	}
}

// spec.md §4.5: invalid length (0 or > 254) is a terminal error.
func TestStreamFrameDecoderRejectsBadLength(t *testing.T) {
	d := newStreamFrameDecoder()
	bad := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0xFF, 0x01, 0x03}
	if _, err := d.Push(bad); err == nil {
		t.Fatal("expected an error for length > 254")
	}
	// Once terminal, the decoder must not be reused.
	if _, err := d.Push([]byte{0x00}); err == nil {
		t.Fatal("decoder should still report its terminal error")
	}
}

// spec.md §4.5: a non-zero protocol id is a terminal, connection-closing
// error, same as bad length or an oversized frame.
func TestStreamFrameDecoderRejectsBadProtocolID(t *testing.T) {
	d := newStreamFrameDecoder()
	bad := []byte{0x00, 0x01, 0x00, 0x07, 0x00, 0x02, 0x01, 0x03}
	if _, err := d.Push(bad); err == nil {
		t.Fatal("expected an error for a non-zero protocol id")
	}
	// Once terminal, the decoder must not be reused.
	if _, err := d.Push([]byte{0x00}); err == nil {
		t.Fatal("decoder should still report its terminal error")
	}
}

func TestStreamFrameDecoderRejectsZeroLength(t *testing.T) {
	d := newStreamFrameDecoder()
	bad := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01}
	if _, err := d.Push(bad); err == nil {
		t.Fatal("expected an error for length == 0")
	}
}

// spec.md §4.5: end of stream with bytes remaining raises an
// incomplete-frame-at-EOF error.
func TestStreamFrameDecoderCloseIncompleteFrame(t *testing.T) {
	d := newStreamFrameDecoder()
	frame := frameFor(t, 1, 1, 0x03, []byte{0x02, 0x00, 0x01})
	if _, err := d.Push(frame[:len(frame)-1]); err != nil {
		t.Fatalf("Push partial: %v", err)
	}
	if err := d.Close(); err == nil {
		t.Fatal("expected incomplete-frame-at-EOF error")
	}
}

func TestStreamFrameDecoderCloseCleanAtBoundary(t *testing.T) {
	d := newStreamFrameDecoder()
	frame := frameFor(t, 1, 1, 0x03, []byte{0x02, 0x00, 0x01})
	if _, err := d.Push(frame); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close on a clean boundary: %v", err)
	}
}

func TestStreamFrameDecoderEmptyPush(t *testing.T) {
	d := newStreamFrameDecoder()
	frames, err := d.Push(nil)
	if err != nil || len(frames) != 0 {
		t.Fatalf("Push(nil) = %v, %v", frames, err)
	}
}
