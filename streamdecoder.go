// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// streamFrameDecoder is the pull-based incremental MBAP frame extractor of
// spec.md §4.5. A byte transport feeds it arbitrarily chunked bytes via
// Push; Frames then drains as many complete frames as are buffered. Errors
// are terminal: once Push or Frames returns a non-nil error the decoder
// must not be reused, matching spec.md's "no resync story" rationale.
type streamFrameDecoder struct {
	buf    []byte
	err    error
	closed bool
}

func newStreamFrameDecoder() *streamFrameDecoder {
	return &streamFrameDecoder{}
}

// Push appends newly read bytes and returns every complete frame now
// available, oldest first. It is safe to call with zero-length input.
func (d *streamFrameDecoder) Push(chunk []byte) ([][]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		// needHeader: not enough bytes yet to even read the length field.
		if len(d.buf) < mbapHeaderSize {
			return frames, nil
		}
		size, ok := mbapFrameSize(d.buf)
		if !ok {
			return frames, nil
		}
		if protoID, _ := readU16BE(d.buf, 2); protoID != 0 {
			d.err = protocolMismatch("invalid protocol id in stream frame", nil)
			return frames, d.err
		}
		length := size - 6
		if length <= 0 || length > 254 {
			d.err = protocolMismatch("invalid length in stream frame", nil)
			return frames, d.err
		}
		if size > maxTCPADUSize {
			d.err = protocolMismatch("frame size exceeds maximum ADU", nil)
			return frames, d.err
		}
		// needBody: header seen, but the full frame hasn't arrived yet.
		if len(d.buf) < size {
			return frames, nil
		}
		// emit: frame is complete, peel it off and keep scanning.
		frame := make([]byte, size)
		copy(frame, d.buf[:size])
		d.buf = d.buf[size:]
		frames = append(frames, frame)
	}
}

// Close reports whether end-of-stream occurred with a partial frame still
// buffered (spec.md §4.5, "incomplete-frame-at-EOF").
func (d *streamFrameDecoder) Close() error {
	d.closed = true
	if d.err != nil {
		return d.err
	}
	if len(d.buf) > 0 {
		return protocolMismatch("incomplete frame at end of stream", nil)
	}
	return nil
}
