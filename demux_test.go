package modbus

import (
	"errors"
	"testing"
	"time"
)

func TestDemuxSerialCompletesRegisteredSlot(t *testing.T) {
	d := newSerialDemultiplexer(nil, nil)
	s, err := d.RegisterSerial()
	if err != nil {
		t.Fatalf("RegisterSerial: %v", err)
	}
	d.Deliver([]byte{0x01, 0x03, 0x02, 0x00, 0x01})

	select {
	case res := <-s.ch:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if len(res.frame) != 5 {
			t.Fatalf("frame = % x", res.frame)
		}
	case <-time.After(time.Second):
		t.Fatal("slot never completed")
	}
}

// spec.md §4.6: an arriving frame with no slot registered is discarded,
// never buffered.
func TestDemuxSerialUnsolicitedFrameDiscarded(t *testing.T) {
	d := newSerialDemultiplexer(nil, nil)
	d.Deliver([]byte{0x01, 0x03, 0x02, 0x00, 0x01})
	// No panic, no leaked state: a subsequent register/deliver pair still
	// works normally.
	s, err := d.RegisterSerial()
	if err != nil {
		t.Fatalf("RegisterSerial: %v", err)
	}
	d.Deliver([]byte{0xAA})
	select {
	case res := <-s.ch:
		if len(res.frame) != 1 || res.frame[0] != 0xAA {
			t.Fatalf("frame = % x", res.frame)
		}
	case <-time.After(time.Second):
		t.Fatal("slot never completed")
	}
}

func TestDemuxSerialCloseFailsSlot(t *testing.T) {
	d := newSerialDemultiplexer(nil, nil)
	s, err := d.RegisterSerial()
	if err != nil {
		t.Fatalf("RegisterSerial: %v", err)
	}
	closeErr := errors.New("connection closed")
	d.Close(closeErr)

	select {
	case res := <-s.ch:
		if res.err != closeErr {
			t.Fatalf("err = %v, want %v", res.err, closeErr)
		}
	case <-time.After(time.Second):
		t.Fatal("slot never failed on close")
	}
}

// spec.md §8, "Idempotent shutdown": close called twice is a no-op on the
// second call.
func TestDemuxCloseIdempotent(t *testing.T) {
	d := newSerialDemultiplexer(nil, nil)
	d.Close(errors.New("first"))
	d.Close(errors.New("second")) // must not panic or double-complete
}

func TestDemuxPipelinedRegisterAndDeliver(t *testing.T) {
	d := newPipelinedDemultiplexer(4, nil, nil)
	s1, err := d.RegisterPipelined(1)
	if err != nil {
		t.Fatalf("RegisterPipelined(1): %v", err)
	}
	s2, err := d.RegisterPipelined(2)
	if err != nil {
		t.Fatalf("RegisterPipelined(2): %v", err)
	}

	frame2 := []byte{0x00, 0x02, 0xCC}
	frame1 := []byte{0x00, 0x01, 0xAA}
	d.Deliver(frame2)
	d.Deliver(frame1)

	select {
	case res := <-s1.ch:
		if res.frame[2] != 0xAA {
			t.Fatalf("slot1 got frame % x", res.frame)
		}
	case <-time.After(time.Second):
		t.Fatal("slot1 never completed")
	}
	select {
	case res := <-s2.ch:
		if res.frame[2] != 0xCC {
			t.Fatalf("slot2 got frame % x", res.frame)
		}
	case <-time.After(time.Second):
		t.Fatal("slot2 never completed")
	}
}

// spec.md §4.6: registration fails with too-many-pending at the cap.
func TestDemuxPipelinedTooManyPending(t *testing.T) {
	d := newPipelinedDemultiplexer(2, nil, nil)
	if _, err := d.RegisterPipelined(1); err != nil {
		t.Fatalf("RegisterPipelined(1): %v", err)
	}
	if _, err := d.RegisterPipelined(2); err != nil {
		t.Fatalf("RegisterPipelined(2): %v", err)
	}
	_, err := d.RegisterPipelined(3)
	var me *Error
	if !errors.As(err, &me) || me.Kind != KindBackpressure || !errors.Is(err, ErrTooManyPending) {
		t.Fatalf("RegisterPipelined(3) err = %v, want too-many-pending", err)
	}
}

// spec.md §4.6: registration fails with transaction-id-in-use on collision.
func TestDemuxPipelinedTransactionIDCollision(t *testing.T) {
	d := newPipelinedDemultiplexer(4, nil, nil)
	if _, err := d.RegisterPipelined(7); err != nil {
		t.Fatalf("RegisterPipelined(7): %v", err)
	}
	_, err := d.RegisterPipelined(7)
	if !errors.Is(err, ErrTransactionInUse) {
		t.Fatalf("RegisterPipelined(7) again err = %v, want transaction-id-in-use", err)
	}
}

// spec.md §8: for any sequence of maxInFlight+1 concurrent registrations
// without intervening completion, exactly one registration fails with
// too-many-pending.
func TestDemuxPipeliningCapExactlyOneFails(t *testing.T) {
	const maxInFlight = 8
	d := newPipelinedDemultiplexer(maxInFlight, nil, nil)
	failures := 0
	for id := uint16(1); id <= maxInFlight+1; id++ {
		if _, err := d.RegisterPipelined(id); err != nil {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want 1", failures)
	}
}

// spec.md §4.6: cancellation removes the slot and fails it, and frees
// capacity for a new registration.
func TestDemuxPipelinedCancelFreesSlot(t *testing.T) {
	d := newPipelinedDemultiplexer(1, nil, nil)
	s, err := d.RegisterPipelined(1)
	if err != nil {
		t.Fatalf("RegisterPipelined(1): %v", err)
	}
	cancelErr := errors.New("timeout")
	d.Cancel(1, cancelErr)

	select {
	case res := <-s.ch:
		if res.err != cancelErr {
			t.Fatalf("err = %v, want %v", res.err, cancelErr)
		}
	case <-time.After(time.Second):
		t.Fatal("slot never failed on cancel")
	}

	if _, err := d.RegisterPipelined(2); err != nil {
		t.Fatalf("RegisterPipelined(2) after cancel: %v", err)
	}
}

// spec.md §4.6: an arriving frame with an unknown transaction id is
// discarded, not buffered, and must not fail outstanding requests.
func TestDemuxPipelinedUnknownTransactionIDDiscarded(t *testing.T) {
	d := newPipelinedDemultiplexer(4, nil, nil)
	s, err := d.RegisterPipelined(1)
	if err != nil {
		t.Fatalf("RegisterPipelined(1): %v", err)
	}
	d.Deliver([]byte{0x00, 0x99, 0xFF}) // unknown transaction id 0x0099
	select {
	case <-s.ch:
		t.Fatal("slot for transaction 1 should not have completed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDemuxPipelinedCloseFailsEverySlot(t *testing.T) {
	d := newPipelinedDemultiplexer(4, nil, nil)
	s1, _ := d.RegisterPipelined(1)
	s2, _ := d.RegisterPipelined(2)
	closeErr := errors.New("closed")
	d.Close(closeErr)

	for _, s := range []*slot{s1, s2} {
		select {
		case res := <-s.ch:
			if res.err != closeErr {
				t.Fatalf("err = %v, want %v", res.err, closeErr)
			}
		case <-time.After(time.Second):
			t.Fatal("slot never failed on close")
		}
	}
}
