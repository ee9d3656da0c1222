// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "sync"

// slot is a single-use, complete-exactly-once channel a registrant blocks
// on. It is the "single-slot or keyed-map of one-shot completion
// primitives" design note in spec.md §9.
type slot struct {
	ch chan slotResult
}

type slotResult struct {
	frame []byte
	err   error
}

func newSlot() *slot {
	return &slot{ch: make(chan slotResult, 1)}
}

func (s *slot) complete(frame []byte, err error) {
	select {
	case s.ch <- slotResult{frame: frame, err: err}:
	default:
	}
}

// demultiplexer implements spec.md §4.6: serial mode has at most one
// outstanding slot; pipelined mode keys slots by Transaction ID up to
// maxInFlight. All state is guarded by mu — the decoder goroutine and
// every caller registering/cancelling a slot must hold it, per spec.md §5.
type demultiplexer struct {
	mu          sync.Mutex
	pipelined   bool
	maxInFlight int

	// serial mode
	serialSlot *slot

	// pipelined mode
	pending map[uint16]*slot

	closed    bool
	closeErr  error
	logger    Logger
	metrics   Metrics
}

func newSerialDemultiplexer(logger Logger, metrics Metrics) *demultiplexer {
	return &demultiplexer{logger: nopLoggerIfNil(logger), metrics: nopMetricsIfNil(metrics)}
}

func newPipelinedDemultiplexer(maxInFlight int, logger Logger, metrics Metrics) *demultiplexer {
	return &demultiplexer{
		pipelined:   true,
		maxInFlight: maxInFlight,
		pending:     make(map[uint16]*slot),
		logger:      nopLoggerIfNil(logger),
		metrics:     nopMetricsIfNil(metrics),
	}
}

// RegisterSerial registers the single outstanding slot. It must be called
// before the request bytes are written (spec.md §4.6, "Ordering and
// registration ordering contract").
func (d *demultiplexer) RegisterSerial() (*slot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, transportError("demultiplexer closed", ErrChannelClosed)
	}
	s := newSlot()
	d.serialSlot = s
	return s, nil
}

// RegisterPipelined registers a slot keyed by Transaction ID, enforcing
// the in-flight cap and id-collision rule of spec.md §4.6.
func (d *demultiplexer) RegisterPipelined(transactionID uint16) (*slot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, transportError("demultiplexer closed", ErrChannelClosed)
	}
	if _, exists := d.pending[transactionID]; exists {
		return nil, backpressureError("transaction id in use", ErrTransactionInUse)
	}
	if len(d.pending) >= d.maxInFlight {
		d.metrics.IncPipeliningBackpressure()
		return nil, backpressureError("too many pending requests", ErrTooManyPending)
	}
	s := newSlot()
	d.pending[transactionID] = s
	d.metrics.SetPipeliningPending(len(d.pending))
	return s, nil
}

// Cancel removes and fails a previously registered slot (timeout, context
// cancellation, or a write failure after registration).
func (d *demultiplexer) Cancel(transactionID uint16, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipelined {
		if s, ok := d.pending[transactionID]; ok {
			delete(d.pending, transactionID)
			d.metrics.SetPipeliningPending(len(d.pending))
			s.complete(nil, err)
		}
		return
	}
	if d.serialSlot != nil {
		d.serialSlot.complete(nil, err)
		d.serialSlot = nil
	}
}

// Deliver is called by the stream reader goroutine with one complete
// frame. In serial mode it completes the single registered slot or, if
// none is registered, discards the frame as unsolicited (never buffered,
// spec.md §4.6). In pipelined mode it parses the Transaction ID from the
// first two bytes and completes the matching slot, or logs-and-discards
// if unknown (SPEC_FULL.md §7, Open Question 1).
func (d *demultiplexer) Deliver(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.pipelined {
		if d.serialSlot == nil {
			d.logger.Warnf("modbus: discarding unsolicited frame (% x)", frame)
			return
		}
		s := d.serialSlot
		d.serialSlot = nil
		s.complete(frame, nil)
		return
	}

	txID, ok := readU16BE(frame, 0)
	if !ok {
		d.logger.Warnf("modbus: discarding short frame (% x)", frame)
		return
	}
	s, found := d.pending[txID]
	if !found {
		d.logger.Warnf("modbus: discarding frame with unknown transaction id %#04x", txID)
		return
	}
	delete(d.pending, txID)
	d.metrics.SetPipeliningPending(len(d.pending))
	s.complete(frame, nil)
}

// Close fails every slot currently registered (serial or pipelined) and
// marks the demultiplexer closed; any later Register* call fails with
// ErrChannelClosed. Idempotent per spec.md §8 "Idempotent shutdown".
func (d *demultiplexer) Close(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.closeErr = err
	if d.serialSlot != nil {
		d.serialSlot.complete(nil, err)
		d.serialSlot = nil
	}
	for id, s := range d.pending {
		s.complete(nil, err)
		delete(d.pending, id)
	}
	d.metrics.SetPipeliningPending(0)
}
