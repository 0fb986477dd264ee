// notifyring.go: MPSC ring buffer for change-notification delivery
//
// The engine invokes the consumer call-out synchronously on whichever thread
// triggered the notification, which is usually the transport's signal
// thread. The client layer can instead route events through this ring so a
// single consumer goroutine runs the callbacks, keeping slow consumers from
// stalling the bus worker while preserving per-engine arrival order.
//
// Multiple producers (engine threads, transport threads) write concurrently;
// one processor drains. Writes never block: when the ring is full the event
// is dropped and counted, and the consumer is expected to re-read.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"runtime"
	"sync/atomic"
	"time"
)

// notifyRing - MPSC ring buffer for ChangeEvent delivery.
// Sized for notification traffic: bursts are small, events are rare, and
// latency matters more than throughput.
type notifyRing struct {
	buffer   []*ChangeEvent
	capacity int64
	mask     int64 // capacity - 1 for fast modulo

	// MPSC atomic cursors with cache-line padding
	writerCursor atomic.Int64 // Producer sequence
	readerCursor atomic.Int64 // Consumer sequence
	_            [48]byte     // Padding to prevent false sharing

	// Per-slot availability markers for MPSC coordination
	availableBuffer []atomic.Int64

	processor func(*ChangeEvent)

	running atomic.Bool

	processed atomic.Int64
	dropped   atomic.Int64
}

// newNotifyRing creates a ring with the given capacity (rounded up to a
// power of two, default 64) feeding the processor function.
func newNotifyRing(capacity int64, processor func(*ChangeEvent)) *notifyRing {
	if capacity <= 0 {
		capacity = 64
	}
	if capacity&(capacity-1) != 0 {
		rounded := int64(1)
		for rounded < capacity {
			rounded <<= 1
		}
		capacity = rounded
	}

	r := &notifyRing{
		buffer:          make([]*ChangeEvent, capacity),
		capacity:        capacity,
		mask:            capacity - 1,
		availableBuffer: make([]atomic.Int64, capacity),
		processor:       processor,
	}

	for i := range r.availableBuffer {
		r.availableBuffer[i].Store(-1)
	}

	r.running.Store(true)
	return r
}

// write adds one event. Returns false if the ring is full or stopped; the
// event is then dropped and counted.
func (r *notifyRing) write(event *ChangeEvent) bool {
	if !r.running.Load() {
		r.dropped.Add(1)
		return false
	}

	// MPSC: claim a sequence atomically, only while the ring has room, so a
	// dropped event never leaves a slot the consumer would wait on.
	var sequence int64
	for {
		sequence = r.writerCursor.Load()
		if sequence >= r.readerCursor.Load()+r.capacity {
			r.dropped.Add(1)
			return false
		}
		if r.writerCursor.CompareAndSwap(sequence, sequence+1) {
			break
		}
	}

	r.buffer[sequence&r.mask] = event

	// Mark available for reading.
	r.availableBuffer[sequence&r.mask].Store(sequence)

	return true
}

// processBatch runs the processor over the contiguous available events.
// Returns the number processed.
func (r *notifyRing) processBatch() int {
	current := r.readerCursor.Load()
	writerPos := r.writerCursor.Load()

	if current >= writerPos {
		return 0
	}

	// Find the contiguous available run.
	available := current - 1
	for seq := current; seq < writerPos; seq++ {
		if r.availableBuffer[seq&r.mask].Load() != seq {
			break
		}
		available = seq
	}

	if available < current {
		return 0
	}

	processed := int(available - current + 1)
	for seq := current; seq <= available; seq++ {
		idx := seq & r.mask
		r.processor(r.buffer[idx])
		r.buffer[idx] = nil
		r.availableBuffer[idx].Store(-1)
	}

	r.readerCursor.Store(available + 1)
	r.processed.Add(int64(processed))
	return processed
}

// run is the consumer loop: spin briefly for low latency, then yield, then
// sleep to release the CPU on idle rings.
func (r *notifyRing) run() {
	spins := 0
	for r.running.Load() {
		if r.processBatch() > 0 {
			spins = 0
			continue
		}

		spins++
		if spins < 2000 {
			continue
		} else if spins < 8000 {
			if spins&7 == 0 { // Yield every 8 iterations
				runtime.Gosched()
			}
		} else {
			time.Sleep(200 * time.Microsecond)
			spins = 0
		}
	}

	// Final drain
	for r.processBatch() > 0 {
	}
}

// stop terminates the consumer loop; run performs one final drain.
func (r *notifyRing) stop() {
	r.running.Store(false)
}

// stats returns counters for monitoring and tests.
func (r *notifyRing) stats() map[string]int64 {
	writerPos := r.writerCursor.Load()
	readerPos := r.readerCursor.Load()

	return map[string]int64{
		"writer_position": writerPos,
		"reader_position": readerPos,
		"buffer_size":     r.capacity,
		"items_buffered":  writerPos - readerPos,
		"items_processed": r.processed.Load(),
		"items_dropped":   r.dropped.Load(),
	}
}
