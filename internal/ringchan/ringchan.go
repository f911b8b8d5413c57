// Package ringchan provides a bounded channel that overwrites its oldest
// element instead of blocking the producer.
package ringchan

import "sync/atomic"

// RingChannel is a channel-like buffer with overwrite-oldest semantics.
//
// Discovery events are produced from the adapter's advertisement callback,
// which must never block; consumers that fall behind only lose the oldest
// events.
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	// rc.C() now yields 7, 8, 9
type RingChannel[T any] struct {
	ch          chan T
	written     atomic.Int64
	overwritten atomic.Int64
}

// Stats is a snapshot of the channel counters.
type Stats struct {
	Written     int64
	Overwritten int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side of the buffer.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send enqueues v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}

		// A concurrent consumer may drain the slot first; loop and retry the send.
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// Stats returns the current counters.
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
	}
}
