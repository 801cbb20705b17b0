// Package blockqueue implements a bounded single-producer/single-consumer
// queue of soundblock.Block slots, laid out as an N+1-slot ring: a fixed
// array of N+1 blocks lets the fill level span the full range [0, N]
// using only a write and a read position, with an auto-reset event fired
// on each successful commit so a blocked producer or consumer wakes
// without polling.
//
// The write and read protocols are explicitly two-phase: a caller must
// reserve a slot (WriteSlot / ReadSlot) before it may fill or drain it,
// and must commit (CommitWrite / CommitRead) before the slot becomes
// visible to the other side. Committing without a matching reservation
// is a protocol error, not an overrun or underrun.
package blockqueue

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dbergol/soundmexpro-sub001/pkg/soundblock"
	"github.com/dbergol/soundmexpro-sub001/pkg/syncevent"
)

// ErrOverrun is returned by WriteSlot when the queue has no empty slots.
var ErrOverrun = errors.New("blockqueue: overrun: no empty slots")

// ErrUnderrun is returned by ReadSlot when the queue has no filled
// slots.
var ErrUnderrun = errors.New("blockqueue: underrun: no filled slots")

// ErrProtocol is returned by CommitWrite/CommitRead when called without a
// matching, still-open WriteSlot/ReadSlot reservation.
var ErrProtocol = errors.New("blockqueue: commit without matching reservation")

// Queue is a bounded SPSC queue of soundblock.Block values.
type Queue struct {
	slots []soundblock.Block
	size  uint64 // len(slots) == capacity+1

	writePos atomic.Uint64
	readPos  atomic.Uint64

	writeOpen atomic.Bool
	readOpen  atomic.Bool

	dataAvailable  *syncevent.AutoReset
	spaceAvailable *syncevent.AutoReset
}

// New creates a queue holding up to capacity filled blocks, each shaped
// channels x frames. capacity must be at least 1.
func New(capacity, channels, frames int) *Queue {
	if capacity < 1 {
		panic("blockqueue: capacity must be >= 1")
	}
	q := &Queue{
		slots: soundblock.NewArray(capacity+1, channels, frames),
		size:  uint64(capacity + 1),

		dataAvailable:  syncevent.NewAutoReset(false),
		spaceAvailable: syncevent.NewAutoReset(true),
	}
	return q
}

// Capacity returns the maximum number of filled slots the queue can hold.
func (q *Queue) Capacity() int {
	return int(q.size - 1)
}

// FilledCount returns the number of committed, unread slots.
func (q *Queue) FilledCount() int {
	w := q.writePos.Load()
	r := q.readPos.Load()
	return int((w + q.size - r) % q.size)
}

// EmptyCount returns the number of slots available for writing.
func (q *Queue) EmptyCount() int {
	return q.Capacity() - q.FilledCount()
}

// ReadSlot reserves the next filled slot for draining and returns a
// pointer to it. The caller must follow with CommitRead before reserving
// again. Returns ErrUnderrun if the queue is empty.
func (q *Queue) ReadSlot() (*soundblock.Block, error) {
	if q.FilledCount() == 0 {
		return nil, ErrUnderrun
	}
	q.readOpen.Store(true)
	return &q.slots[q.readPos.Load()%q.size], nil
}

// CommitRead releases the slot most recently returned by ReadSlot,
// clearing it and signaling space available to the producer.
func (q *Queue) CommitRead() error {
	if !q.readOpen.CompareAndSwap(true, false) {
		return ErrProtocol
	}
	slot := &q.slots[q.readPos.Load()%q.size]
	slot.Clear()
	q.readPos.Add(1)
	q.spaceAvailable.Set()
	return nil
}

// WriteSlot reserves the next empty slot for filling and returns a
// pointer to it. The caller must follow with CommitWrite before
// reserving again. Returns ErrOverrun if the queue is full.
func (q *Queue) WriteSlot() (*soundblock.Block, error) {
	if q.EmptyCount() == 0 {
		return nil, ErrOverrun
	}
	q.writeOpen.Store(true)
	return &q.slots[q.writePos.Load()%q.size], nil
}

// CommitWrite releases the slot most recently returned by WriteSlot,
// making it visible to the consumer and signaling data available.
func (q *Queue) CommitWrite() error {
	if !q.writeOpen.CompareAndSwap(true, false) {
		return ErrProtocol
	}
	q.writePos.Add(1)
	q.dataAvailable.Set()
	return nil
}

// AbortWrite releases the slot reserved by WriteSlot without publishing
// it, for a caller that reserved a slot but failed to fill it (e.g. a
// shape mismatch writing into it). The slot stays empty and available
// to the next WriteSlot instead of being left permanently reserved.
func (q *Queue) AbortWrite() error {
	if !q.writeOpen.CompareAndSwap(true, false) {
		return ErrProtocol
	}
	return nil
}

// AbortRead releases the slot reserved by ReadSlot without consuming
// it, for a caller that reserved a slot but failed to drain it. The
// slot stays filled and available to the next ReadSlot instead of
// being left permanently reserved.
func (q *Queue) AbortRead() error {
	if !q.readOpen.CompareAndSwap(true, false) {
		return ErrProtocol
	}
	return nil
}

// WaitData blocks until at least one slot is filled or ctx is done.
func (q *Queue) WaitData(ctx context.Context) error {
	for q.FilledCount() == 0 {
		if err := q.dataAvailable.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WaitSpace blocks until at least one slot is empty or ctx is done.
func (q *Queue) WaitSpace(ctx context.Context) error {
	for q.EmptyCount() == 0 {
		if err := q.spaceAvailable.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset drains the queue back to empty and clears every slot, discarding
// any data in flight. It is not safe to call concurrently with WriteSlot
// or ReadSlot on another goroutine; the engine only calls it while the
// queue is quiesced (stop protocol, before re-initialization).
func (q *Queue) Reset() {
	for i := range q.slots {
		q.slots[i].Clear()
	}
	q.writePos.Store(0)
	q.readPos.Store(0)
	q.writeOpen.Store(false)
	q.readOpen.Store(false)
	q.spaceAvailable.Set()
}
