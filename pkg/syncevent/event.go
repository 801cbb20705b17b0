// Package syncevent provides the two Win32-style event primitives the
// engine's threading model needs, built on Go channels: an auto-reset
// event used for "data available" / "space available" kicks between a
// single producer and a single consumer, and a manual-reset event used
// for broadcast shutdown signaling via the usual close(stopChan)+select
// pattern.
package syncevent

import (
	"context"
	"reflect"
	"sync"
)

// AutoReset is a single-slot auto-reset event: Set is idempotent while the
// event is already signaled, and exactly one Wait call is released per
// Set. It is safe for one setter and one waiter.
type AutoReset struct {
	ch chan struct{}
}

// NewAutoReset returns an event signaled according to initiallySet.
func NewAutoReset(initiallySet bool) *AutoReset {
	e := &AutoReset{ch: make(chan struct{}, 1)}
	if initiallySet {
		e.ch <- struct{}{}
	}
	return e
}

// Set signals the event. If it is already signaled, Set is a no-op.
func (e *AutoReset) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the event is signaled, consuming the signal, or until
// ctx is done.
func (e *AutoReset) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryWait consumes the signal and returns true if the event is
// currently signaled, or returns false immediately without blocking.
func (e *AutoReset) TryWait() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// C returns the underlying channel for use in a select statement. The
// channel yields at most one value per Set call; reading from it
// consumes the signal exactly like Wait/TryWait.
func (e *AutoReset) C() <-chan struct{} {
	return e.ch
}

// ManualReset is a broadcast, level-triggered event: once Set, it stays
// signaled for every past and future waiter until Reset is called. It is
// used for the engine's quit signal, where every thread must observe the
// same transition regardless of when it starts waiting.
type ManualReset struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewManualReset returns an unsignaled event.
func NewManualReset() *ManualReset {
	return &ManualReset{ch: make(chan struct{})}
}

// Set signals the event. Idempotent.
func (e *ManualReset) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
	default:
		close(e.ch)
	}
}

// Reset clears the event so future Wait calls block again.
func (e *ManualReset) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
	}
}

// C returns the underlying channel for use directly in a select statement,
// e.g. as the lowest-priority case in a priority-ordered wait.
func (e *ManualReset) C() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// IsSet reports whether the event is currently signaled.
func (e *ManualReset) IsSet() bool {
	select {
	case <-e.C():
		return true
	default:
		return false
	}
}

// Wait blocks until the event is signaled or ctx is done.
func (e *ManualReset) Wait(ctx context.Context) error {
	select {
	case <-e.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitPriority blocks until at least one of quit or events is signaled,
// then reports the lowest index among events (or -2 for quit) that was
// signaled, consuming that one AutoReset's signal.
//
// This mirrors WaitForMultipleObjects(bWaitAll=false)'s documented
// behavior: when several of the waited objects become signaled before
// the wait is serviced, the lowest-indexed one is reported and the
// others remain signaled, to be picked up on a later call. Go's select
// statement deliberately randomizes among ready cases, which would
// silently reorder which event a worker thread serves first; each call
// therefore scans events in order with a non-blocking check before it
// blocks, so events already signaled when the call starts are served
// lowest index first. Once blocked, the call reports whichever channel
// the select receives from first.
func WaitPriority(ctx context.Context, quit *ManualReset, events ...*AutoReset) (int, error) {
	for {
		for i, e := range events {
			if e.TryWait() {
				return i, nil
			}
		}
		if quit.IsSet() {
			return -2, nil
		}

		// Nothing was pending at the scan above, so whichever channel
		// this blocking select wakes on first has no ordering
		// ambiguity to resolve: the priority guarantee only concerns
		// events that were already signaled at the moment of a call,
		// which the TryWait scan above already serves in order.
		cases := make([]reflect.SelectCase, 0, len(events)+2)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(quit.C())})
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
		for _, e := range events {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(e.C())})
		}
		chosen, _, _ := reflect.Select(cases)
		switch {
		case chosen == 0:
			return -2, nil
		case chosen == 1:
			return -1, ctx.Err()
		default:
			return chosen - 2, nil
		}
	}
}
