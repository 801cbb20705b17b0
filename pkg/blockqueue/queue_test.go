package blockqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCapacityInvariant(t *testing.T) {
	q := New(3, 1, 2)
	if got, want := q.Capacity(), 3; got != want {
		t.Fatalf("Capacity: got %d, want %d", got, want)
	}
	if got, want := q.EmptyCount(), 3; got != want {
		t.Fatalf("EmptyCount: got %d, want %d", got, want)
	}

	for i := 0; i < 3; i++ {
		slot, err := q.WriteSlot()
		if err != nil {
			t.Fatalf("WriteSlot %d: %v", i, err)
		}
		slot.Channels[0][0] = float32(i)
		if err := q.CommitWrite(); err != nil {
			t.Fatalf("CommitWrite %d: %v", i, err)
		}
	}
	if got, want := q.FilledCount(), 3; got != want {
		t.Fatalf("FilledCount: got %d, want %d", got, want)
	}
	if _, err := q.WriteSlot(); !errors.Is(err, ErrOverrun) {
		t.Fatalf("WriteSlot on full queue: got %v, want ErrOverrun", err)
	}
}

func TestSPSCRoundTripPreservesOrderAndValues(t *testing.T) {
	q := New(4, 1, 1)
	for i := 0; i < 10; i++ {
		slot, err := q.WriteSlot()
		if err != nil {
			t.Fatalf("WriteSlot %d: %v", i, err)
		}
		slot.Channels[0][0] = float32(i)
		if err := q.CommitWrite(); err != nil {
			t.Fatalf("CommitWrite %d: %v", i, err)
		}

		read, err := q.ReadSlot()
		if err != nil {
			t.Fatalf("ReadSlot %d: %v", i, err)
		}
		if got, want := read.Channels[0][0], float32(i); got != want {
			t.Fatalf("round trip %d: got %v, want %v", i, got, want)
		}
		if err := q.CommitRead(); err != nil {
			t.Fatalf("CommitRead %d: %v", i, err)
		}
	}
}

func TestReadSlotUnderrun(t *testing.T) {
	q := New(2, 1, 1)
	if _, err := q.ReadSlot(); !errors.Is(err, ErrUnderrun) {
		t.Fatalf("ReadSlot on empty queue: got %v, want ErrUnderrun", err)
	}
}

func TestCommitWithoutReservationIsProtocolError(t *testing.T) {
	q := New(2, 1, 1)
	if err := q.CommitWrite(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("CommitWrite without WriteSlot: got %v, want ErrProtocol", err)
	}
	if err := q.CommitRead(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("CommitRead without ReadSlot: got %v, want ErrProtocol", err)
	}
}

func TestWaitDataUnblocksOnCommitWrite(t *testing.T) {
	q := New(2, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- q.WaitData(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	slot, _ := q.WriteSlot()
	slot.Channels[0][0] = 1
	if err := q.CommitWrite(); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("WaitData: %v", err)
	}
}

func TestWaitSpaceUnblocksOnCommitRead(t *testing.T) {
	q := New(1, 1, 1)
	slot, _ := q.WriteSlot()
	_ = slot
	if err := q.CommitWrite(); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- q.WaitSpace(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := q.ReadSlot(); err != nil {
		t.Fatalf("ReadSlot: %v", err)
	}
	if err := q.CommitRead(); err != nil {
		t.Fatalf("CommitRead: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("WaitSpace: %v", err)
	}
}

func TestAbortWriteFreesSlotWithoutPublishing(t *testing.T) {
	q := New(1, 1, 1)
	if _, err := q.WriteSlot(); err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	if err := q.AbortWrite(); err != nil {
		t.Fatalf("AbortWrite: %v", err)
	}
	if got, want := q.FilledCount(), 0; got != want {
		t.Fatalf("FilledCount after AbortWrite: got %d, want %d", got, want)
	}
	if _, err := q.WriteSlot(); err != nil {
		t.Fatalf("WriteSlot after AbortWrite: %v", err)
	}
	if err := q.AbortWrite(); err != nil {
		t.Fatalf("AbortWrite: %v", err)
	}
	if err := q.AbortWrite(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("AbortWrite without reservation: got %v, want ErrProtocol", err)
	}
}

func TestAbortReadFreesSlotWithoutConsuming(t *testing.T) {
	q := New(1, 1, 1)
	slot, _ := q.WriteSlot()
	slot.Channels[0][0] = 7
	if err := q.CommitWrite(); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}

	if _, err := q.ReadSlot(); err != nil {
		t.Fatalf("ReadSlot: %v", err)
	}
	if err := q.AbortRead(); err != nil {
		t.Fatalf("AbortRead: %v", err)
	}
	if got, want := q.FilledCount(), 1; got != want {
		t.Fatalf("FilledCount after AbortRead: got %d, want %d", got, want)
	}

	read, err := q.ReadSlot()
	if err != nil {
		t.Fatalf("ReadSlot after AbortRead: %v", err)
	}
	if got, want := read.Channels[0][0], float32(7); got != want {
		t.Fatalf("slot value after AbortRead: got %v, want %v", got, want)
	}
	if err := q.CommitRead(); err != nil {
		t.Fatalf("CommitRead: %v", err)
	}
}

func TestResetClearsQueue(t *testing.T) {
	q := New(2, 1, 1)
	slot, _ := q.WriteSlot()
	slot.Channels[0][0] = 5
	_ = q.CommitWrite()

	q.Reset()

	if got, want := q.FilledCount(), 0; got != want {
		t.Fatalf("FilledCount after Reset: got %d, want %d", got, want)
	}
	if got, want := q.EmptyCount(), q.Capacity(); got != want {
		t.Fatalf("EmptyCount after Reset: got %d, want %d", got, want)
	}
}
