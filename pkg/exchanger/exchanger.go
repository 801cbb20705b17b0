// Package exchanger routes multi-channel sound blocks between the
// driver callback and the client's processing code, and — when the
// host configures a done (visualization/recording) path — mirrors
// capture and playback data to a second pair of queues a slower
// consumer can drain without affecting audio timing.
//
// Two scheduling modes are supported, selected purely by configuration:
//
//   - Buffered mode (ProcQueueDepth > 0): the driver callback only ever
//     pushes captured data and pops already-processed playback data; a
//     separate processing-thread goroutine drains capture and produces
//     playback by calling the client's process function. This is what
//     lets the driver callback return quickly and tolerate jitter in
//     when the client's code actually runs.
//   - Real-time mode (ProcQueueDepth == 0): there is no queue and no
//     separate thread. The driver callback invokes the client's process
//     function itself, synchronously, guarded by a single-entry
//     compare-and-swap so a reentrant driver callback (the driver
//     invoking buffer_switch again before the previous call returned)
//     is detected as an xrun instead of racing the client's code.
package exchanger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dbergol/soundmexpro-sub001/pkg/blockqueue"
	"github.com/dbergol/soundmexpro-sub001/pkg/notify"
	"github.com/dbergol/soundmexpro-sub001/pkg/soundblock"
)

// ErrOverlap is returned in real-time mode when the driver re-enters
// the buffer-switch callback while the previous call's processing had
// not yet returned.
var ErrOverlap = errors.New("exchanger: real-time processing call overlapped the previous one")

// Config describes the shape and scheduling mode of an Exchanger.
type Config struct {
	// CaptureChannels and PlaybackChannels size the capture-side and
	// playback-side queues independently: a driver's input and output
	// channel counts need not match (e.g. pkg/drivers/padriver's
	// duplex stream has independent input and output parameters).
	CaptureChannels  int
	PlaybackChannels int
	FramesPerBlock   int

	// ProcQueueDepth is the capacity of the buffered capture/playback
	// queues. Zero selects real-time mode.
	ProcQueueDepth int

	// DoneQueueDepth is the capacity of the done (visualization /
	// recording) queues. Zero disables the done path entirely.
	DoneQueueDepth int

	// CaptureDoneProcessed selects which version of the captured block
	// is mirrored to the done path: false delivers the raw, pre-process
	// capture (the default); true delivers the block as observed after
	// the client's process function has run.
	CaptureDoneProcessed bool
}

// Exchanger owns the buffered and done queues for one active stream.
type Exchanger struct {
	cfg Config

	procCapture  *blockqueue.Queue // nil in real-time mode
	procPlayback *blockqueue.Queue // nil in real-time mode

	doneCapture  *blockqueue.Queue // nil if DoneQueueDepth == 0
	donePlayback *blockqueue.Queue // nil if DoneQueueDepth == 0

	notifications *notify.Queue

	realtimeBusy atomic.Bool

	xrunProcCount atomic.Uint64
	xrunDoneCount atomic.Uint64
	xrunRTCount   atomic.Uint64
}

// New creates an Exchanger. notifications may be nil, in which case
// xrun and overlap conditions are still counted but not posted.
func New(cfg Config, notifications *notify.Queue) *Exchanger {
	e := &Exchanger{cfg: cfg, notifications: notifications}
	if !e.IsRealTime() {
		e.procCapture = blockqueue.New(cfg.ProcQueueDepth, cfg.CaptureChannels, cfg.FramesPerBlock)
		e.procPlayback = blockqueue.New(cfg.ProcQueueDepth, cfg.PlaybackChannels, cfg.FramesPerBlock)
	}
	if e.HasDoneQueue() {
		e.doneCapture = blockqueue.New(cfg.DoneQueueDepth, cfg.CaptureChannels, cfg.FramesPerBlock)
		e.donePlayback = blockqueue.New(cfg.DoneQueueDepth, cfg.PlaybackChannels, cfg.FramesPerBlock)
	}
	return e
}

// IsRealTime reports whether the exchanger runs the client's process
// function synchronously from the driver callback.
func (e *Exchanger) IsRealTime() bool { return e.cfg.ProcQueueDepth == 0 }

// HasDoneQueue reports whether a visualization/recording path is active.
func (e *Exchanger) HasDoneQueue() bool { return e.cfg.DoneQueueDepth > 0 }

// ProcCaptureBacklog reports how many already-captured blocks are
// currently queued in the processing path, i.e. the n_waiting count the
// processing thread hands to the client's process function. Zero in
// real-time mode, where there is no queue.
func (e *Exchanger) ProcCaptureBacklog() int {
	if e.procCapture == nil {
		return 0
	}
	return e.procCapture.FilledCount()
}

// DoneBacklog reports how many done pairs are queued behind the one
// currently being delivered, by the shallower of the two done queues.
func (e *Exchanger) DoneBacklog() int {
	if e.doneCapture == nil {
		return 0
	}
	capFilled := e.doneCapture.FilledCount()
	playFilled := e.donePlayback.FilledCount()
	if capFilled < playFilled {
		return capFilled
	}
	return playFilled
}

// XrunCounts returns the cumulative overrun/underrun counts observed on
// the processing queues, the done queues, and real-time overlaps.
func (e *Exchanger) XrunCounts() (proc, done, rt uint64) {
	return e.xrunProcCount.Load(), e.xrunDoneCount.Load(), e.xrunRTCount.Load()
}

func (e *Exchanger) notify(kind notify.Kind, err error) {
	if e.notifications == nil {
		return
	}
	e.notifications.Post(notify.Event{Kind: kind, Err: err})
}

// Prefill synthesizes playback blocks into the proc-playback queue so
// the driver's first periods after Start are never starved waiting on
// the processing thread. It repeatedly calls process with a fake-silent
// capture block and pushes the resulting playback block, stopping when
// the queue is full or process sets playback.IsLast. It is only valid
// in buffered mode and before the driver has started pulling data.
func (e *Exchanger) Prefill(process func(capture, playback *soundblock.Block)) error {
	if e.IsRealTime() {
		return fmt.Errorf("exchanger: Prefill is not applicable in real-time mode")
	}
	capture := soundblock.New(e.cfg.CaptureChannels, e.cfg.FramesPerBlock)
	for {
		slot, err := e.procPlayback.WriteSlot()
		if err != nil {
			if errors.Is(err, blockqueue.ErrOverrun) {
				return nil
			}
			return err
		}
		capture.Clear()
		slot.Clear()
		process(capture, slot)
		last := slot.IsLast
		if err := e.procPlayback.CommitWrite(); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

// PushCapture is called from the driver callback in buffered mode to
// hand off one captured block. If the processing queue is full this is
// reported as a processing xrun and the block is dropped: the driver
// must not block waiting on the processing thread.
func (e *Exchanger) PushCapture(capture *soundblock.Block) error {
	if e.IsRealTime() {
		return fmt.Errorf("exchanger: PushCapture is not applicable in real-time mode")
	}
	slot, err := e.procCapture.WriteSlot()
	if err != nil {
		e.xrunProcCount.Add(1)
		e.notify(notify.KindXrunProc, err)
		return err
	}
	if err := slot.CopyFrom(capture); err != nil {
		// Release the reservation so the queue's reserve/commit
		// bookkeeping does not outlive the failed copy.
		_ = e.procCapture.AbortWrite()
		return err
	}
	if err := e.procCapture.CommitWrite(); err != nil {
		return err
	}
	if e.HasDoneQueue() && !e.cfg.CaptureDoneProcessed {
		e.pushDone(e.doneCapture, capture)
	}
	return nil
}

// PopPlayback is called from the driver callback in buffered mode to
// retrieve the next already-processed playback block. If the queue is
// empty this is a processing underrun; dst is left untouched so the
// caller can fall back to silence.
func (e *Exchanger) PopPlayback(dst *soundblock.Block) error {
	if e.IsRealTime() {
		return fmt.Errorf("exchanger: PopPlayback is not applicable in real-time mode")
	}
	slot, err := e.procPlayback.ReadSlot()
	if err != nil {
		e.xrunProcCount.Add(1)
		e.notify(notify.KindXrunProc, err)
		return err
	}
	if err := dst.CopyFrom(slot); err != nil {
		_ = e.procPlayback.AbortRead()
		return err
	}
	return e.procPlayback.CommitRead()
}

// ProcessOnce is the processing thread's unit of work in buffered mode:
// it waits for a captured block and free playback space, invokes
// process, and commits both queues. process must fill playback in
// place and may set playback.IsLast to signal end of stream.
func (e *Exchanger) ProcessOnce(ctx context.Context, process func(capture, playback *soundblock.Block)) error {
	if e.IsRealTime() {
		return fmt.Errorf("exchanger: ProcessOnce is not applicable in real-time mode")
	}
	if err := e.procCapture.WaitData(ctx); err != nil {
		return err
	}
	if err := e.procPlayback.WaitSpace(ctx); err != nil {
		return err
	}

	capture, err := e.procCapture.ReadSlot()
	if err != nil {
		return err
	}
	playback, err := e.procPlayback.WriteSlot()
	if err != nil {
		return err
	}

	process(capture, playback)

	if e.HasDoneQueue() {
		if e.cfg.CaptureDoneProcessed {
			e.pushDone(e.doneCapture, capture)
		}
		e.pushDone(e.donePlayback, playback)
	}

	if err := e.procCapture.CommitRead(); err != nil {
		return err
	}
	return e.procPlayback.CommitWrite()
}

// HandleRealTime is the driver callback's entry point in real-time
// mode. It invokes process synchronously under a single-entry guard;
// a reentrant call while the previous one is still executing returns
// ErrOverlap instead of racing the client's code.
func (e *Exchanger) HandleRealTime(capture, playback *soundblock.Block, process func(capture, playback *soundblock.Block)) error {
	if !e.IsRealTime() {
		return fmt.Errorf("exchanger: HandleRealTime is only applicable in real-time mode")
	}
	if !e.realtimeBusy.CompareAndSwap(false, true) {
		e.xrunRTCount.Add(1)
		e.notify(notify.KindXrunRT, ErrOverlap)
		return ErrOverlap
	}
	defer e.realtimeBusy.Store(false)

	process(capture, playback)

	if e.HasDoneQueue() {
		// In real-time mode process runs synchronously, so capture is
		// identical before and after the call; CaptureDoneProcessed
		// only changes which moment a buffered exchanger samples it.
		e.pushDone(e.doneCapture, capture)
		e.pushDone(e.donePlayback, playback)
	}
	return nil
}

// pushDone mirrors src into the given done queue, counting and
// notifying a done-path xrun on overflow instead of blocking: the done
// path must never throttle the audio path.
func (e *Exchanger) pushDone(q *blockqueue.Queue, src *soundblock.Block) {
	slot, err := q.WriteSlot()
	if err != nil {
		e.xrunDoneCount.Add(1)
		e.notify(notify.KindXrunDone, err)
		return
	}
	if err := slot.CopyFrom(src); err != nil {
		_ = q.AbortWrite()
		return
	}
	_ = q.CommitWrite()
}

// PopDoneCapture and PopDonePlayback are called from the done-path
// consumer goroutine. dst receives the next mirrored block; if none is
// pending they wait until one is or ctx is done, and then return ctx's
// error. They fail at once when no done queue is configured.
func (e *Exchanger) PopDoneCapture(ctx context.Context, dst *soundblock.Block) error {
	return popDone(ctx, e.doneCapture, dst)
}

func (e *Exchanger) PopDonePlayback(ctx context.Context, dst *soundblock.Block) error {
	return popDone(ctx, e.donePlayback, dst)
}

func popDone(ctx context.Context, q *blockqueue.Queue, dst *soundblock.Block) error {
	if q == nil {
		return fmt.Errorf("exchanger: done queue is not configured")
	}
	if err := q.WaitData(ctx); err != nil {
		return err
	}
	slot, err := q.ReadSlot()
	if err != nil {
		return err
	}
	if err := dst.CopyFrom(slot); err != nil {
		_ = q.AbortRead()
		return err
	}
	return q.CommitRead()
}

// ClearQueues discards any data in flight on every configured queue.
// Called while the stream is quiesced, as part of the stop protocol.
func (e *Exchanger) ClearQueues() {
	for _, q := range []*blockqueue.Queue{e.procCapture, e.procPlayback, e.doneCapture, e.donePlayback} {
		if q != nil {
			q.Reset()
		}
	}
}
