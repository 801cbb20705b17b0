package engine

import (
	"github.com/dbergol/soundmexpro-sub001/pkg/notify"
	"github.com/dbergol/soundmexpro-sub001/pkg/soundblock"
)

// Callbacks holds every client-facing hook the engine raises. All
// fields are optional; a nil hook is simply
// never called. Process runs on the processing thread (in real-time
// mode on the driver's own callback thread, and during prefill on the
// goroutine calling Start) and must not block. OnBufferPlay, and the
// OnRateChange and OnWarning calls raised by driver notifications, run
// on the driver's callback thread; OnRateChange also runs on the
// goroutine calling SetSampleRate. The remaining hooks run on the
// engine's worker threads or on the goroutine of the control call that
// caused them.
type Callbacks struct {
	// Process fills playback in place from capture. waiting reports how
	// many captured blocks are in the processing queue, counting the one
	// being processed (0 in real-time mode and during prefill);
	// preloading is true only for the synthetic calls Start makes
	// during prefill. Process may set playback.IsLast to end the
	// stream after this block is played.
	Process func(capture, playback *soundblock.Block, waiting int, preloading bool)

	// OnBufferPlay is invoked in the driver thread immediately before
	// the device consumes playback's data.
	OnBufferPlay func(playback *soundblock.Block)

	// OnBufferDone is invoked on the done thread once both the
	// capture and playback side of one period have been mirrored to
	// the done queues. backlog is how many done pairs are still
	// queued behind this one.
	OnBufferDone func(capture, playback *soundblock.Block, backlog int)

	OnStateChange     func(State)
	OnXrun            func(kind notify.Kind)
	OnFatalError      func(error)
	OnHang            func()
	OnWarning         func(string)
	OnDoneLoopStopped func()
	OnRateChange      func(float64)
}
