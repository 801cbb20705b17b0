package engine

import (
	"github.com/dbergol/soundmexpro-sub001/pkg/sampleformat"
	"github.com/dbergol/soundmexpro-sub001/pkg/soundblock"
)

// driverCallback adapts *Engine to the Driver's Callback interface. It
// is installed via SetCallback((*driverCallback)(e)) in CreateBuffers,
// so every method here runs on the driver's own real-time-adjacent
// thread and must never block.
type driverCallback Engine

func (c *driverCallback) engine() *Engine { return (*Engine)(c) }

// OnBufferSwitch is the single entry point the driver calls once per
// period. It converts the native-format capture buffers to float32,
// routes the block through the exchanger in whichever mode is
// configured, converts the resulting playback block back to native
// format, and counts the period for the watchdog.
func (c *driverCallback) OnBufferSwitch(sw BufferSwitch) {
	e := c.engine()

	// Ping-ponged pre-allocated slots, not a fresh soundblock.Block per
	// period: this path must not allocate. Two slots, picked
	// by a monotonically incrementing toggle, still give a reentrant
	// driver callback (the very condition HandleRealTime's overlap
	// guard detects) a distinct buffer from the call still in flight
	// instead of racing it on a single shared one.
	idx := e.scratchToggle.Add(1) % 2
	capture := e.captureScratchPool[idx]
	playback := e.playbackScratchPool[idx]
	// Both slots were last used two periods ago and may still hold that
	// period's samples; clear before reuse exactly as blockqueue's
	// CommitRead clears a slot before the other side can reserve it.
	capture.Clear()
	playback.Clear()

	for i, raw := range sw.Capture {
		if i >= capture.NumChannels() {
			break
		}
		decodeChannel(e.captureFormats[i], raw, capture.Channels[i], sw.Frames)
	}

	exch := e.exch()
	if exch == nil {
		// Buffers were disposed out from under a still-running driver;
		// there is nothing to do but hand back silence.
		silence(sw.Playback)
		return
	}

	if e.stopping.Load() {
		// Tail-silence contract: once the stop protocol has begun, the
		// driver keeps calling back (so it can wind down cleanly) but
		// every period from here on plays silence and is counted as a
		// stop-switch instead of being routed to the client. playback
		// is already silent from the clear above.
		c.deliverPlayback(sw, playback)
		e.procBufferSwitches.Add(1)
		e.stopContinue.Set()
		return
	}

	if exch.IsRealTime() {
		// ErrOverlap (the previous call had not returned yet) is already
		// counted and notified by the exchanger.
		_ = exch.HandleRealTime(capture, playback, e.safeProcess(false))
	} else {
		// A processing xrun on push just means this capture is dropped;
		// the exchanger has already counted and notified it. playback
		// is already cleared above, so an underrun on PopPlayback plays
		// silence instead of stale data.
		_ = exch.PushCapture(capture)
		_ = exch.PopPlayback(playback)
	}

	if e.callbacks.OnBufferPlay != nil {
		e.callbacks.OnBufferPlay(playback)
	}
	c.deliverPlayback(sw, playback)
	e.procBufferSwitches.Add(1)

	if playback.IsLast {
		e.stopBegin.Set()
	}
}

func (c *driverCallback) deliverPlayback(sw BufferSwitch, playback *soundblock.Block) {
	e := c.engine()
	for i, dst := range sw.Playback {
		if i >= playback.NumChannels() {
			break
		}
		encodeChannel(e.playbackFormats[i], playback.Channels[i], dst, sw.Frames)
	}
}

// OnSampleRateChanged records the driver's new rate and reports it
// through OnRateChange. OnResetRequested and OnBufferSizeChanged report
// driver-initiated conditions the engine has no dedicated recovery
// logic for; they are surfaced through OnWarning so a host can decide
// whether to reopen the stream. All three run on the driver's callback
// thread.
func (c *driverCallback) OnSampleRateChanged(rate float64) {
	e := c.engine()
	e.sampleRate.Store(rate)
	if e.callbacks.OnRateChange != nil {
		e.callbacks.OnRateChange(rate)
	}
}

func (c *driverCallback) OnResetRequested() {
	e := c.engine()
	if e.callbacks.OnWarning != nil {
		e.callbacks.OnWarning("driver requested a reset")
	}
}

func (c *driverCallback) OnBufferSizeChanged() {
	e := c.engine()
	if e.callbacks.OnWarning != nil {
		e.callbacks.OnWarning("driver changed its buffer size")
	}
}

func decodeChannel(f sampleformat.Format, raw []byte, dst []float32, frames int) {
	size := f.Size()
	for i := 0; i < frames && i < len(dst) && (i+1)*size <= len(raw); i++ {
		s, err := f.ToFloat32(raw[i*size : i*size+size])
		if err != nil {
			dst[i] = 0
			continue
		}
		dst[i] = s
	}
}

func encodeChannel(f sampleformat.Format, src []float32, dst []byte, frames int) {
	size := f.Size()
	for i := 0; i < frames && i < len(src) && (i+1)*size <= len(dst); i++ {
		_ = f.FromFloat32(src[i], dst[i*size:i*size+size])
	}
}

func silence(channels [][]byte) {
	for _, ch := range channels {
		for i := range ch {
			ch[i] = 0
		}
	}
}
