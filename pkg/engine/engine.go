// Package engine implements the host wrapper around a driver-facing
// sound card abstraction: the Free->Loaded->Initialized->Prepared->Running
// state machine, the four dedicated worker threads (callback/watchdog,
// stop, processing, done), the asynchronous stop protocol, prefill, and
// bit-exact sample-format conversion between the driver's native PCM
// layout and the float32 domain pkg/soundblock works in.
//
// The engine never interprets audio semantically: it moves
// soundblock.Block values between the driver and client code through a
// pkg/exchanger.Exchanger, and leaves mixing, gain, filtering, disk
// recording and device selection to callers.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbergol/soundmexpro-sub001/pkg/exchanger"
	"github.com/dbergol/soundmexpro-sub001/pkg/notify"
	"github.com/dbergol/soundmexpro-sub001/pkg/sampleformat"
	"github.com/dbergol/soundmexpro-sub001/pkg/soundblock"
	"github.com/dbergol/soundmexpro-sub001/pkg/syncevent"
)

// Engine owns exactly one Driver and, once prepared, one
// exchanger.Exchanger. Control operations (Load, CreateBuffers, Start,
// Stop, Unload, SetSampleRate, DisposeBuffers) are single-threaded on
// the caller's goroutine and serialize on mu; observers are safe to
// call from any goroutine.
type Engine struct {
	driver     Driver
	driverName string

	mu    sync.Mutex
	state atomic.Int32

	cfg       Config
	exchPtr   atomic.Pointer[exchanger.Exchanger]
	notifyPtr atomic.Pointer[notify.Queue]
	callbacks Callbacks
	doneSink  DoneSink

	// captureScratchPool/playbackScratchPool are ping-ponged by
	// scratchToggle on every OnBufferSwitch instead of allocating a
	// fresh soundblock.Block per period: the driver callback must stay
	// allocation-free, and two pre-allocated slots are enough that a
	// reentrant (overlapping) callback lands on the other slot instead
	// of racing the call still in flight.
	captureScratchPool  [2]*soundblock.Block
	playbackScratchPool [2]*soundblock.Block
	scratchToggle       atomic.Uint32

	captureFormats  []sampleformat.Format
	playbackFormats []sampleformat.Format
	captureBytes    [][]byte
	playbackBytes   [][]byte

	// event fabric: one manual-reset quit shared by every worker
	// thread, plus a private auto-reset pair per role.
	quit         *syncevent.ManualReset
	procStart    *syncevent.AutoReset
	procStop     *syncevent.AutoReset
	doneStart    *syncevent.AutoReset
	doneStop     *syncevent.AutoReset
	stopBegin    *syncevent.AutoReset
	stopContinue *syncevent.AutoReset
	stopped      *syncevent.ManualReset

	stopping       atomic.Bool
	waitsWhenEmpty atomic.Bool
	doneLoopActive atomic.Bool
	procLoopActive atomic.Bool
	realtimeErr    atomic.Bool

	procBufferSwitches atomic.Uint64
	lastFatal          atomic.Pointer[string]
	sampleRate         atomic.Value // float64

	// Timing parameters read by the watchdog and stop threads without
	// holding mu, so they are mirrored into atomics at CreateBuffers
	// time instead of read directly off cfg.
	watchdogTimeoutNS  atomic.Int64
	stopSwitchesWanted atomic.Int32
	stopSwitchWaitNS   atomic.Int64
	framesPerBlock     atomic.Int64
	procQueueDepth     atomic.Int64

	wg sync.WaitGroup

	closeOnce sync.Once
}

// New constructs an Engine around driver. The four worker threads are
// started immediately but remain idle (waiting on their role-specific
// start event) until CreateBuffers/Start activate them.
func New(driver Driver, callbacks Callbacks) *Engine {
	e := &Engine{
		driver:    driver,
		callbacks: callbacks,
		doneSink:  NopDoneSink{},

		quit:         syncevent.NewManualReset(),
		procStart:    syncevent.NewAutoReset(false),
		procStop:     syncevent.NewAutoReset(false),
		doneStart:    syncevent.NewAutoReset(false),
		doneStop:     syncevent.NewAutoReset(false),
		stopBegin:    syncevent.NewAutoReset(false),
		stopContinue: syncevent.NewAutoReset(false),
		stopped:      syncevent.NewManualReset(),
	}
	e.sampleRate.Store(float64(0))
	// A stop on an engine that never started completes immediately:
	// Start resets this before the driver begins calling back.
	e.stopped.Set()

	e.wg.Add(4)
	go e.watchdogLoop()
	go e.stopLoop()
	go e.processingLoop()
	go e.doneLoop()

	return e
}

// SetDoneSink installs sink as the consumer of done-path blocks. Not
// safe to call while the done path is active.
func (e *Engine) SetDoneSink(sink DoneSink) {
	if sink == nil {
		sink = NopDoneSink{}
	}
	e.doneSink = sink
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	if e.callbacks.OnStateChange != nil {
		e.callbacks.OnStateChange(s)
	}
}

// exch and notifications load the per-stream exchanger/notification
// queue pointers. Both are written only under mu (CreateBuffers,
// DisposeBuffers) but read from every worker goroutine without it, so
// they are stored as atomic pointers rather than plain fields.
func (e *Engine) exch() *exchanger.Exchanger   { return e.exchPtr.Load() }
func (e *Engine) notifications() *notify.Queue { return e.notifyPtr.Load() }

func (e *Engine) requireState(op string, want State) error {
	if e.State() != want {
		return &StateError{Op: op, State: e.State()}
	}
	return nil
}

// EnumerateDrivers returns the ordered list of available driver/device
// names, valid in any state.
func (e *Engine) EnumerateDrivers() ([]string, error) {
	names, err := e.driver.Enumerate()
	if err != nil {
		return nil, &DriverError{Op: "enumerate", Err: err}
	}
	return names, nil
}

// Load opens nameOrIndex. Valid from any state; an already-loaded
// driver is unloaded first. On success the engine reaches
// StateInitialized.
func (e *Engine) Load(nameOrIndex string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() >= StateLoaded {
		if err := e.unloadLocked(); err != nil {
			return err
		}
	}

	if err := e.driver.Load(nameOrIndex); err != nil {
		return &DriverError{Op: "load", Err: err}
	}
	e.driverName = nameOrIndex
	e.setState(StateLoaded)

	rate, err := e.driver.SampleRate()
	if err != nil {
		return &DriverError{Op: "load: query sample rate", Err: err}
	}
	e.sampleRate.Store(rate)
	e.setState(StateInitialized)
	return nil
}

// Unload cascades Stop (waiting for completion) and DisposeBuffers
// before releasing the driver. Safe to call from any state.
func (e *Engine) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unloadLocked()
}

func (e *Engine) unloadLocked() error {
	if e.State() == StateFree {
		return nil
	}
	if e.State() == StateRunning {
		e.stopLocked(true, true)
	}
	if e.State() == StatePrepared {
		e.disposeBuffersLocked()
	}
	if err := e.driver.Unload(); err != nil {
		return &DriverError{Op: "unload", Err: err}
	}
	e.driverName = ""
	e.setState(StateFree)
	return nil
}

// SetSampleRate changes the driver's operating rate. Valid whenever the
// engine is not Running.
func (e *Engine) SetSampleRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() == StateRunning {
		return &StateError{Op: "set_sample_rate", State: e.State()}
	}
	if !e.driver.CanSampleRate(rate) {
		return &UnsupportedError{Op: "set_sample_rate", Reason: fmt.Sprintf("rate %v not supported by driver", rate)}
	}
	if err := e.driver.SetSampleRate(rate); err != nil {
		return &DriverError{Op: "set_sample_rate", Err: err}
	}
	e.sampleRate.Store(rate)
	if e.callbacks.OnRateChange != nil {
		e.callbacks.OnRateChange(rate)
	}
	return nil
}

// SampleRate returns the driver's current operating rate.
func (e *Engine) SampleRate() float64 { return e.sampleRate.Load().(float64) }

// CreateBuffers validates cfg against the driver's capabilities,
// allocates the exchanger and per-channel conversion scratch, and moves
// the engine from Initialized to Prepared.
func (e *Engine) CreateBuffers(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("create_buffers", StateInitialized); err != nil {
		return err
	}

	if cfg.FramesPerBlock <= 0 {
		return &UnsupportedError{Op: "create_buffers", Reason: "frames per block must be > 0"}
	}
	if len(cfg.CaptureChannels) == 0 && len(cfg.PlaybackChannels) == 0 {
		return &UnsupportedError{Op: "create_buffers", Reason: "no active channels requested"}
	}
	if cfg.StopSwitches <= 0 {
		cfg.StopSwitches = DefaultConfig().StopSwitches
	}
	if cfg.StopSwitchSlack <= 0 {
		cfg.StopSwitchSlack = DefaultConfig().StopSwitchSlack
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = DefaultConfig().WatchdogTimeout
	}

	brange, err := e.driver.BufferSizeRange()
	if err != nil {
		return &DriverError{Op: "create_buffers: buffer size range", Err: err}
	}
	if cfg.FramesPerBlock < brange.Min || cfg.FramesPerBlock > brange.Max {
		return &UnsupportedError{Op: "create_buffers", Reason: fmt.Sprintf(
			"frames per block %d outside driver range [%d, %d]", cfg.FramesPerBlock, brange.Min, brange.Max)}
	}

	captureFormats, captureBuf, err := e.resolveChannelFormats(Capture, cfg.CaptureChannels, cfg.FramesPerBlock)
	if err != nil {
		return err
	}
	playbackFormats, playbackBuf, err := e.resolveChannelFormats(Playback, cfg.PlaybackChannels, cfg.FramesPerBlock)
	if err != nil {
		return err
	}

	if err := e.driver.Prepare(PrepareConfig{
		CaptureChannels:  cfg.CaptureChannels,
		PlaybackChannels: cfg.PlaybackChannels,
		FramesPerBlock:   cfg.FramesPerBlock,
		SampleRate:       e.SampleRate(),
	}); err != nil {
		return &DriverError{Op: "create_buffers: prepare", Err: err}
	}
	e.driver.SetCallback((*driverCallback)(e))

	e.cfg = cfg
	notifications := notify.New(64)
	e.notifyPtr.Store(notifications)
	e.exchPtr.Store(exchanger.New(exchanger.Config{
		CaptureChannels:      len(cfg.CaptureChannels),
		PlaybackChannels:     len(cfg.PlaybackChannels),
		FramesPerBlock:       cfg.FramesPerBlock,
		ProcQueueDepth:       cfg.ProcQueueDepth,
		DoneQueueDepth:       cfg.DoneQueueDepth,
		CaptureDoneProcessed: cfg.CaptureDoneProcessed,
	}, notifications))
	for i := range e.captureScratchPool {
		e.captureScratchPool[i] = soundblock.New(len(cfg.CaptureChannels), cfg.FramesPerBlock)
		e.playbackScratchPool[i] = soundblock.New(len(cfg.PlaybackChannels), cfg.FramesPerBlock)
	}
	e.captureFormats = captureFormats
	e.playbackFormats = playbackFormats
	e.captureBytes = captureBuf
	e.playbackBytes = playbackBuf

	e.watchdogTimeoutNS.Store(int64(cfg.WatchdogTimeout))
	e.stopSwitchesWanted.Store(int32(cfg.StopSwitches))
	e.stopSwitchWaitNS.Store(int64(cfg.StopSwitchPeriod + cfg.StopSwitchSlack))
	e.framesPerBlock.Store(int64(cfg.FramesPerBlock))
	e.procQueueDepth.Store(int64(cfg.ProcQueueDepth))

	e.setState(StatePrepared)
	return nil
}

func (e *Engine) resolveChannelFormats(dir Direction, channels []int, frames int) ([]sampleformat.Format, [][]byte, error) {
	formats := make([]sampleformat.Format, len(channels))
	bufs := make([][]byte, len(channels))
	for i, ch := range channels {
		id, err := e.driver.ChannelFormat(dir, ch)
		if err != nil {
			return nil, nil, &DriverError{Op: fmt.Sprintf("create_buffers: %s channel %d format", dir, ch), Err: err}
		}
		f, err := sampleformat.Lookup(id)
		if err != nil {
			return nil, nil, &UnsupportedError{Op: "create_buffers", Reason: err.Error()}
		}
		formats[i] = f
		bufs[i] = make([]byte, frames*f.Size())
	}
	return formats, bufs, nil
}

// DisposeBuffers releases the exchanger, returning the engine from
// Prepared to Initialized.
func (e *Engine) DisposeBuffers() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("dispose_buffers", StatePrepared); err != nil {
		return err
	}
	e.disposeBuffersLocked()
	return nil
}

func (e *Engine) disposeBuffersLocked() {
	e.exchPtr.Store(nil)
	e.notifyPtr.Store(nil)
	e.framesPerBlock.Store(0)
	e.procQueueDepth.Store(0)
	e.captureScratchPool = [2]*soundblock.Block{}
	e.playbackScratchPool = [2]*soundblock.Block{}
	e.setState(StateInitialized)
}

// Start prefills the playback queue (buffered mode only), starts the
// driver, and moves the engine to Running.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("start", StatePrepared); err != nil {
		return err
	}

	exch := e.exch()
	if !exch.IsRealTime() {
		if err := exch.Prefill(e.safeProcess(true)); err != nil {
			return fmt.Errorf("engine: prefill: %w", err)
		}
	}

	e.stopping.Store(false)
	e.stopped.Reset()
	e.procBufferSwitches.Store(0)

	if err := e.driver.Start(); err != nil {
		return &DriverError{Op: "start", Err: err}
	}
	e.setState(StateRunning)

	if !exch.IsRealTime() {
		e.procStart.Set()
	}
	if exch.HasDoneQueue() {
		e.waitsWhenEmpty.Store(true)
		e.doneStart.Set()
	}
	return nil
}

// Stop begins the asynchronous stop protocol. It never blocks; pass
// wait=true to additionally block until the protocol completes (the
// same effect as calling StopAndWait). smooth is accepted for parity
// with the host API's documented signature; the stop protocol always
// drains via tail silence regardless, since an abrupt stop of a live
// hardware stream is not a safe operation to expose.
func (e *Engine) Stop(smooth, wait bool) error {
	e.mu.Lock()
	running := e.State() == StateRunning
	e.mu.Unlock()

	if running {
		e.stopBegin.Set()
	}
	if wait {
		e.stopped.Wait(waitForeverCtx())
	}
	return nil
}

// StopAndWait is Stop(true, true).
func (e *Engine) StopAndWait() error { return e.Stop(true, true) }

// stopLocked hands the stop protocol to the stop thread via Stop,
// releasing mu while it does so the stop thread can take it; with wait
// it blocks until the protocol completes. Used by Unload so the cascade
// is synchronous from the caller's point of view.
func (e *Engine) stopLocked(smooth, wait bool) {
	if e.State() != StateRunning {
		return
	}
	e.mu.Unlock()
	_ = e.Stop(smooth, wait)
	e.mu.Lock()
}

// Close permanently shuts down the engine's worker threads. After
// Close the Engine must not be used again. Safe to call multiple
// times.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		_ = e.Unload()
		e.quit.Set()
		e.wg.Wait()
	})
}

// Observers, safe from any goroutine.

func (e *Engine) ProcBufferSwitches() uint64 { return e.procBufferSwitches.Load() }

// BufferSizeCurrent returns the prepared stream's frames per block, or
// 0 when no buffers are created.
func (e *Engine) BufferSizeCurrent() int { return int(e.framesPerBlock.Load()) }

// ActiveChannels returns copies of the active channel index sets for
// both directions, as configured at CreateBuffers.
func (e *Engine) ActiveChannels() (capture, playback []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.cfg.CaptureChannels...), append([]int(nil), e.cfg.PlaybackChannels...)
}

// Latency estimates the queueing latency the engine itself introduces
// on top of whatever the driver adds: one period in real-time mode,
// the full proc-playback depth plus the period in flight in buffered
// mode. Zero when no buffers are created or no rate is known.
func (e *Engine) Latency() time.Duration {
	frames := e.framesPerBlock.Load()
	rate := e.SampleRate()
	if frames == 0 || rate <= 0 {
		return 0
	}
	periods := int64(1)
	if exch := e.exch(); exch != nil && !exch.IsRealTime() {
		periods = int64(e.procQueueDepth.Load()) + 1
	}
	return time.Duration(float64(frames*periods) / rate * float64(time.Second))
}

func (e *Engine) XrunCounts() (proc, done, rt uint64) {
	exch := e.exch()
	if exch == nil {
		return 0, 0, 0
	}
	return exch.XrunCounts()
}

func (e *Engine) LastFatalError() string {
	p := e.lastFatal.Load()
	if p == nil {
		return ""
	}
	return *p
}

// pollNotification drains one pending notification, if any. Safe to
// call even when no exchanger/queue is currently allocated.
func (e *Engine) pollNotification() (notify.Event, bool) {
	q := e.notifications()
	if q == nil {
		return notify.Event{}, false
	}
	return q.Poll()
}

func (e *Engine) postFatal(source string, err error) {
	fatal := &FatalError{Source: source, Err: err}
	msg := fatal.Error()
	e.lastFatal.Store(&msg)
	if q := e.notifications(); q != nil {
		q.Post(notify.Event{Kind: notify.KindFatal, Err: fatal})
	}
}

// safeProcess wraps Callbacks.Process for use as an exchanger process
// function: client panics are caught, the playback slot is cleared to
// silence, and a fatal notification is raised instead of the panic
// propagating into an engine thread.
func (e *Engine) safeProcess(preloading bool) func(capture, playback *soundblock.Block) {
	return func(capture, playback *soundblock.Block) {
		defer func() {
			if r := recover(); r != nil {
				playback.Clear()
				e.postFatal("processing", fmt.Errorf("panic: %v", r))
			}
		}()
		if e.callbacks.Process != nil {
			waiting := 0
			if exch := e.exch(); exch != nil {
				waiting = exch.ProcCaptureBacklog()
			}
			e.callbacks.Process(capture, playback, waiting, preloading)
		}
	}
}

func waitForeverCtx() waitCtx { return waitCtx{} }

// waitCtx is a minimal context.Context that never cancels, used for
// StopAndWait's blocking wait on the stopped event without pulling in
// a cancellation policy that does not apply to it (stop must
// eventually complete; see the stop protocol's own timeout/counting).
type waitCtx struct{}

func (waitCtx) Deadline() (deadline time.Time, ok bool) { return time.Time{}, false }
func (waitCtx) Done() <-chan struct{}                   { return nil }
func (waitCtx) Err() error                              { return nil }
func (waitCtx) Value(key any) any                       { return nil }
