package engine

import (
	"context"
	"time"

	"github.com/dbergol/soundmexpro-sub001/pkg/notify"
	"github.com/dbergol/soundmexpro-sub001/pkg/soundblock"
	"github.com/dbergol/soundmexpro-sub001/pkg/syncevent"
)

func (e *Engine) watchdogTimeout() time.Duration {
	if ns := e.watchdogTimeoutNS.Load(); ns > 0 {
		return time.Duration(ns)
	}
	return DefaultConfig().WatchdogTimeout
}

func (e *Engine) stopSwitchWait() time.Duration {
	if ns := e.stopSwitchWaitNS.Load(); ns > 0 {
		return time.Duration(ns)
	}
	return DefaultConfig().StopSwitchSlack
}

func (e *Engine) stopSwitchesWant() int {
	if n := e.stopSwitchesWanted.Load(); n > 0 {
		return int(n)
	}
	return DefaultConfig().StopSwitches
}

// watchdogLoop is the callback thread: it drains deferred notifications
// (xrun, fatal, hang are all raised from here, never synchronously from
// the driver callback) and, while Running, fires OnHang whenever a full
// watchdog period elapses without proc_bufferswitches advancing.
func (e *Engine) watchdogLoop() {
	defer e.wg.Done()
	var lastSwitches uint64

	for {
		ctx, cancel := context.WithTimeout(context.Background(), e.watchdogTimeout())
		idx, _ := syncevent.WaitPriority(ctx, e.quit)
		cancel()
		if idx == -2 {
			return
		}

		for {
			ev, ok := e.pollNotification()
			if !ok {
				break
			}
			e.dispatchNotification(ev)
		}

		if e.State() == StateRunning {
			cur := e.procBufferSwitches.Load()
			if cur == lastSwitches {
				if e.callbacks.OnHang != nil {
					e.callbacks.OnHang()
				}
			}
			lastSwitches = cur
		} else {
			lastSwitches = e.procBufferSwitches.Load()
		}
	}
}

func (e *Engine) dispatchNotification(ev notify.Event) {
	switch ev.Kind {
	case notify.KindXrunProc, notify.KindXrunDone, notify.KindXrunRT:
		if e.callbacks.OnXrun != nil {
			e.callbacks.OnXrun(ev.Kind)
		}
	case notify.KindFatal:
		if e.callbacks.OnFatalError != nil {
			e.callbacks.OnFatalError(ev.Err)
		}
		e.stopBegin.Set()
	case notify.KindHang:
		if e.callbacks.OnHang != nil {
			e.callbacks.OnHang()
		}
	}
}

// stopLoop owns the asynchronous stop protocol. It wakes
// on stopBegin, sets stopping so the driver callback starts silencing
// its output, waits out K stop-silenced periods (or timeouts, which
// still count as progress so a wedged driver cannot block shutdown),
// issues the driver's Stop, drains the done path, and returns the
// engine to Prepared.
func (e *Engine) stopLoop() {
	defer e.wg.Done()
	for {
		idx, _ := syncevent.WaitPriority(context.Background(), e.quit, e.stopBegin)
		if idx == -2 {
			return
		}
		if e.State() != StateRunning {
			continue
		}
		e.runStopProtocol()
	}
}

func (e *Engine) runStopProtocol() {
	e.stopping.Store(true)
	e.procStop.Set()

	want := e.stopSwitchesWant()
	wait := e.stopSwitchWait()
	for i := 0; i < want; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		_ = e.stopContinue.Wait(ctx)
		cancel()
		// A timed-out wait still counts as a switch: the stop
		// protocol must make progress even when the driver has
		// stopped calling back entirely.
	}

	if err := e.driver.Stop(); err != nil {
		if e.callbacks.OnWarning != nil {
			e.callbacks.OnWarning("driver stop failed during shutdown: " + err.Error())
		}
	}

	for e.procLoopActive.Load() {
		time.Sleep(time.Millisecond)
	}

	if exch := e.exch(); exch != nil && exch.HasDoneQueue() {
		e.doneStop.Set()
		for e.doneLoopActive.Load() {
			time.Sleep(time.Millisecond)
		}
	}
	if exch := e.exch(); exch != nil {
		exch.ClearQueues()
	}

	e.mu.Lock()
	e.setState(StatePrepared)
	e.mu.Unlock()
	e.stopping.Store(false)
	e.stopped.Set()
}

// processingLoop is the processing thread: it runs only
// in buffered mode, matching one filled capture slot against one free
// playback slot and calling the client's process function between
// them, at time-critical priority conceptually (Go does not expose OS
// thread priority portably; the loop simply does no other work).
func (e *Engine) processingLoop() {
	defer e.wg.Done()
	for {
		idx, _ := syncevent.WaitPriority(context.Background(), e.quit, e.procStart)
		if idx == -2 {
			return
		}
		e.runProcessingSession()
	}
}

// runProcessingSession builds its quit/procStop->ctx bridge once, not
// once per period: per-iteration context.WithCancel/channel/goroutine
// allocation would put allocations on the hot path the same way a
// fresh soundblock per callback would.
// The bridge goroutine lives for the whole Running session and is torn
// down with it.
func (e *Engine) runProcessingSession() {
	e.procLoopActive.Store(true)
	defer e.procLoopActive.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-e.quit.C():
		case <-e.procStop.C():
		case <-sessionDone:
		}
		cancel()
	}()

	for {
		if err := e.exch().ProcessOnce(ctx, e.safeProcess(false)); err != nil {
			// quit, procStop, or a queue error: either way this
			// session is over; go back to waiting on procStart.
			return
		}
	}
}

// doneLoop is the done thread: it delivers matched
// done-capture/done-playback pairs to OnBufferDone and the configured
// DoneSink, draining whatever remains queued once the stop protocol
// has signalled doneStop even if waitsWhenEmpty has gone false.
func (e *Engine) doneLoop() {
	defer e.wg.Done()
	for {
		idx, _ := syncevent.WaitPriority(context.Background(), e.quit, e.doneStart)
		if idx == -2 {
			return
		}
		e.runDoneSession()
	}
}

func (e *Engine) runDoneSession() {
	e.doneLoopActive.Store(true)
	capture := soundblock.New(e.captureScratchPool[0].NumChannels(), e.captureScratchPool[0].NumFrames())
	playback := soundblock.New(e.playbackScratchPool[0].NumChannels(), e.playbackScratchPool[0].NumFrames())

	for {
		if e.quit.IsSet() {
			break
		}
		if e.exch().DoneBacklog() == 0 {
			if !e.waitsWhenEmpty.Load() {
				break
			}
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			idx, _ := syncevent.WaitPriority(ctx, e.quit, e.doneStop)
			cancel()
			if idx == -2 {
				break
			}
			if idx == 0 {
				e.waitsWhenEmpty.Store(false)
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		errCap := e.exch().PopDoneCapture(ctx, capture)
		errPlay := e.exch().PopDonePlayback(ctx, playback)
		cancel()
		if errCap != nil || errPlay != nil {
			continue
		}

		backlog := e.exch().DoneBacklog()
		if e.callbacks.OnBufferDone != nil {
			e.callbacks.OnBufferDone(capture, playback, backlog)
		}
		if err := e.doneSink.Capture(capture); err != nil && e.callbacks.OnWarning != nil {
			e.callbacks.OnWarning("done sink capture: " + err.Error())
		}
		if err := e.doneSink.Playback(playback); err != nil && e.callbacks.OnWarning != nil {
			e.callbacks.OnWarning("done sink playback: " + err.Error())
		}
	}

	e.doneLoopActive.Store(false)
	if e.callbacks.OnDoneLoopStopped != nil {
		e.callbacks.OnDoneLoopStopped()
	}
}
