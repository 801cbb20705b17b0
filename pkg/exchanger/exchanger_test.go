package exchanger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dbergol/soundmexpro-sub001/pkg/blockqueue"
	"github.com/dbergol/soundmexpro-sub001/pkg/soundblock"
)

func TestBufferedModeRoundTrip(t *testing.T) {
	ex := New(Config{CaptureChannels: 1, PlaybackChannels: 1, FramesPerBlock: 2, ProcQueueDepth: 4}, nil)
	if ex.IsRealTime() {
		t.Fatalf("expected buffered mode")
	}

	capture := soundblock.New(1, 2)
	capture.Channels[0][0] = 1
	if err := ex.PushCapture(capture); err != nil {
		t.Fatalf("PushCapture: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	processCalled := false
	if err := ex.ProcessOnce(ctx, func(c, p *soundblock.Block) {
		processCalled = true
		p.Channels[0][0] = c.Channels[0][0] * 2
	}); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if !processCalled {
		t.Fatalf("process function was not invoked")
	}

	dst := soundblock.New(1, 2)
	if err := ex.PopPlayback(dst); err != nil {
		t.Fatalf("PopPlayback: %v", err)
	}
	if got, want := dst.Channels[0][0], float32(2); got != want {
		t.Errorf("PopPlayback sample: got %v, want %v", got, want)
	}
}

func TestPopPlaybackUnderrunCountsXrun(t *testing.T) {
	ex := New(Config{CaptureChannels: 1, PlaybackChannels: 1, FramesPerBlock: 1, ProcQueueDepth: 2}, nil)
	dst := soundblock.New(1, 1)
	err := ex.PopPlayback(dst)
	if !errors.Is(err, blockqueue.ErrUnderrun) {
		t.Fatalf("PopPlayback on empty queue: got %v, want ErrUnderrun", err)
	}
	proc, _, _ := ex.XrunCounts()
	if proc != 1 {
		t.Errorf("xrunProcCount: got %d, want 1", proc)
	}
}

func TestRealTimeModeOverlapDetected(t *testing.T) {
	ex := New(Config{CaptureChannels: 1, PlaybackChannels: 1, FramesPerBlock: 1, ProcQueueDepth: 0}, nil)
	if !ex.IsRealTime() {
		t.Fatalf("expected real-time mode")
	}

	capture := soundblock.New(1, 1)
	playback := soundblock.New(1, 1)

	release := make(chan struct{})
	go func() {
		_ = ex.HandleRealTime(capture, playback, func(c, p *soundblock.Block) {
			<-release
		})
	}()
	time.Sleep(20 * time.Millisecond)

	err := ex.HandleRealTime(capture, playback, func(c, p *soundblock.Block) {})
	close(release)
	time.Sleep(20 * time.Millisecond)

	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("reentrant HandleRealTime: got %v, want ErrOverlap", err)
	}
	_, _, rt := ex.XrunCounts()
	if rt != 1 {
		t.Errorf("xrunRTCount: got %d, want 1", rt)
	}
}

func TestCaptureDoneProcessedFlagSelectsPreOrPostProcessCapture(t *testing.T) {
	ex := New(Config{CaptureChannels: 1, PlaybackChannels: 1, FramesPerBlock: 1, ProcQueueDepth: 2, DoneQueueDepth: 2, CaptureDoneProcessed: true}, nil)

	capture := soundblock.New(1, 1)
	capture.Channels[0][0] = 1
	if err := ex.PushCapture(capture); err != nil {
		t.Fatalf("PushCapture: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ex.ProcessOnce(ctx, func(c, p *soundblock.Block) {
		c.Channels[0][0] = 99 // mutate capture in place, as process is allowed to
		p.Channels[0][0] = 1
	}); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	dst := soundblock.New(1, 1)
	if err := ex.PopDoneCapture(ctx, dst); err != nil {
		t.Fatalf("PopDoneCapture: %v", err)
	}
	if got, want := dst.Channels[0][0], float32(99); got != want {
		t.Errorf("done-path capture sample: got %v, want %v (post-process)", got, want)
	}
}

func TestPrefillFillsPlaybackQueue(t *testing.T) {
	ex := New(Config{CaptureChannels: 1, PlaybackChannels: 1, FramesPerBlock: 1, ProcQueueDepth: 3}, nil)
	calls := 0
	silent := func(c, p *soundblock.Block) {
		calls++
		p.Channels[0][0] = 1
	}
	if err := ex.Prefill(silent); err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 prefill calls to fill capacity, got %d", calls)
	}
	if err := ex.Prefill(silent); err != nil {
		t.Fatalf("Prefill beyond capacity should be a no-op, got: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected no further process calls once queue is full, got %d total", calls)
	}
}

func TestPrefillStopsOnIsLast(t *testing.T) {
	ex := New(Config{CaptureChannels: 1, PlaybackChannels: 1, FramesPerBlock: 1, ProcQueueDepth: 5}, nil)
	calls := 0
	if err := ex.Prefill(func(c, p *soundblock.Block) {
		calls++
		if calls == 2 {
			p.IsLast = true
		}
	}); err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected prefill to stop after IsLast was set on call 2, got %d calls", calls)
	}
}

func TestAsymmetricCaptureAndPlaybackChannelCounts(t *testing.T) {
	ex := New(Config{CaptureChannels: 4, PlaybackChannels: 2, FramesPerBlock: 2, ProcQueueDepth: 2}, nil)

	capture := soundblock.New(4, 2)
	capture.Channels[0][0] = 1
	capture.Channels[3][1] = 2
	if err := ex.PushCapture(capture); err != nil {
		t.Fatalf("PushCapture: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ex.ProcessOnce(ctx, func(c, p *soundblock.Block) {
		if c.NumChannels() != 4 {
			t.Errorf("process saw capture with %d channels, want 4", c.NumChannels())
		}
		if p.NumChannels() != 2 {
			t.Errorf("process saw playback with %d channels, want 2", p.NumChannels())
		}
		p.Channels[0][0] = c.Channels[0][0]
		p.Channels[1][1] = c.Channels[3][1]
	}); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	dst := soundblock.New(2, 2)
	if err := ex.PopPlayback(dst); err != nil {
		t.Fatalf("PopPlayback: %v", err)
	}
	if got, want := dst.Channels[0][0], float32(1); got != want {
		t.Errorf("playback channel 0: got %v, want %v", got, want)
	}
	if got, want := dst.Channels[1][1], float32(2); got != want {
		t.Errorf("playback channel 1: got %v, want %v", got, want)
	}

	// A second push must still succeed: nothing from the first round
	// left a reservation open on either queue.
	if err := ex.PushCapture(soundblock.New(4, 2)); err != nil {
		t.Fatalf("PushCapture after first round: %v", err)
	}
}

func TestPushCaptureShapeMismatchDoesNotWedgeQueue(t *testing.T) {
	ex := New(Config{CaptureChannels: 2, PlaybackChannels: 1, FramesPerBlock: 2, ProcQueueDepth: 1}, nil)

	// A block shaped for the wrong channel count must fail to copy
	// instead of silently wedging the queue's write reservation.
	wrongShape := soundblock.New(3, 2)
	if err := ex.PushCapture(wrongShape); err == nil {
		t.Fatalf("PushCapture with mismatched shape: expected an error")
	}

	// The aborted reservation must not block a subsequent, correctly
	// shaped push.
	rightShape := soundblock.New(2, 2)
	if err := ex.PushCapture(rightShape); err != nil {
		t.Fatalf("PushCapture after aborted mismatch: %v", err)
	}
}

func TestClearQueuesDiscardsInFlightData(t *testing.T) {
	ex := New(Config{CaptureChannels: 1, PlaybackChannels: 1, FramesPerBlock: 1, ProcQueueDepth: 2}, nil)
	capture := soundblock.New(1, 1)
	_ = ex.PushCapture(capture)

	ex.ClearQueues()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ex.ProcessOnce(ctx, func(c, p *soundblock.Block) {}); err == nil {
		t.Fatalf("expected ProcessOnce to time out waiting for data after ClearQueues")
	}
}
