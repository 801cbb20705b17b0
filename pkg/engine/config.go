package engine

import "time"

// Config is supplied to CreateBuffers and describes the shape of one
// prepared stream: which channels are active, the period size, the
// depth of the buffered and done queues, and the timing parameters of
// the watchdog and stop protocol.
type Config struct {
	CaptureChannels  []int
	PlaybackChannels []int
	FramesPerBlock   int

	// ProcQueueDepth selects buffered mode (>0) or real-time mode (0),
	// exactly as exchanger.Config.ProcQueueDepth.
	ProcQueueDepth int
	// DoneQueueDepth is the capacity of the done (visualization /
	// recording) queues; 0 disables the done path.
	DoneQueueDepth int
	// CaptureDoneProcessed selects whether the done path receives raw
	// or post-process capture data; see exchanger.Config.
	CaptureDoneProcessed bool

	// StopSwitches is K, the number of stop-silenced driver periods
	// the stop thread waits for before it calls the driver's Stop.
	StopSwitches int
	// StopSwitchPeriod is one buffer period's wall-clock duration,
	// used to size the stop thread's per-switch wait timeout.
	StopSwitchPeriod time.Duration
	// StopSwitchSlack is added to StopSwitchPeriod for the per-switch
	// wait timeout, so a slightly late driver callback still counts.
	StopSwitchSlack time.Duration

	// WatchdogTimeout is how long the watchdog waits between checking
	// that proc_bufferswitches has advanced.
	WatchdogTimeout time.Duration
}

// DefaultConfig returns a Config with the documented defaults (K=4
// stop-switches, a 5ms stop-wait slack, a 500ms watchdog timeout). The
// caller must still fill in channels, FramesPerBlock and queue depths.
func DefaultConfig() Config {
	return Config{
		StopSwitches:    4,
		StopSwitchSlack: 5 * time.Millisecond,
		WatchdogTimeout: 500 * time.Millisecond,
	}
}
