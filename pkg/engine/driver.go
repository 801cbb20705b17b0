package engine

import "github.com/dbergol/soundmexpro-sub001/pkg/sampleformat"

// Direction distinguishes the capture and playback halves of a driver's
// channel set.
type Direction int

const (
	Capture Direction = iota
	Playback
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// BufferSizeRange describes the buffer sizes (in frames) a driver can
// be asked to run at.
type BufferSizeRange struct {
	Min, Max, Preferred, Granularity int
}

// PrepareConfig is what the engine hands the driver at CreateBuffers
// time: which channels are active on each side, the frame count per
// period, and the sample rate already negotiated via SetSampleRate.
type PrepareConfig struct {
	CaptureChannels  []int
	PlaybackChannels []int
	FramesPerBlock   int
	SampleRate       float64
}

// BufferSwitch is handed to Callback.OnBufferSwitch once per driver
// period. Capture[i] and Playback[i] are raw, driver-native-format
// byte slices for the i-th active channel in the order given to
// Prepare; Playback slices are the destination the driver will read
// from immediately after the callback returns.
type BufferSwitch struct {
	Capture  [][]byte
	Playback [][]byte
	Frames   int
}

// Callback is the set of notifications a Driver delivers to the engine.
// All methods are invoked on the driver's own thread (or, for a
// timer-driven backend, the filler/timer thread) and must not block.
type Callback interface {
	// OnBufferSwitch is invoked once per period with a double-buffer
	// slot already resolved into the current native-format buffers.
	OnBufferSwitch(sw BufferSwitch)
	// OnSampleRateChanged notifies of a driver-initiated rate change
	// (e.g. the user changed the device's rate outside the process).
	OnSampleRateChanged(rate float64)
	// OnResetRequested asks the host to tear down and reopen the
	// driver, typically because its control panel changed something
	// that cannot be renegotiated live.
	OnResetRequested()
	// OnBufferSizeChanged notifies that the driver's buffer size
	// changed outside the engine's control.
	OnBufferSizeChanged()
}

// Driver is the engine's view of a host sound-card abstraction: either
// a callback-driven ASIO-style backend or a timer-driven WDM/MMDevice
// backend presenting the same contract. The engine owns exactly one
// Driver at a time; "exactly one driver loaded" is a runtime
// precondition enforced by Load, not a language-level singleton.
type Driver interface {
	// Enumerate returns the ordered list of available driver/device
	// names.
	Enumerate() ([]string, error)

	// Load opens the driver identified by name or by its decimal index
	// into the Enumerate result. Engine.Load calls Unload first when a
	// driver is already loaded.
	Load(nameOrIndex string) error

	// Unload releases the currently loaded driver. Safe to call when
	// no driver is loaded.
	Unload() error

	// SampleRate returns the driver's current sample rate.
	SampleRate() (float64, error)

	// CanSampleRate reports whether the driver supports rate without
	// performing the change.
	CanSampleRate(rate float64) bool

	// SetSampleRate changes the driver's operating rate. Only valid
	// while the driver is not running.
	SetSampleRate(rate float64) error

	// ChannelCount returns how many channels the driver exposes in the
	// given direction.
	ChannelCount(dir Direction) (int, error)

	// ChannelFormat returns the on-the-wire sample format code the
	// driver uses for the given channel.
	ChannelFormat(dir Direction, channel int) (sampleformat.ID, error)

	// BufferSizeRange reports the buffer sizes, in frames, the driver
	// can be prepared with.
	BufferSizeRange() (BufferSizeRange, error)

	// Prepare readies the driver to run with the given active channels
	// and buffer size. Must be called before Start.
	Prepare(cfg PrepareConfig) error

	// SetCallback registers the receiver of buffer-switch and
	// out-of-band notifications. Must be called before Start.
	SetCallback(cb Callback)

	// Start begins calling back into Callback once per period.
	Start() error

	// Stop halts the driver's callback delivery. Idempotent.
	Stop() error
}
