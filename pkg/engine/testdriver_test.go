package engine

import (
	"fmt"
	"sync"

	"github.com/dbergol/soundmexpro-sub001/pkg/sampleformat"
)

// fakeDriver is an in-process Driver used by the engine tests: it never
// touches real hardware. BufferSwitch is driven entirely by calling
// Fire from the test goroutine, which lets tests control exactly how
// many periods elapse and inspect the native-format bytes the engine
// produced.
type fakeDriver struct {
	mu sync.Mutex

	names   []string
	loaded  string
	rate    float64
	canRate bool

	captureChannels  int
	playbackChannels int
	format           sampleformat.ID
	brange           BufferSizeRange

	cb      Callback
	running bool

	prepareErr error
	startErr   error
	stopErr    error
}

func newFakeDriver(captureChannels, playbackChannels int) *fakeDriver {
	return &fakeDriver{
		names:            []string{"fake device"},
		rate:             48000,
		canRate:          true,
		captureChannels:  captureChannels,
		playbackChannels: playbackChannels,
		format:           sampleformat.Float32LE,
		brange:           BufferSizeRange{Min: 1, Max: 4096, Preferred: 256, Granularity: 1},
	}
}

func (d *fakeDriver) Enumerate() ([]string, error) { return d.names, nil }

func (d *fakeDriver) Load(nameOrIndex string) error {
	d.loaded = nameOrIndex
	return nil
}

func (d *fakeDriver) Unload() error {
	d.loaded = ""
	return nil
}

func (d *fakeDriver) SampleRate() (float64, error) { return d.rate, nil }

func (d *fakeDriver) CanSampleRate(rate float64) bool { return d.canRate }

func (d *fakeDriver) SetSampleRate(rate float64) error {
	d.rate = rate
	return nil
}

func (d *fakeDriver) ChannelCount(dir Direction) (int, error) {
	if dir == Capture {
		return d.captureChannels, nil
	}
	return d.playbackChannels, nil
}

func (d *fakeDriver) ChannelFormat(dir Direction, channel int) (sampleformat.ID, error) {
	return d.format, nil
}

func (d *fakeDriver) BufferSizeRange() (BufferSizeRange, error) { return d.brange, nil }

func (d *fakeDriver) Prepare(cfg PrepareConfig) error { return d.prepareErr }

func (d *fakeDriver) SetCallback(cb Callback) { d.cb = cb }

func (d *fakeDriver) Start() error {
	if d.startErr != nil {
		return d.startErr
	}
	d.running = true
	return nil
}

func (d *fakeDriver) Stop() error {
	if d.stopErr != nil {
		return d.stopErr
	}
	d.running = false
	return nil
}

// Fire synthesizes one buffer-switch period: captureFill(i, frame) fills
// the raw capture bytes for channel i before decoding, and the
// already-encoded playback bytes are returned for inspection after the
// engine has run its callback.
func (d *fakeDriver) Fire(frames int, captureFill func(ch, frame int) float32) [][]byte {
	if d.cb == nil {
		panic("fakeDriver: Fire called before SetCallback")
	}
	f, _ := sampleformat.Lookup(d.format)

	capture := make([][]byte, d.captureChannels)
	for c := range capture {
		capture[c] = make([]byte, frames*f.Size())
		for i := 0; i < frames; i++ {
			v := float32(0)
			if captureFill != nil {
				v = captureFill(c, i)
			}
			_ = f.FromFloat32(v, capture[c][i*f.Size():(i+1)*f.Size()])
		}
	}

	playback := make([][]byte, d.playbackChannels)
	for c := range playback {
		playback[c] = make([]byte, frames*f.Size())
	}

	d.cb.OnBufferSwitch(BufferSwitch{Capture: capture, Playback: playback, Frames: frames})
	return playback
}

// decodePlayback is a test helper that turns Fire's returned raw bytes
// back into float32 for assertions.
func (d *fakeDriver) decodePlayback(raw []byte) []float32 {
	f, _ := sampleformat.Lookup(d.format)
	out := make([]float32, len(raw)/f.Size())
	for i := range out {
		v, err := f.ToFloat32(raw[i*f.Size() : (i+1)*f.Size()])
		if err != nil {
			continue
		}
		out[i] = v
	}
	return out
}

var errFakeDriver = fmt.Errorf("fakeDriver: forced error")
