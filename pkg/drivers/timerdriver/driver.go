// Package timerdriver implements engine.Driver for a timer/MMAPI-style
// backend: instead of a hardware thread calling back into the engine
// once per period, a dedicated filler goroutine pulls blocks from the
// engine and stages them in a bounded SPSC byte ring, and a
// time.Ticker-driven goroutine stands in for the device's
// buffer-filled timer callback, draining the ring on a fixed schedule.
// An empty ring at drain time is the backend's xrun.
//
// The backend is fixed to 2-channel output and a small set of PCM
// widths; hosts that need capture or more channels use padriver.
package timerdriver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/ringbuffer"

	"github.com/dbergol/soundmexpro-sub001/pkg/engine"
	"github.com/dbergol/soundmexpro-sub001/pkg/sampleformat"
)

// channels is the fixed output channel count of this backend.
const channels = 2

// supportedFormats is the PCM width set this backend accepts.
var supportedFormats = map[sampleformat.ID]bool{
	sampleformat.Int16LE: true,
	sampleformat.Int24LE: true,
	sampleformat.Int32LE: true,
}

// Config describes the fixed facts this backend cannot discover on its
// own: the sample format and default rate. Capture is not supported;
// ChannelCount(engine.Capture) always reports zero.
type Config struct {
	Format      sampleformat.ID
	DefaultRate float64
	// RingPeriods is how many buffer periods of slack the software
	// ring holds between the filler goroutine and the timer goroutine.
	// Zero selects a default of 4.
	RingPeriods int
}

// Driver adapts the timer/software-buffer pattern to engine.Driver.
type Driver struct {
	format  sampleformat.ID
	fmtInfo sampleformat.Format
	rate    float64
	periods int

	framesPerBlock int
	periodBytes    int
	ring           *ringbuffer.RingBuffer

	cb engine.Callback

	loaded  atomic.Bool
	running atomic.Bool
	quit    chan struct{}
	wg      sync.WaitGroup

	xrunCount atomic.Uint64
}

// New builds a timer-driven driver. format must be one of the PCM
// widths in supportedFormats.
func New(cfg Config) (*Driver, error) {
	fmtInfo, err := sampleformat.Lookup(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("timerdriver: %w", err)
	}
	if !supportedFormats[cfg.Format] {
		return nil, fmt.Errorf("timerdriver: format %v not in the supported PCM width set", cfg.Format)
	}
	rate := cfg.DefaultRate
	if rate == 0 {
		rate = 48000
	}
	periods := cfg.RingPeriods
	if periods <= 0 {
		periods = 4
	}
	return &Driver{
		format:  cfg.Format,
		fmtInfo: fmtInfo,
		rate:    rate,
		periods: periods,
	}, nil
}

// XrunCount reports how many times the timer goroutine found the
// software ring empty at drain time.
func (d *Driver) XrunCount() uint64 { return d.xrunCount.Load() }

// Enumerate reports a single synthetic software device: this backend
// has no hardware enumeration of its own.
func (d *Driver) Enumerate() ([]string, error) {
	return []string{"timer (software-buffered 2-channel output)"}, nil
}

func (d *Driver) Load(nameOrIndex string) error {
	d.loaded.Store(true)
	return nil
}

func (d *Driver) Unload() error {
	d.loaded.Store(false)
	return nil
}

func (d *Driver) SampleRate() (float64, error) { return d.rate, nil }

func (d *Driver) CanSampleRate(rate float64) bool { return rate > 0 }

func (d *Driver) SetSampleRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("timerdriver: sample rate must be positive")
	}
	d.rate = rate
	return nil
}

// ChannelCount reports the fixed 2-channel output; capture is not
// offered by this backend.
func (d *Driver) ChannelCount(dir engine.Direction) (int, error) {
	if dir == engine.Capture {
		return 0, nil
	}
	return channels, nil
}

func (d *Driver) ChannelFormat(dir engine.Direction, channel int) (sampleformat.ID, error) {
	return d.format, nil
}

// BufferSizeRange reports a conservative software-only range: there is
// no hardware to query, just the ring's own granularity.
func (d *Driver) BufferSizeRange() (engine.BufferSizeRange, error) {
	return engine.BufferSizeRange{Min: 32, Max: 16384, Preferred: 256, Granularity: 1}, nil
}

func (d *Driver) Prepare(cfg engine.PrepareConfig) error {
	if len(cfg.CaptureChannels) != 0 {
		return fmt.Errorf("timerdriver: capture is not supported by this backend")
	}
	if len(cfg.PlaybackChannels) != channels {
		return fmt.Errorf("timerdriver: requires exactly %d playback channels, got %d", channels, len(cfg.PlaybackChannels))
	}
	d.framesPerBlock = cfg.FramesPerBlock
	d.rate = cfg.SampleRate
	d.periodBytes = cfg.FramesPerBlock * channels * d.fmtInfo.Size()
	d.ring = ringbuffer.New(uint64(d.periodBytes * d.periods))
	return nil
}

func (d *Driver) SetCallback(cb engine.Callback) { d.cb = cb }

// Start launches the filler goroutine (produces periods by driving the
// engine's OnBufferSwitch) and the timer goroutine (drains the ring on
// a period-length tick, standing in for the device's buffer-filled
// timer callback).
func (d *Driver) Start() error {
	if d.ring == nil {
		return fmt.Errorf("timerdriver: Start called before Prepare")
	}
	d.quit = make(chan struct{})
	d.running.Store(true)
	d.wg.Add(2)
	go d.fillerLoop()
	go d.timerLoop()
	return nil
}

func (d *Driver) Stop() error {
	if !d.running.Load() {
		return nil
	}
	d.running.Store(false)
	close(d.quit)
	d.wg.Wait()
	return nil
}

// fillerLoop is the dedicated filler thread: it asks
// the engine for one period at a time (no real capture input, so the
// capture side is always silence) and pushes the resulting playback
// bytes into the software ring, blocking (briefly sleeping and
// retrying) when the ring has no space so it never outruns the
// consumer side.
func (d *Driver) fillerLoop() {
	defer d.wg.Done()
	interleaved := make([]byte, d.periodBytes)
	playback := make([][]byte, channels)
	chanBytes := d.framesPerBlock * d.fmtInfo.Size()
	for c := range playback {
		playback[c] = make([]byte, chanBytes)
	}

	for {
		select {
		case <-d.quit:
			return
		default:
		}

		if d.cb != nil {
			d.cb.OnBufferSwitch(engine.BufferSwitch{
				Capture:  nil,
				Playback: playback,
				Frames:   d.framesPerBlock,
			})
		}
		interleave(playback, interleaved, channels, d.framesPerBlock, d.fmtInfo.Size())

		for {
			if _, err := d.ring.Write(interleaved); err == nil {
				break
			}
			select {
			case <-d.quit:
				return
			case <-time.After(time.Millisecond):
			}
		}
	}
}

// timerLoop stands in for the device's buffer-filled timer callback: on
// a fixed schedule it drains one period from the ring. Finding the ring
// empty is this backend's xrun.
func (d *Driver) timerLoop() {
	defer d.wg.Done()
	period := time.Duration(float64(d.framesPerBlock) / d.rate * float64(time.Second))
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	buf := make([]byte, d.periodBytes)
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			if _, err := d.ring.Read(buf); err != nil {
				d.xrunCount.Add(1)
			}
		}
	}
}

func interleave(src [][]byte, dst []byte, channels, frames, sampleSize int) {
	frameBytes := channels * sampleSize
	for c, ch := range src {
		for f := 0; f < frames; f++ {
			off := f*frameBytes + c*sampleSize
			if off+sampleSize > len(dst) || (f+1)*sampleSize > len(ch) {
				continue
			}
			copy(dst[off:off+sampleSize], ch[f*sampleSize:(f+1)*sampleSize])
		}
	}
}
