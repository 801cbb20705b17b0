// Package filedriver implements engine.Driver as a capture-only, file-fed
// backend: instead of a sound card it decodes an audio file through
// pkg/decoders, resamples it to the engine's negotiated rate via
// github.com/zaf/resample when the file's native rate differs, and stages
// the result in pkg/audioframeringbuffer between the decoder and the
// period clock. A ticker-driven goroutine (the same software-timer shape
// pkg/drivers/timerdriver uses) drains the ring once per period and hands
// the result to the engine as capture data. There is no playback side;
// Prepare requires an empty PlaybackChannels.
package filedriver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbergol/soundmexpro-sub001/pkg/audioframe"
	"github.com/dbergol/soundmexpro-sub001/pkg/audioframeringbuffer"
	"github.com/dbergol/soundmexpro-sub001/pkg/decoders"
	"github.com/dbergol/soundmexpro-sub001/pkg/engine"
	"github.com/dbergol/soundmexpro-sub001/pkg/sampleformat"
	"github.com/dbergol/soundmexpro-sub001/pkg/types"

	soxr "github.com/zaf/resample"
)

// Config names the file to play and the internal staging sizes.
type Config struct {
	Path string

	// Decoder, when non-nil, is used instead of opening Path through
	// the extension-based factory. This is how a non-file source (e.g.
	// a pkg/decoders/stream.StreamDecoder wrapping a network feed) is
	// routed through the same driver lifecycle.
	Decoder types.AudioDecoder

	// SamplesPerFrame is how many samples the producer decodes (and
	// resamples, if needed) at a time before staging them in the ring.
	// Zero selects 1024.
	SamplesPerFrame int

	// RingFrames is the ring's capacity in staged frames. Zero selects 64.
	RingFrames uint64
}

// Driver adapts a decoded file to engine.Driver as a capture source.
type Driver struct {
	path     string
	injected types.AudioDecoder

	decoder       types.AudioDecoder
	nativeRate    int
	channels      int
	bitsPerSample int
	bytesPerSample int

	samplesPerFrame int
	ringFrames      uint64

	rate           float64 // negotiated engine rate; may differ from nativeRate
	framesPerBlock int

	ring *audioframeringbuffer.AudioFrameRingBuffer

	cb engine.Callback

	loaded  atomic.Bool
	running atomic.Bool
	quit    chan struct{}
	wg      sync.WaitGroup

	underrunCount atomic.Uint64
	eofReached    atomic.Bool

	// currentFrame/frameOffset track partial consumption of a staged
	// frame across periods. Only fillerLoop touches these, so plain
	// fields are enough: there is exactly one consumer goroutine.
	currentFrame *audioframe.AudioFrame
	frameOffset  int
}

// New builds a file-fed driver for cfg.Path. The file is not opened until
// Load.
func New(cfg Config) *Driver {
	samplesPerFrame := cfg.SamplesPerFrame
	if samplesPerFrame <= 0 {
		samplesPerFrame = 1024
	}
	ringFrames := cfg.RingFrames
	if ringFrames == 0 {
		ringFrames = 64
	}
	return &Driver{
		path:            cfg.Path,
		injected:        cfg.Decoder,
		samplesPerFrame: samplesPerFrame,
		ringFrames:      ringFrames,
	}
}

// UnderrunCount reports how many periods the filler found the staging
// ring unable to supply a full period's worth of frames for.
func (d *Driver) UnderrunCount() uint64 { return d.underrunCount.Load() }

// EOFReached reports whether the decoder has run out of samples. Once
// this is true, periods still play the frames already staged; after
// those are used up the driver delivers silence. There is no separate
// stream-end signal on the Driver interface.
func (d *Driver) EOFReached() bool { return d.eofReached.Load() }

func (d *Driver) Enumerate() ([]string, error) {
	return []string{fmt.Sprintf("file (%s)", d.path)}, nil
}

func (d *Driver) Load(nameOrIndex string) error {
	decoder := d.injected
	if decoder == nil {
		var err error
		decoder, err = decoders.NewDecoder(d.path)
		if err != nil {
			return fmt.Errorf("filedriver: %w", err)
		}
	}
	rate, channels, bits := decoder.GetFormat()
	d.decoder = decoder
	d.nativeRate = rate
	d.channels = channels
	d.bitsPerSample = bits
	d.bytesPerSample = bits / 8
	d.rate = float64(rate)
	d.loaded.Store(true)
	return nil
}

func (d *Driver) Unload() error {
	if d.decoder != nil {
		if err := d.decoder.Close(); err != nil {
			return fmt.Errorf("filedriver: %w", err)
		}
		d.decoder = nil
	}
	d.loaded.Store(false)
	return nil
}

func (d *Driver) SampleRate() (float64, error) { return d.rate, nil }

// CanSampleRate reports true for any positive rate: a mismatched rate is
// handled by resampling in the producer goroutine rather than rejected
// outright (Prepare rejects it for sources that are not 16-bit).
func (d *Driver) CanSampleRate(rate float64) bool { return rate > 0 }

func (d *Driver) SetSampleRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("filedriver: sample rate must be positive")
	}
	d.rate = rate
	return nil
}

func (d *Driver) ChannelCount(dir engine.Direction) (int, error) {
	if dir == engine.Playback {
		return 0, nil
	}
	return d.channels, nil
}

func (d *Driver) ChannelFormat(dir engine.Direction, channel int) (sampleformat.ID, error) {
	switch d.bitsPerSample {
	case 16:
		return sampleformat.Int16LE, nil
	case 24:
		return sampleformat.Int24LE, nil
	case 32:
		return sampleformat.Int32LE, nil
	default:
		return 0, fmt.Errorf("filedriver: unsupported bit depth %d", d.bitsPerSample)
	}
}

func (d *Driver) BufferSizeRange() (engine.BufferSizeRange, error) {
	return engine.BufferSizeRange{Min: 32, Max: 65536, Preferred: 1024, Granularity: 1}, nil
}

func (d *Driver) Prepare(cfg engine.PrepareConfig) error {
	if len(cfg.PlaybackChannels) != 0 {
		return fmt.Errorf("filedriver: playback is not supported by this backend")
	}
	if len(cfg.CaptureChannels) != d.channels {
		return fmt.Errorf("filedriver: file has %d channels, got %d capture channels", d.channels, len(cfg.CaptureChannels))
	}
	if d.rate != float64(d.nativeRate) && d.bitsPerSample != 16 {
		return fmt.Errorf("filedriver: resampling is only supported for 16-bit sources, file is %d-bit", d.bitsPerSample)
	}
	d.framesPerBlock = cfg.FramesPerBlock
	d.ring = audioframeringbuffer.New(d.ringFrames)
	return nil
}

func (d *Driver) SetCallback(cb engine.Callback) { d.cb = cb }

func (d *Driver) Start() error {
	if d.ring == nil {
		return fmt.Errorf("filedriver: Start called before Prepare")
	}
	d.quit = make(chan struct{})
	d.running.Store(true)
	d.currentFrame = nil
	d.frameOffset = 0
	d.wg.Add(2)
	go d.producerLoop()
	go d.fillerLoop()
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

// frameSink adapts the ring to an io.Writer so a resampler can stream
// its output straight into it; without a resampler the producer writes
// decoded chunks through the same path.
type frameSink struct {
	ring           *audioframeringbuffer.AudioFrameRingBuffer
	rate           uint32
	channels       uint8
	bitsPerSample  uint8
	bytesPerSample int
	quit           <-chan struct{}
}

func (s *frameSink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	frame := audioframe.AudioFrame{
		Format: audioframe.FrameFormat{
			SampleRate:    s.rate,
			Channels:      s.channels,
			BitsPerSample: s.bitsPerSample,
		},
		SamplesCount: uint16(len(p) / (int(s.channels) * s.bytesPerSample)),
		Audio:        append([]byte(nil), p...),
	}
	toWrite := []audioframe.AudioFrame{frame}
	for len(toWrite) > 0 {
		written, _ := s.ring.Write(toWrite)
		if written > 0 {
			toWrite = toWrite[written:]
			continue
		}
		select {
		case <-s.quit:
			return len(p), nil
		case <-time.After(time.Millisecond):
		}
	}
	return len(p), nil
}

// resamplerCloser is the subset of *soxr.Resampler's surface this
// package needs, kept as a local interface so producerLoop does not
// have to name the concrete type.
type resamplerCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

// producerLoop decodes the file and, if the engine negotiated a
// different rate than the file's native one, resamples through
// github.com/zaf/resample on the way into the ring.
func (d *Driver) producerLoop() {
	defer d.wg.Done()

	sink := &frameSink{
		ring:           d.ring,
		rate:           uint32(d.rate),
		channels:       uint8(d.channels),
		bitsPerSample:  uint8(d.bitsPerSample),
		bytesPerSample: d.bytesPerSample,
		quit:           d.quit,
	}

	var resampler resamplerCloser
	if d.rate != float64(d.nativeRate) {
		r, err := soxr.New(sink, float64(d.nativeRate), d.rate, d.channels, soxr.I16, soxr.HighQ)
		if err != nil {
			d.eofReached.Store(true)
			return
		}
		resampler = r
		defer resampler.Close()
	}

	buf := make([]byte, d.samplesPerFrame*d.channels*d.bytesPerSample)
	for {
		select {
		case <-d.quit:
			return
		default:
		}

		n, err := d.decoder.DecodeSamples(d.samplesPerFrame, buf)
		if n > 0 {
			chunk := buf[:n*d.channels*d.bytesPerSample]
			if resampler != nil {
				if _, werr := resampler.Write(chunk); werr != nil {
					d.eofReached.Store(true)
					return
				}
			} else {
				_, _ = sink.Write(chunk)
			}
		}
		if err != nil || n == 0 {
			d.eofReached.Store(true)
			return
		}
	}
}

// fillerLoop stands in for the device's period timer: on a fixed
// schedule it drains exactly one period's worth of bytes from the
// staged frames, stitching partial frames across periods, and delivers
// them to the engine as capture data. A period the ring cannot fully
// supply is this backend's underrun, filled out with silence.
func (d *Driver) fillerLoop() {
	defer d.wg.Done()

	sampleSize := d.bytesPerSample
	bytesNeeded := d.framesPerBlock * d.channels * sampleSize
	interleaved := make([]byte, bytesNeeded)
	capture := make([][]byte, d.channels)
	chanBytes := d.framesPerBlock * sampleSize
	for c := range capture {
		capture[c] = make([]byte, chanBytes)
	}

	period := time.Duration(float64(d.framesPerBlock) / d.rate * float64(time.Second))
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
		}

		bytesWritten := 0
		for bytesWritten < bytesNeeded {
			if d.currentFrame == nil {
				frames, err := d.ring.Read(1)
				if err != nil || len(frames) == 0 {
					break
				}
				d.currentFrame = &frames[0]
				d.frameOffset = 0
			}
			remaining := len(d.currentFrame.Audio) - d.frameOffset
			need := bytesNeeded - bytesWritten
			n := min(remaining, need)
			copy(interleaved[bytesWritten:bytesWritten+n], d.currentFrame.Audio[d.frameOffset:d.frameOffset+n])
			bytesWritten += n
			d.frameOffset += n
			if d.frameOffset >= len(d.currentFrame.Audio) {
				d.currentFrame = nil
				d.frameOffset = 0
			}
		}
		if bytesWritten < bytesNeeded {
			d.underrunCount.Add(1)
			clear(interleaved[bytesWritten:])
		}

		deinterleave(interleaved, capture, d.channels, d.framesPerBlock, sampleSize)
		if d.cb != nil {
			d.cb.OnBufferSwitch(engine.BufferSwitch{
				Capture: capture,
				Frames:  d.framesPerBlock,
			})
		}
	}
}

func deinterleave(src []byte, dst [][]byte, channels, frames, sampleSize int) {
	frameBytes := channels * sampleSize
	for c, ch := range dst {
		for f := 0; f < frames; f++ {
			off := f*frameBytes + c*sampleSize
			if off+sampleSize > len(src) || (f+1)*sampleSize > len(ch) {
				continue
			}
			copy(ch[f*sampleSize:(f+1)*sampleSize], src[off:off+sampleSize])
		}
	}
}
