// Package padriver implements engine.Driver on top of
// github.com/drgolem/go-portaudio's callback-mode stream. PortAudio
// gives the engine exactly one combined input+output callback per
// period, interleaved, which this package de-/re-interleaves into the
// per-channel soundblock shape the engine works in.
package padriver

import (
	"fmt"
	"strconv"

	"github.com/dbergol/soundmexpro-sub001/pkg/engine"
	"github.com/dbergol/soundmexpro-sub001/pkg/sampleformat"

	"github.com/drgolem/go-portaudio/portaudio"
)

// Driver adapts a single duplex PortAudio stream to engine.Driver.
//
// The go-portaudio binding selects a device only by
// PaStreamParameters.DeviceIndex and exposes no enumeration or
// capability query, so, unlike a full ASIO/WDM host, this driver
// cannot discover device names or channel counts on its own: the
// caller supplies them up front. Enumerate/BufferSizeRange report
// fixed, documented values rather than hardware truth.
type Driver struct {
	deviceIndex      int
	captureChannels  int
	playbackChannels int
	format           sampleformat.ID
	rate             float64

	framesPerBlock int
	stream         *portaudio.PaStream
	cb             engine.Callback

	paFormat portaudio.PaSampleFormat
	fmtInfo  sampleformat.Format

	captureScratch  [][]byte
	playbackScratch [][]byte
}

// Config describes the fixed hardware facts the driver cannot query
// for itself.
type Config struct {
	CaptureChannels  int
	PlaybackChannels int
	Format           sampleformat.ID
	DefaultRate      float64
}

// New builds a driver for one duplex PortAudio stream. format must be
// one PortAudio's SampleFmtInt16/24/32 can express (the binding has no
// float sample format in the observed API), i.e. sampleformat.Int16LE,
// Int24LE or Int32LE.
func New(cfg Config) (*Driver, error) {
	paFormat, fmtInfo, err := paSampleFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	rate := cfg.DefaultRate
	if rate == 0 {
		rate = 48000
	}
	return &Driver{
		captureChannels:  cfg.CaptureChannels,
		playbackChannels: cfg.PlaybackChannels,
		format:           cfg.Format,
		rate:             rate,
		paFormat:         paFormat,
		fmtInfo:          fmtInfo,
	}, nil
}

func paSampleFormat(id sampleformat.ID) (portaudio.PaSampleFormat, sampleformat.Format, error) {
	fmtInfo, err := sampleformat.Lookup(id)
	if err != nil {
		return 0, sampleformat.Format{}, err
	}
	switch id {
	case sampleformat.Int16LE:
		return portaudio.SampleFmtInt16, fmtInfo, nil
	case sampleformat.Int24LE:
		return portaudio.SampleFmtInt24, fmtInfo, nil
	case sampleformat.Int32LE:
		return portaudio.SampleFmtInt32, fmtInfo, nil
	default:
		return 0, sampleformat.Format{}, fmt.Errorf("padriver: unsupported sample format %d (PortAudio binding only has Int16/24/32)", id)
	}
}

// Enumerate reports a single synthetic entry: the binding has no
// device-listing call, so the only selector Load accepts is a decimal
// PortAudio device index.
func (d *Driver) Enumerate() ([]string, error) {
	return []string{"0 (PortAudio default device; pass a numeric index to select another)"}, nil
}

func (d *Driver) Load(nameOrIndex string) error {
	idx, err := strconv.Atoi(nameOrIndex)
	if err != nil {
		return fmt.Errorf("padriver: device selector must be a numeric PortAudio device index: %w", err)
	}
	d.deviceIndex = idx
	return nil
}

func (d *Driver) Unload() error {
	d.deviceIndex = 0
	return nil
}

func (d *Driver) SampleRate() (float64, error) { return d.rate, nil }

// CanSampleRate reports true for any positive rate: the binding offers
// no capability query, so the real answer only surfaces as an error from
// Start, when the stream is opened.
func (d *Driver) CanSampleRate(rate float64) bool { return rate > 0 }

func (d *Driver) SetSampleRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("padriver: sample rate must be positive")
	}
	d.rate = rate
	return nil
}

func (d *Driver) ChannelCount(dir engine.Direction) (int, error) {
	if dir == engine.Capture {
		return d.captureChannels, nil
	}
	return d.playbackChannels, nil
}

func (d *Driver) ChannelFormat(dir engine.Direction, channel int) (sampleformat.ID, error) {
	return d.format, nil
}

// BufferSizeRange reports a conservative fixed range: PortAudio itself
// will reject an Open with an unsupported frame count, which surfaces
// through Start's error return rather than through this query.
func (d *Driver) BufferSizeRange() (engine.BufferSizeRange, error) {
	return engine.BufferSizeRange{Min: 32, Max: 8192, Preferred: 256, Granularity: 1}, nil
}

func (d *Driver) Prepare(cfg engine.PrepareConfig) error {
	d.framesPerBlock = cfg.FramesPerBlock
	d.rate = cfg.SampleRate
	chanBytes := cfg.FramesPerBlock * d.fmtInfo.Size()
	d.captureScratch = make([][]byte, d.captureChannels)
	for c := range d.captureScratch {
		d.captureScratch[c] = make([]byte, chanBytes)
	}
	d.playbackScratch = make([][]byte, d.playbackChannels)
	for c := range d.playbackScratch {
		d.playbackScratch[c] = make([]byte, chanBytes)
	}
	d.stream = &portaudio.PaStream{
		InputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  d.deviceIndex,
			ChannelCount: len(cfg.CaptureChannels),
			SampleFormat: d.paFormat,
		},
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  d.deviceIndex,
			ChannelCount: len(cfg.PlaybackChannels),
			SampleFormat: d.paFormat,
		},
		SampleRate: d.rate,
	}
	return nil
}

func (d *Driver) SetCallback(cb engine.Callback) { d.cb = cb }

func (d *Driver) Start() error {
	if d.stream == nil {
		return fmt.Errorf("padriver: Start called before Prepare")
	}
	if err := d.stream.OpenCallback(d.framesPerBlock, d.audioCallback); err != nil {
		return fmt.Errorf("padriver: open stream: %w", err)
	}
	if err := d.stream.StartStream(); err != nil {
		return fmt.Errorf("padriver: start stream: %w", err)
	}
	return nil
}

func (d *Driver) Stop() error {
	if d.stream == nil {
		return nil
	}
	if err := d.stream.StopStream(); err != nil {
		return fmt.Errorf("padriver: stop stream: %w", err)
	}
	if err := d.stream.CloseCallback(); err != nil {
		return fmt.Errorf("padriver: close stream: %w", err)
	}
	return nil
}

// audioCallback runs on PortAudio's own real-time thread (not a Go
// goroutine). It de-interleaves input into per-channel scratch slices,
// hands them to the engine, and re-interleaves the resulting playback
// scratch back into output. The scratch slices are allocated once in
// Prepare; nothing here allocates.
func (d *Driver) audioCallback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	frames := int(frameCount)
	if frames > d.framesPerBlock {
		frames = d.framesPerBlock
	}
	size := d.fmtInfo.Size()

	for c := range d.captureScratch {
		deinterleaveChannel(input, d.captureScratch[c], c, d.captureChannels, frames, size)
	}
	for c := range d.playbackScratch {
		clear(d.playbackScratch[c])
	}

	if d.cb != nil {
		d.cb.OnBufferSwitch(engine.BufferSwitch{Capture: d.captureScratch, Playback: d.playbackScratch, Frames: frames})
	}

	for c := range d.playbackScratch {
		interleaveChannel(d.playbackScratch[c], output, c, d.playbackChannels, frames, size)
	}

	return portaudio.Continue
}

func deinterleaveChannel(interleaved, dst []byte, channel, channels, frames, sampleSize int) {
	frameBytes := channels * sampleSize
	for f := 0; f < frames; f++ {
		src := f*frameBytes + channel*sampleSize
		if src+sampleSize > len(interleaved) {
			break
		}
		copy(dst[f*sampleSize:(f+1)*sampleSize], interleaved[src:src+sampleSize])
	}
}

func interleaveChannel(src, interleaved []byte, channel, channels, frames, sampleSize int) {
	frameBytes := channels * sampleSize
	for f := 0; f < frames; f++ {
		dst := f*frameBytes + channel*sampleSize
		if dst+sampleSize > len(interleaved) {
			break
		}
		copy(interleaved[dst:dst+sampleSize], src[f*sampleSize:(f+1)*sampleSize])
	}
}
