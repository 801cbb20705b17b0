// Package donesink implements DoneSink backends that persist the
// engine's done-path blocks to disk. youpy/go-wav's Writer wants the
// total sample count up front, so WavSink buffers both sides in memory
// and writes the two files once, at Close.
package donesink

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/dbergol/soundmexpro-sub001/pkg/sampleformat"
	"github.com/dbergol/soundmexpro-sub001/pkg/soundblock"

	wav "github.com/youpy/go-wav"
)

// WavSink records the capture and playback sides of the done path to
// two separate 16-bit PCM WAV files. It is meant for bounded recording
// sessions (tests, short captures); a long-running capture should use
// a streaming sink instead, since WavSink holds everything in memory
// until Close.
type WavSink struct {
	mu sync.Mutex

	sampleRate uint32

	captureChannels  int
	playbackChannels int
	captureFrames    int
	playbackFrames   int

	captureBuf  bytes.Buffer
	playbackBuf bytes.Buffer

	capturePath  string
	playbackPath string

	closed bool
}

// NewWavSink creates a sink that writes capturePath/playbackPath on
// Close. Either path may be empty to skip recording that side.
func NewWavSink(capturePath, playbackPath string, sampleRate uint32) *WavSink {
	return &WavSink{
		sampleRate:   sampleRate,
		capturePath:  capturePath,
		playbackPath: playbackPath,
	}
}

func (s *WavSink) Capture(block *soundblock.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.capturePath == "" {
		return nil
	}
	s.captureChannels = block.NumChannels()
	s.captureFrames += block.NumFrames()
	return appendInt16LE(&s.captureBuf, block)
}

func (s *WavSink) Playback(block *soundblock.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.playbackPath == "" {
		return nil
	}
	s.playbackChannels = block.NumChannels()
	s.playbackFrames += block.NumFrames()
	return appendInt16LE(&s.playbackBuf, block)
}

// Close flushes both buffered sides to their WAV files. Safe to call
// more than once; only the first call writes anything.
func (s *WavSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.capturePath != "" && s.captureChannels > 0 {
		if err := writeWAV(s.capturePath, s.captureBuf.Bytes(), uint32(s.captureFrames), uint16(s.captureChannels), s.sampleRate); err != nil {
			return fmt.Errorf("donesink: capture: %w", err)
		}
	}
	if s.playbackPath != "" && s.playbackChannels > 0 {
		if err := writeWAV(s.playbackPath, s.playbackBuf.Bytes(), uint32(s.playbackFrames), uint16(s.playbackChannels), s.sampleRate); err != nil {
			return fmt.Errorf("donesink: playback: %w", err)
		}
	}
	return nil
}

// appendInt16LE interleaves block's channels frame-major and encodes
// each sample as 16-bit PCM, the format writeWAV always produces.
func appendInt16LE(buf *bytes.Buffer, block *soundblock.Block) error {
	f, err := sampleformat.Lookup(sampleformat.Int16LE)
	if err != nil {
		return err
	}
	sample := make([]byte, f.Size())
	frames := block.NumFrames()
	for i := 0; i < frames; i++ {
		for c := 0; c < block.NumChannels(); c++ {
			if err := f.FromFloat32(block.Channels[c][i], sample); err != nil {
				return err
			}
			buf.Write(sample)
		}
	}
	return nil
}

func writeWAV(path string, data []byte, numSamples uint32, numChannels uint16, sampleRate uint32) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer out.Close()

	writer := wav.NewWriter(out, numSamples, numChannels, sampleRate, 16)
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
