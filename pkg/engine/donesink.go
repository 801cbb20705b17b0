package engine

import "github.com/dbergol/soundmexpro-sub001/pkg/soundblock"

// DoneSink is an optional consumer of the done path's delivered blocks,
// used to decouple visualization/recording from the engine core.
// The engine calls Capture/Playback for every delivered pair
// from the done thread, never from the processing thread or driver
// callback, so a slow sink (e.g. one doing disk I/O) cannot perturb
// audio timing.
type DoneSink interface {
	Capture(block *soundblock.Block) error
	Playback(block *soundblock.Block) error
	Close() error
}

// NopDoneSink discards everything it is given. It is the default sink
// when a host only wants the OnBufferDone observer and no persistence.
type NopDoneSink struct{}

func (NopDoneSink) Capture(*soundblock.Block) error  { return nil }
func (NopDoneSink) Playback(*soundblock.Block) error { return nil }
func (NopDoneSink) Close() error                     { return nil }
