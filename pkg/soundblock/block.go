// Package soundblock implements the multi-channel sample buffer exchanged
// between a driver callback and the processing pipeline: a fixed-shape,
// channel-major block of float32 frames plus an end-of-stream marker.
package soundblock

import "fmt"

// Block is a fixed-shape multi-channel audio buffer. Channels[c][f] is the
// sample for channel c at frame f. All channels always carry the same
// number of frames.
type Block struct {
	Channels [][]float32
	// IsLast marks this block as the final block of a stream. It travels
	// with the data itself rather than through a side channel, so a
	// consumer draining a queue after a stop request still observes it.
	IsLast bool
}

// New allocates a Block with the given channel and frame counts.
func New(channels, frames int) *Block {
	b := &Block{}
	b.Reinitialize(channels, frames)
	return b
}

// NewArray allocates n Blocks of identical shape, the layout used by
// blockqueue for its backing slot array.
func NewArray(n, channels, frames int) []Block {
	arr := make([]Block, n)
	for i := range arr {
		arr[i].Reinitialize(channels, frames)
	}
	return arr
}

// NumChannels returns the channel count.
func (b *Block) NumChannels() int {
	return len(b.Channels)
}

// NumFrames returns the frame count, or 0 for a zero-channel block.
func (b *Block) NumFrames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Reinitialize reshapes the block in place, reallocating its backing
// storage and clearing IsLast.
func (b *Block) Reinitialize(channels, frames int) {
	b.Channels = make([][]float32, channels)
	for c := range b.Channels {
		b.Channels[c] = make([]float32, frames)
	}
	b.IsLast = false
}

// Clear zeroes all samples and resets IsLast, keeping the current shape.
// This is the per-slot reset a queue performs after a slot is consumed.
func (b *Block) Clear() {
	for c := range b.Channels {
		for f := range b.Channels[c] {
			b.Channels[c][f] = 0
		}
	}
	b.IsLast = false
}

// ErrShapeMismatch is returned when two blocks involved in an operation
// that assumes identical shape (CopyFrom) do not agree
// on channel or frame count.
type ErrShapeMismatch struct {
	WantChannels, WantFrames int
	GotChannels, GotFrames   int
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("soundblock: shape mismatch: want %dx%d, got %dx%d",
		e.WantChannels, e.WantFrames, e.GotChannels, e.GotFrames)
}

// CopyFrom copies src's samples and IsLast flag into b. The two blocks
// must already share the same shape; CopyFrom never reallocates.
func (b *Block) CopyFrom(src *Block) error {
	if src.NumChannels() != b.NumChannels() || src.NumFrames() != b.NumFrames() {
		return &ErrShapeMismatch{
			WantChannels: b.NumChannels(), WantFrames: b.NumFrames(),
			GotChannels: src.NumChannels(), GotFrames: src.NumFrames(),
		}
	}
	for c := range b.Channels {
		copy(b.Channels[c], src.Channels[c])
	}
	b.IsLast = src.IsLast
	return nil
}
