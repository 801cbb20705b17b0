// Package sampleformat implements the driver-side sample format
// conversion table: bit-exact packing and unpacking between the raw
// interleaved byte formats a hardware driver exposes and the float32
// domain the processing pipeline works in. The scaling and clipping
// rules are uniform across widths: integers are normalized against
// 2^31, and the positive clip edge is
// pulled in slightly so a full-scale float sample never wraps around to
// the most negative integer on the way back out.
package sampleformat

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ID names a concrete sample format.
type ID int

const (
	Int16LE ID = iota
	Int16BE
	Int24LE
	Int24BE
	Int32LE
	Int32BE
	// Int32_*: 32-bit container, only the top N bits are significant;
	// the remaining low bits are forced to zero on write.
	Int32_16LE
	Int32_16BE
	Int32_18LE
	Int32_18BE
	Int32_20LE
	Int32_20BE
	Int32_24LE
	Int32_24BE
	Float32LE
	Float32BE
	Float64LE
	Float64BE
)

// Format describes the on-the-wire shape of one sample.
type Format struct {
	ID              ID
	ContainerBytes  int // bytes occupied per sample in the byte stream
	SignificantBits int // 0 means "all container bits are significant"
	BigEndian       bool
	Float           bool
	Float64         bool
}

var table = map[ID]Format{
	Int16LE:    {ID: Int16LE, ContainerBytes: 2, BigEndian: false},
	Int16BE:    {ID: Int16BE, ContainerBytes: 2, BigEndian: true},
	Int24LE:    {ID: Int24LE, ContainerBytes: 3, BigEndian: false},
	Int24BE:    {ID: Int24BE, ContainerBytes: 3, BigEndian: true},
	Int32LE:    {ID: Int32LE, ContainerBytes: 4, BigEndian: false},
	Int32BE:    {ID: Int32BE, ContainerBytes: 4, BigEndian: true},
	Int32_16LE: {ID: Int32_16LE, ContainerBytes: 4, SignificantBits: 16, BigEndian: false},
	Int32_16BE: {ID: Int32_16BE, ContainerBytes: 4, SignificantBits: 16, BigEndian: true},
	Int32_18LE: {ID: Int32_18LE, ContainerBytes: 4, SignificantBits: 18, BigEndian: false},
	Int32_18BE: {ID: Int32_18BE, ContainerBytes: 4, SignificantBits: 18, BigEndian: true},
	Int32_20LE: {ID: Int32_20LE, ContainerBytes: 4, SignificantBits: 20, BigEndian: false},
	Int32_20BE: {ID: Int32_20BE, ContainerBytes: 4, SignificantBits: 20, BigEndian: true},
	Int32_24LE: {ID: Int32_24LE, ContainerBytes: 4, SignificantBits: 24, BigEndian: false},
	Int32_24BE: {ID: Int32_24BE, ContainerBytes: 4, SignificantBits: 24, BigEndian: true},
	Float32LE:  {ID: Float32LE, ContainerBytes: 4, BigEndian: false, Float: true},
	Float32BE:  {ID: Float32BE, ContainerBytes: 4, BigEndian: true, Float: true},
	Float64LE:  {ID: Float64LE, ContainerBytes: 8, BigEndian: false, Float: true, Float64: true},
	Float64BE:  {ID: Float64BE, ContainerBytes: 8, BigEndian: true, Float: true, Float64: true},
}

// Lookup returns the Format for id.
func Lookup(id ID) (Format, error) {
	f, ok := table[id]
	if !ok {
		return Format{}, fmt.Errorf("sampleformat: unsupported format id %d", id)
	}
	return f, nil
}

// intAmplitude is 2^31, the normalization divisor for all integer
// formats regardless of container width: every integer format stores
// its value left-justified in a 32-bit signed word.
const intAmplitude = 2147483648.0

// intMax pulls the positive clip edge in from 2^31-1 so that rounding
// during conversion never produces a value that wraps to the most
// negative 32-bit integer.
const intMax = intAmplitude - 256

// Size returns the format's container width in bytes.
func (f Format) Size() int {
	return f.ContainerBytes
}

// ToFloat32 decodes one raw sample into the [-1, 1] float domain.
// Integer formats always decode into [-1, 1); float formats are
// returned as stored, without clipping.
func (f Format) ToFloat32(raw []byte) (float32, error) {
	if len(raw) < f.ContainerBytes {
		return 0, fmt.Errorf("sampleformat: short buffer: need %d bytes, got %d", f.ContainerBytes, len(raw))
	}
	if f.Float {
		if f.Float64 {
			bits := getUint64(raw, f.BigEndian)
			return float32(math.Float64frombits(bits)), nil
		}
		bits := getUint32(raw, f.BigEndian)
		return math.Float32frombits(bits), nil
	}
	v := decodeLeftJustifiedInt32(raw, f)
	return float32(float64(v) / intAmplitude), nil
}

// FromFloat32 encodes a float32 sample into dst, which must have at
// least f.ContainerBytes capacity.
func (f Format) FromFloat32(sample float32, dst []byte) error {
	if len(dst) < f.ContainerBytes {
		return fmt.Errorf("sampleformat: short buffer: need %d bytes, got %d", f.ContainerBytes, len(dst))
	}
	if f.Float {
		s := clipFloat(sample)
		if f.Float64 {
			putUint64(dst, math.Float64bits(float64(s)), f.BigEndian)
			return nil
		}
		putUint32(dst, math.Float32bits(s), f.BigEndian)
		return nil
	}

	scaled := float64(clipFloat(sample)) * intAmplitude
	if scaled > intMax {
		scaled = intMax
	}
	if scaled < -intAmplitude {
		scaled = -intAmplitude
	}
	v := int32(math.Round(scaled))

	sig := f.SignificantBits
	if sig == 0 {
		sig = f.ContainerBytes * 8
	}
	if sig < 32 {
		mask := int32(^uint32(0) << uint(32-sig))
		v &= mask
	}
	encodeLeftJustifiedInt32(v, dst, f)
	return nil
}

// clipFloat clamps a sample to [-1, 1]; float formats store values
// directly in this range, integer formats clip before scaling.
func clipFloat(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// decodeLeftJustifiedInt32 reads the format's container bytes as a
// signed integer and left-justifies it to a full 32-bit word so the
// same intAmplitude divisor applies regardless of container width.
func decodeLeftJustifiedInt32(raw []byte, f Format) int32 {
	var v int32
	switch f.ContainerBytes {
	case 2:
		u := getUint16(raw, f.BigEndian)
		v = int32(int16(u)) << 16
	case 3:
		u := getUint24(raw, f.BigEndian)
		v = signExtend24(u) << 8
	case 4:
		v = int32(getUint32(raw, f.BigEndian))
	default:
		v = 0
	}
	return v
}

func encodeLeftJustifiedInt32(v int32, dst []byte, f Format) {
	switch f.ContainerBytes {
	case 2:
		putUint16(dst, uint16(v>>16), f.BigEndian)
	case 3:
		putUint24(dst, uint32(v>>8)&0xFFFFFF, f.BigEndian)
	case 4:
		putUint32(dst, uint32(v), f.BigEndian)
	}
}

func getUint16(b []byte, be bool) uint16 {
	if be {
		return binary.BigEndian.Uint16(b)
	}
	return binary.LittleEndian.Uint16(b)
}

func putUint16(b []byte, v uint16, be bool) {
	if be {
		binary.BigEndian.PutUint16(b, v)
		return
	}
	binary.LittleEndian.PutUint16(b, v)
}

func getUint24(b []byte, be bool) uint32 {
	if be {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func putUint24(b []byte, v uint32, be bool) {
	if be {
		b[0] = byte(v >> 16)
		b[1] = byte(v >> 8)
		b[2] = byte(v)
		return
	}
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func signExtend24(v uint32) int32 {
	if v&0x800000 != 0 {
		return int32(v | 0xFF000000)
	}
	return int32(v)
}

func getUint32(b []byte, be bool) uint32 {
	if be {
		return binary.BigEndian.Uint32(b)
	}
	return binary.LittleEndian.Uint32(b)
}

func putUint32(b []byte, v uint32, be bool) {
	if be {
		binary.BigEndian.PutUint32(b, v)
		return
	}
	binary.LittleEndian.PutUint32(b, v)
}

func getUint64(b []byte, be bool) uint64 {
	if be {
		return binary.BigEndian.Uint64(b)
	}
	return binary.LittleEndian.Uint64(b)
}

func putUint64(b []byte, v uint64, be bool) {
	if be {
		binary.BigEndian.PutUint64(b, v)
		return
	}
	binary.LittleEndian.PutUint64(b, v)
}

// MaxSampleValue and MinSampleValue report the largest and smallest
// float32 magnitudes a channel observed while being packed into format
// id can represent without clipping, i.e. the round trip bounds client
// code should compare peak levels against.
func MaxSampleValue(id ID) (float32, error) {
	f, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	if f.Float {
		return 1, nil
	}
	return float32(intMax / intAmplitude), nil
}

func MinSampleValue(id ID) (float32, error) {
	if _, err := Lookup(id); err != nil {
		return 0, err
	}
	return -1, nil
}

// RoundTrip encodes sample into format id and decodes it back,
// reproducing exactly the quantization a real driver transfer would
// introduce. Useful for tests and for a client that wants to know what
// level its data will actually play back at.
func RoundTrip(id ID, sample float32) (float32, error) {
	f, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, f.ContainerBytes)
	if err := f.FromFloat32(sample, buf); err != nil {
		return 0, err
	}
	return f.ToFloat32(buf)
}
