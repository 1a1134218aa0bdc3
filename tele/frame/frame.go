// Package frame is the thermal frame wire codec.
// Frame is 24x32 float32 readings row-major, on the wire exactly Size bytes,
// little-endian IEEE-754 binary32, no header, no checksum.
package frame

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/juju/errors"
)

const (
	Rows = 24
	Cols = 32
	Len  = Rows * Cols
	Size = Len * 4
)

var ErrFrameSizeMismatch = fmt.Errorf("frame size mismatch")

type Frame [Len]float32

func (f *Frame) At(row, col int) float32 { return f[row*Cols+col] }
func (f *Frame) Set(row, col int, v float32) {
	f[row*Cols+col] = v
}

// Max of all values. NaN values are skipped unless all are NaN.
func (f *Frame) Max() float32 {
	max := float32(math.Inf(-1))
	seen := false
	for _, v := range f {
		if v != v {
			continue
		}
		if !seen || v > max {
			max, seen = v, true
		}
	}
	if !seen {
		return float32(math.NaN())
	}
	return max
}

func Encode(f *Frame) []byte {
	return AppendEncode(make([]byte, 0, Size), f)
}

func AppendEncode(dst []byte, f *Frame) []byte {
	var b [4]byte
	for _, v := range f {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		dst = append(dst, b[:]...)
	}
	return dst
}

func Decode(b []byte) (*Frame, error) {
	f := &Frame{}
	if err := DecodeInto(f, b); err != nil {
		return nil, err
	}
	return f, nil
}

func DecodeInto(dst *Frame, b []byte) error {
	if len(b) != Size {
		return errors.Annotatef(ErrFrameSizeMismatch, "length=%d expected=%d", len(b), Size)
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return nil
}

func IsSizeMismatch(err error) bool { return errors.Cause(err) == ErrFrameSizeMismatch }
