// Package codec implements the length-prefixed binary envelope used for
// task input/result payloads: packable scalars (char, int32, double) and
// the typed 2-D array envelope built on top of them.
//
// Every function here is a pure function of its inputs — the codec keeps
// no state across calls, matching the original gstream.files.binary /
// gstream.models serialization contract byte-for-byte.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/MikkoArtik/gstream/internal/apperrors"
)

const (
	CharByteSize   = 1
	Int32ByteSize  = 4
	DoubleByteSize = 8

	minInt32Value = -2_000_000_000
	maxInt32Value = 2_000_000_000

	minDoubleValue = -1e14
	maxDoubleValue = 1e14
)

var order = binary.LittleEndian

// PackChar encodes a non-empty string as its raw ASCII bytes.
func PackChar(value string) ([]byte, error) {
	if value == "" {
		return nil, apperrors.New(apperrors.KindInternal, "char value must be non-empty")
	}
	return []byte(value), nil
}

// UnpackChar decodes count bytes back into a string.
func UnpackChar(data []byte, count int) (string, error) {
	if count <= 0 {
		return "", apperrors.New(apperrors.KindInternal, "char count must be positive")
	}
	if len(data) < count*CharByteSize {
		return "", apperrors.New(apperrors.KindInternal, "truncated char bytes")
	}
	return string(data[:count*CharByteSize]), nil
}

func isInt32InRange(v int32) bool {
	return v >= minInt32Value && v <= maxInt32Value
}

// PackInt32s encodes a non-empty list of int32 values, little-endian,
// rejecting anything outside [-2e9, 2e9].
func PackInt32s(values []int32) ([]byte, error) {
	if len(values) == 0 {
		return nil, apperrors.New(apperrors.KindInternal, "int32 list must be non-empty")
	}
	out := make([]byte, len(values)*Int32ByteSize)
	for i, v := range values {
		if !isInt32InRange(v) {
			return nil, apperrors.New(apperrors.KindInternal, "int32 value out of range")
		}
		order.PutUint32(out[i*Int32ByteSize:], uint32(v))
	}
	return out, nil
}

// PackInt32 is the single-value convenience form of PackInt32s.
func PackInt32(value int32) ([]byte, error) {
	return PackInt32s([]int32{value})
}

// UnpackInt32s decodes count little-endian int32 values.
func UnpackInt32s(data []byte, count int) ([]int32, error) {
	if count <= 0 {
		return nil, apperrors.New(apperrors.KindInternal, "int32 count must be positive")
	}
	needed := count * Int32ByteSize
	if len(data) < needed {
		return nil, apperrors.New(apperrors.KindInternal, "truncated int32 bytes")
	}
	out := make([]int32, count)
	for i := range out {
		out[i] = int32(order.Uint32(data[i*Int32ByteSize:]))
	}
	return out, nil
}

// UnpackInt32 is the single-value convenience form of UnpackInt32s.
func UnpackInt32(data []byte) (int32, error) {
	values, err := UnpackInt32s(data, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

func isDoubleInRange(v float64) bool {
	return v >= minDoubleValue && v <= maxDoubleValue
}

// PackDoubles encodes a non-empty list of float64 values, little-endian,
// rejecting anything outside [-1e14, 1e14].
func PackDoubles(values []float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, apperrors.New(apperrors.KindInternal, "double list must be non-empty")
	}
	out := make([]byte, len(values)*DoubleByteSize)
	for i, v := range values {
		if !isDoubleInRange(v) {
			return nil, apperrors.New(apperrors.KindInternal, "double value out of range")
		}
		order.PutUint64(out[i*DoubleByteSize:], math.Float64bits(v))
	}
	return out, nil
}

// PackDouble is the single-value convenience form of PackDoubles.
func PackDouble(value float64) ([]byte, error) {
	return PackDoubles([]float64{value})
}

// UnpackDoubles decodes count little-endian float64 values.
func UnpackDoubles(data []byte, count int) ([]float64, error) {
	if count <= 0 {
		return nil, apperrors.New(apperrors.KindInternal, "double count must be positive")
	}
	needed := count * DoubleByteSize
	if len(data) < needed {
		return nil, apperrors.New(apperrors.KindInternal, "truncated double bytes")
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(data[i*DoubleByteSize:]))
	}
	return out, nil
}

// UnpackDouble is the single-value convenience form of UnpackDoubles.
func UnpackDouble(data []byte) (float64, error) {
	values, err := UnpackDoubles(data, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}
