package codec

import (
	"fmt"

	"github.com/MikkoArtik/gstream/internal/apperrors"
)

// ArrayType is the closed tag for the typed 2-D array envelope.
type ArrayType string

const (
	ArrayTypeInt32   ArrayType = "int32"
	ArrayTypeFloat32 ArrayType = "float32"
)

// knownArrayTypes is tried in order when probing a tag out of a byte
// stream — deserialization has no length prefix for the tag itself, so it
// must try each known tag string in turn, exactly as the original codec
// does.
var knownArrayTypes = []ArrayType{ArrayTypeInt32, ArrayTypeFloat32}

func (t ArrayType) Valid() bool {
	for _, known := range knownArrayTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ElementSize returns the byte size of one element of this array type.
func (t ArrayType) ElementSize() int {
	switch t {
	case ArrayTypeInt32:
		return 4
	case ArrayTypeFloat32:
		return 4
	default:
		return 0
	}
}

// Array is the 2-D typed array envelope from spec.md §3. Rows=0 or Cols=0
// means a 1-D view whose length is the non-zero dimension; the codec
// itself never collapses the shape, callers that need the 1-D view do so.
type Array struct {
	Type ArrayType
	Rows int32
	Cols int32
	Data []byte
}

// Len1D returns the logical 1-D length described by Rows/Cols: the
// non-zero dimension when the other is zero, otherwise Rows*Cols.
func (a Array) Len1D() int32 {
	if a.Rows == 0 || a.Cols == 0 {
		if a.Rows > a.Cols {
			return a.Rows
		}
		return a.Cols
	}
	return a.Rows * a.Cols
}

func (a Array) expectedDataLen() int {
	return int(a.Len1D()) * a.Type.ElementSize()
}

// ToBytes serializes the array as: type-tag ‖ rows(int32) ‖ cols(int32) ‖
// data, per spec.md §4.1.
func (a Array) ToBytes() ([]byte, error) {
	if !a.Type.Valid() {
		return nil, apperrors.CodecErr(fmt.Sprintf("unknown array type %q", a.Type))
	}
	want := a.expectedDataLen()
	if len(a.Data) != want {
		return nil, apperrors.CodecErr(fmt.Sprintf(
			"array data length %d does not match rows*cols*elemsize %d", len(a.Data), want))
	}

	tagBytes, err := PackChar(string(a.Type))
	if err != nil {
		return nil, apperrors.CodecErr(err.Error())
	}
	rowsBytes, err := PackInt32(a.Rows)
	if err != nil {
		return nil, apperrors.CodecErr(err.Error())
	}
	colsBytes, err := PackInt32(a.Cols)
	if err != nil {
		return nil, apperrors.CodecErr(err.Error())
	}

	out := make([]byte, 0, len(tagBytes)+len(rowsBytes)+len(colsBytes)+len(a.Data))
	out = append(out, tagBytes...)
	out = append(out, rowsBytes...)
	out = append(out, colsBytes...)
	out = append(out, a.Data...)
	return out, nil
}

// ArrayFromBytes deserializes an Array envelope, probing each known tag
// string in turn since the tag has no explicit length prefix.
func ArrayFromBytes(data []byte) (Array, error) {
	for _, candidate := range knownArrayTypes {
		tagLen := len(candidate)
		if len(data) < tagLen {
			continue
		}
		tag, err := UnpackChar(data[:tagLen], tagLen)
		if err != nil || tag != string(candidate) {
			continue
		}

		left := tagLen
		right := left + 2*Int32ByteSize
		if len(data) < right {
			return Array{}, apperrors.CodecErr("truncated array shape bytes")
		}
		shape, err := UnpackInt32s(data[left:right], 2)
		if err != nil {
			return Array{}, apperrors.CodecErr(err.Error())
		}
		rows, cols := shape[0], shape[1]

		want := Array{Type: candidate, Rows: rows, Cols: cols}.expectedDataLen()
		available := len(data) - right
		if want > available {
			return Array{}, apperrors.CodecErr("truncated array data bytes")
		}

		return Array{
			Type: candidate,
			Rows: rows,
			Cols: cols,
			Data: data[right : right+want],
		}, nil
	}
	return Array{}, apperrors.CodecErr("unrecognized array type tag")
}
