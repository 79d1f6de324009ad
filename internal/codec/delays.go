package codec

import "github.com/MikkoArtik/gstream/internal/apperrors"

// DelaysFinderParameters carries the kernel input for the delays-finder
// (and, by the same envelope shape, the location-solver and
// fault-classifier) task types: a window/scanner geometry, a correlation
// threshold, a reference station index, and the raw signal matrix.
type DelaysFinderParameters struct {
	WindowSize       int32
	ScannerSize      int32
	MinCorrelation   float64
	BaseStationIndex int32
	Signals          Array
}

// Validate enforces the invariant from spec.md §3:
// base_station_index < signals.rows.
func (p DelaysFinderParameters) Validate() error {
	if p.BaseStationIndex >= p.Signals.Rows {
		return apperrors.New(apperrors.KindInternal, "base station index out of range")
	}
	return nil
}

// ToBytes serializes in the order: window_size ‖ scanner_size ‖
// min_correlation ‖ base_station_index ‖ array_envelope(float32).
func (p DelaysFinderParameters) ToBytes() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	head, err := PackInt32s([]int32{p.WindowSize, p.ScannerSize})
	if err != nil {
		return nil, apperrors.CodecErr(err.Error())
	}
	corr, err := PackDouble(p.MinCorrelation)
	if err != nil {
		return nil, apperrors.CodecErr(err.Error())
	}
	baseIdx, err := PackInt32(p.BaseStationIndex)
	if err != nil {
		return nil, apperrors.CodecErr(err.Error())
	}
	arr, err := p.Signals.ToBytes()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(head)+len(corr)+len(baseIdx)+len(arr))
	out = append(out, head...)
	out = append(out, corr...)
	out = append(out, baseIdx...)
	out = append(out, arr...)
	return out, nil
}

// DelaysFinderParametersFromBytes deserializes the layout written by
// ToBytes.
func DelaysFinderParametersFromBytes(data []byte) (DelaysFinderParameters, error) {
	left, right := 0, 2*Int32ByteSize
	if len(data) < right {
		return DelaysFinderParameters{}, apperrors.CodecErr("truncated delays parameters header")
	}
	head, err := UnpackInt32s(data[left:right], 2)
	if err != nil {
		return DelaysFinderParameters{}, apperrors.CodecErr(err.Error())
	}
	windowSize, scannerSize := head[0], head[1]

	left = right
	right += DoubleByteSize
	if len(data) < right {
		return DelaysFinderParameters{}, apperrors.CodecErr("truncated min correlation bytes")
	}
	minCorrelation, err := UnpackDouble(data[left:right])
	if err != nil {
		return DelaysFinderParameters{}, apperrors.CodecErr(err.Error())
	}

	left = right
	right += Int32ByteSize
	if len(data) < right {
		return DelaysFinderParameters{}, apperrors.CodecErr("truncated base station index bytes")
	}
	baseStationIndex, err := UnpackInt32(data[left:right])
	if err != nil {
		return DelaysFinderParameters{}, apperrors.CodecErr(err.Error())
	}

	signals, err := ArrayFromBytes(data[right:])
	if err != nil {
		return DelaysFinderParameters{}, err
	}

	params := DelaysFinderParameters{
		WindowSize:       windowSize,
		ScannerSize:      scannerSize,
		MinCorrelation:   minCorrelation,
		BaseStationIndex: baseStationIndex,
		Signals:          signals,
	}
	if err := params.Validate(); err != nil {
		return DelaysFinderParameters{}, err
	}
	return params, nil
}
