// Package kernels implements the C12 kernel registry: one Processor per
// TaskType, each owning its kernel source, its function name, how to
// turn a decoded input envelope into device arguments, and how to
// reduce the raw device result back into an output envelope. Grounded
// on gstream/worker/delays_finder.py; location and fault supplement the
// distillation with the same template (spec.md TaskType enum names all
// three, the original source implements only delays_finder.py in full).
package kernels

import (
	"context"
	"encoding/binary"
	_ "embed"
	"fmt"

	"github.com/MikkoArtik/gstream/internal/apperrors"
	"github.com/MikkoArtik/gstream/internal/codec"
	"github.com/MikkoArtik/gstream/internal/gputask"
	"github.com/MikkoArtik/gstream/internal/worker"
)

//go:embed sources/delays_finder.cl
var delaysFinderSource string

const (
	delaysFinderFunction = "get_real_delays"

	similarityCoefficient = 0.8
	timeEpsilon           = 5
	nullValue             = -9999
)

// DelaysFinder finds, for each candidate signal window, the set of
// stations whose cross-correlation with a reference station exceeds the
// configured threshold, then collapses near-duplicate candidate windows
// into a single representative with a merged duration.
type DelaysFinder struct {
	windowSize    int32
	scannerSize   int32
	stationsCount int32
}

func NewDelaysFinder() *DelaysFinder { return &DelaysFinder{} }

func (d *DelaysFinder) KernelSource() string { return delaysFinderSource }
func (d *DelaysFinder) FunctionName() string { return delaysFinderFunction }

// PrepareArgs decodes a DelaysFinderParameters envelope and builds the
// device argument list: the signal matrix (copy, read-only), four
// scalar geometry values, the correlation threshold, the base station
// index, and a zeroed write-only result sink sized for the kernel to
// fill in.
func (d *DelaysFinder) PrepareArgs(_ context.Context, input []byte) (worker.ArgsBundle, error) {
	params, err := codec.DelaysFinderParametersFromBytes(input)
	if err != nil {
		return worker.ArgsBundle{}, err
	}

	d.windowSize = params.WindowSize
	d.scannerSize = params.ScannerSize
	d.stationsCount = params.Signals.Rows

	signalsLength := params.Signals.Cols
	buffer := params.WindowSize + params.ScannerSize
	processingLength := signalsLength - buffer
	if processingLength < 0 {
		processingLength = 0
	}
	resultCols := d.stationsCount + 1

	signalsArray := &gputask.Array{Data: params.Signals.Data, IsCopy: true}
	resultArray := &gputask.Array{
		Data:   make([]byte, int(processingLength)*int(resultCols)*codec.Int32ByteSize),
		IsCopy: false,
	}

	minCorrelation32 := gputask.Float32Arg(float32(params.MinCorrelation))
	signalsLenArg := gputask.Int32Arg(signalsLength)
	stationsCountArg := gputask.Int32Arg(d.stationsCount)
	scannerSizeArg := gputask.Int32Arg(params.ScannerSize)
	windowSizeArg := gputask.Int32Arg(params.WindowSize)
	baseStationArg := gputask.Int32Arg(params.BaseStationIndex)

	specs := []worker.ArgSpec{
		{Array: signalsArray},
		{Scalar: &signalsLenArg},
		{Scalar: &stationsCountArg},
		{Scalar: &scannerSizeArg},
		{Scalar: &windowSizeArg},
		{Scalar: &minCorrelation32},
		{Scalar: &baseStationArg},
		{Array: resultArray},
	}

	return worker.ArgsBundle{
		Specs:        specs,
		DeviceArrays: []*gputask.Array{signalsArray, resultArray},
		Result:       resultArray,
		ByteSize:     int64(len(signalsArray.Data) + len(resultArray.Data)),
	}, nil
}

// PostProcess reduces the raw (processing_length x stations_count+1)
// int32 device result into the final (n x stations_count+2) envelope:
// index, merged duration, per-station match columns — collapsing
// candidate windows that are near-duplicates of an already-selected one.
func (d *DelaysFinder) PostProcess(raw []byte) ([]byte, error) {
	cols := int(d.stationsCount) + 1
	if cols <= 0 {
		return nil, apperrors.CodecErr("stations count not initialized before post-processing")
	}
	rowSize := cols * codec.Int32ByteSize
	if rowSize == 0 || len(raw)%rowSize != 0 {
		return nil, apperrors.CodecErr(fmt.Sprintf("result bytes length %d is not a multiple of row size %d", len(raw), rowSize))
	}
	rows := len(raw) / rowSize
	matrix := decodeInt32Rows(raw, rows, cols)

	filtered := make([][]int32, 0, rows)
	for i := 0; i < rows; i++ {
		if matrix[i][0] != 1 {
			continue
		}
		row := make([]int32, 0, cols)
		row = append(row, int32(i), d.windowSize)
		row = append(row, matrix[i][1:]...)
		filtered = append(filtered, row)
	}

	selected := mergeCandidateWindows(filtered, int(d.scannerSize), d.windowSize)

	outCols := 2 + int(d.stationsCount)
	data := make([]byte, len(selected)*outCols*codec.Int32ByteSize)
	for i, row := range selected {
		for j, v := range row {
			off := (i*outCols + j) * codec.Int32ByteSize
			binary.LittleEndian.PutUint32(data[off:], uint32(v))
		}
	}

	envelope := codec.Array{
		Type: codec.ArrayTypeInt32,
		Rows: int32(len(selected)),
		Cols: int32(outCols),
		Data: data,
	}
	return envelope.ToBytes()
}

// mergeCandidateWindows implements the greedy scanner-window collapse:
// within scanner_size of a selected row, any row similar enough is
// folded into it by extending the selected row's duration.
func mergeCandidateWindows(rows [][]int32, scannerSize int, windowSize int32) [][]int32 {
	n := len(rows)
	skipped := make(map[int]bool, n)
	var selected [][]int32

	for i := 0; i < n; i++ {
		if skipped[i] {
			continue
		}
		durationIndex := i
		maxJ := i + scannerSize + 1
		if maxJ > n {
			maxJ = n
		}
		rowA := rows[i][2:]
		for j := i + 1; j < maxJ; j++ {
			if skipped[j] {
				continue
			}
			rowB := rows[j][2:]
			if similarityCoeff(rowA, rowB, timeEpsilon) >= similarityCoefficient {
				skipped[j] = true
				durationIndex = j
			}
		}
		rows[i][1] = int32(durationIndex-i) + windowSize
		selected = append(selected, rows[i])
	}
	return selected
}

// similarityCoeff counts the fraction of columns whose absolute
// difference is within timeEpsilon, or that are effectively "unset"
// sentinel values, mirroring get_similarity_coeff in delays_finder.py.
func similarityCoeff(a, b []int32, epsilon int32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	matches := 0
	for i := range a {
		diff := a[i] - b[i]
		if diff < 0 {
			diff = -diff
		}
		if diff <= epsilon || diff > int32(-nullValue)/2 {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

func decodeInt32Rows(raw []byte, rows, cols int) [][]int32 {
	out := make([][]int32, rows)
	for i := 0; i < rows; i++ {
		row := make([]int32, cols)
		for j := 0; j < cols; j++ {
			off := (i*cols + j) * codec.Int32ByteSize
			row[j] = int32(binary.LittleEndian.Uint32(raw[off : off+codec.Int32ByteSize]))
		}
		out[i] = row
	}
	return out
}
