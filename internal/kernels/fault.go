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

//go:embed sources/fault_classifier.cl
var faultClassifierSource string

const faultClassifierFunction = "classify_fault_plane"

// FaultClassifier scores candidate fault-plane orientations per
// station and reduces each row to its single best-scoring station,
// rather than keeping the full per-station score vector DelaysFinder
// and LocationSolver preserve — a classifier's useful output is "which
// class won", not the whole score row.
type FaultClassifier struct {
	stationsCount int32
}

func NewFaultClassifier() *FaultClassifier { return &FaultClassifier{} }

func (f *FaultClassifier) KernelSource() string { return faultClassifierSource }
func (f *FaultClassifier) FunctionName() string { return faultClassifierFunction }

// PrepareArgs builds the same argument order as DelaysFinder and
// LocationSolver (spec.md's expansion note on the shared envelope
// shape). Like LocationSolver, and unlike DelaysFinder, the result sink
// has one row per signal sample (signals length).
func (f *FaultClassifier) PrepareArgs(_ context.Context, input []byte) (worker.ArgsBundle, error) {
	params, err := codec.DelaysFinderParametersFromBytes(input)
	if err != nil {
		return worker.ArgsBundle{}, err
	}
	f.stationsCount = params.Signals.Rows

	tensorsLength := params.Signals.Cols
	resultCols := f.stationsCount + 1

	tensorsArray := &gputask.Array{Data: params.Signals.Data, IsCopy: true}
	resultArray := &gputask.Array{
		Data:   make([]byte, int(tensorsLength)*int(resultCols)*codec.Int32ByteSize),
		IsCopy: false,
	}

	minCorrelation32 := gputask.Float32Arg(float32(params.MinCorrelation))
	tensorsLenArg := gputask.Int32Arg(tensorsLength)
	stationsCountArg := gputask.Int32Arg(f.stationsCount)
	scannerSizeArg := gputask.Int32Arg(params.ScannerSize)
	windowSizeArg := gputask.Int32Arg(params.WindowSize)
	baseStationArg := gputask.Int32Arg(params.BaseStationIndex)

	specs := []worker.ArgSpec{
		{Array: tensorsArray},
		{Scalar: &tensorsLenArg},
		{Scalar: &stationsCountArg},
		{Scalar: &scannerSizeArg},
		{Scalar: &windowSizeArg},
		{Scalar: &minCorrelation32},
		{Scalar: &baseStationArg},
		{Array: resultArray},
	}

	return worker.ArgsBundle{
		Specs:        specs,
		DeviceArrays: []*gputask.Array{tensorsArray, resultArray},
		Result:       resultArray,
		ByteSize:     int64(len(tensorsArray.Data) + len(resultArray.Data)),
	}, nil
}

// PostProcess reduces each row's per-station score vector to the
// winning station index and its score, discarding rows where every
// station scored zero (no candidate orientation matched at all).
func (f *FaultClassifier) PostProcess(raw []byte) ([]byte, error) {
	cols := int(f.stationsCount) + 1
	if cols <= 0 {
		return nil, apperrors.CodecErr("stations count not initialized before post-processing")
	}
	rowSize := cols * codec.Int32ByteSize
	if rowSize == 0 || len(raw)%rowSize != 0 {
		return nil, apperrors.CodecErr(fmt.Sprintf("result bytes length %d is not a multiple of row size %d", len(raw), rowSize))
	}
	rows := len(raw) / rowSize
	matrix := decodeInt32Rows(raw, rows, cols)

	var selected [][2]int32
	for i := 0; i < rows; i++ {
		scores := matrix[i][1:]
		bestClass, bestScore := -1, int32(0)
		for class, score := range scores {
			if score > bestScore {
				bestClass, bestScore = class, score
			}
		}
		if bestClass < 0 {
			continue
		}
		selected = append(selected, [2]int32{int32(bestClass), bestScore})
	}

	data := make([]byte, len(selected)*2*codec.Int32ByteSize)
	for i, row := range selected {
		for j, v := range row {
			off := (i*2 + j) * codec.Int32ByteSize
			binary.LittleEndian.PutUint32(data[off:], uint32(v))
		}
	}

	envelope := codec.Array{
		Type: codec.ArrayTypeInt32,
		Rows: int32(len(selected)),
		Cols: 2,
		Data: data,
	}
	return envelope.ToBytes()
}
