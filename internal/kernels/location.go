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

//go:embed sources/location_solver.cl
var locationSolverSource string

const locationSolverFunction = "solve_source_location"

// LocationSolver evaluates trial hypocenters against arrival-time
// residuals, keeping every candidate the kernel marked as matching
// (unlike DelaysFinder, candidates are not merged — each trial location
// is independent, so there is no scanner-window collapse step).
type LocationSolver struct {
	stationsCount int32
}

func NewLocationSolver() *LocationSolver { return &LocationSolver{} }

func (l *LocationSolver) KernelSource() string { return locationSolverSource }
func (l *LocationSolver) FunctionName() string { return locationSolverFunction }

// PrepareArgs decodes the same envelope shape DelaysFinderParameters
// uses (spec.md's expansion note: location/fault share the delays
// arg-envelope shape) and builds a device argument list in the same
// order. Unlike DelaysFinder, the result sink has one row per signal
// sample (signals length), not signals length minus window+scanner.
func (l *LocationSolver) PrepareArgs(_ context.Context, input []byte) (worker.ArgsBundle, error) {
	params, err := codec.DelaysFinderParametersFromBytes(input)
	if err != nil {
		return worker.ArgsBundle{}, err
	}
	l.stationsCount = params.Signals.Rows

	arrivalsLength := params.Signals.Cols
	resultCols := l.stationsCount + 1

	arrivalsArray := &gputask.Array{Data: params.Signals.Data, IsCopy: true}
	resultArray := &gputask.Array{
		Data:   make([]byte, int(arrivalsLength)*int(resultCols)*codec.Int32ByteSize),
		IsCopy: false,
	}

	minCorrelation32 := gputask.Float32Arg(float32(params.MinCorrelation))
	arrivalsLenArg := gputask.Int32Arg(arrivalsLength)
	stationsCountArg := gputask.Int32Arg(l.stationsCount)
	scannerSizeArg := gputask.Int32Arg(params.ScannerSize)
	windowSizeArg := gputask.Int32Arg(params.WindowSize)
	baseStationArg := gputask.Int32Arg(params.BaseStationIndex)

	specs := []worker.ArgSpec{
		{Array: arrivalsArray},
		{Scalar: &arrivalsLenArg},
		{Scalar: &stationsCountArg},
		{Scalar: &scannerSizeArg},
		{Scalar: &windowSizeArg},
		{Scalar: &minCorrelation32},
		{Scalar: &baseStationArg},
		{Array: resultArray},
	}

	return worker.ArgsBundle{
		Specs:        specs,
		DeviceArrays: []*gputask.Array{arrivalsArray, resultArray},
		Result:       resultArray,
		ByteSize:     int64(len(arrivalsArray.Data) + len(resultArray.Data)),
	}, nil
}

// PostProcess keeps every row the kernel flagged as a match (first
// column == 1), stamping each with its original row index and dropping
// the flag column — no windowing merge, since distinct trial locations
// are independent candidates, not overlapping observations of one event.
func (l *LocationSolver) PostProcess(raw []byte) ([]byte, error) {
	cols := int(l.stationsCount) + 1
	if cols <= 0 {
		return nil, apperrors.CodecErr("stations count not initialized before post-processing")
	}
	rowSize := cols * codec.Int32ByteSize
	if rowSize == 0 || len(raw)%rowSize != 0 {
		return nil, apperrors.CodecErr(fmt.Sprintf("result bytes length %d is not a multiple of row size %d", len(raw), rowSize))
	}
	rows := len(raw) / rowSize
	matrix := decodeInt32Rows(raw, rows, cols)

	outCols := cols
	var selected [][]int32
	for i := 0; i < rows; i++ {
		if matrix[i][0] != 1 {
			continue
		}
		row := make([]int32, 0, outCols)
		row = append(row, int32(i))
		row = append(row, matrix[i][1:]...)
		selected = append(selected, row)
	}

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
