// Package worker implements the per-task-type subprocess lifecycle
// (spec.md §4.6): verify ready, load args, acquire GPU, run the kernel,
// copy the result back, post-process, write it, and finalize the task
// record. cmd/worker execs into this package once per launched task.
package worker

import (
	"context"

	"github.com/MikkoArtik/gstream/internal/gputask"
)

// ArgSpec is one positional kernel argument before it has been bound to
// a compiled kernel: either an already-built scalar Arg, or a device
// array that must be lazily loaded once a kernel exists to load it onto
// (mirrors the original's singledispatch conversion in gpu_task.py,
// where a GPUArray only gets a cl_buffer the first time it's used).
type ArgSpec struct {
	Scalar *gputask.Arg
	Array  *gputask.Array
}

// ArgsBundle is everything PrepareArgs hands back to the process loop:
// the ordered argument specs, the device arrays that must be released
// once the kernel has run, the sink array the kernel writes its result
// into, and the total byte size used for RAM/GPU admission.
type ArgsBundle struct {
	Specs        []ArgSpec
	DeviceArrays []*gputask.Array
	Result       *gputask.Array
	ByteSize     int64
}

// Processor is the task-type-specific slice of the C6 lifecycle: which
// kernel to compile, which function to call, how to turn the envelope
// bytes read from the input file into device arguments, and how to
// reduce the raw device result into the bytes written to the output
// file. Exactly one Processor exists per TaskType (internal/kernels).
type Processor interface {
	KernelSource() string
	FunctionName() string
	PrepareArgs(ctx context.Context, input []byte) (ArgsBundle, error)
	PostProcess(raw []byte) ([]byte, error)
}
