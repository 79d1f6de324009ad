// Package gputask models running one compiled kernel on one GPU card
// (spec.md §4.5). Actual kernel compilation/dispatch is abstracted
// behind the KernelRunner boundary: this environment has no OpenCL
// toolchain to compile the .cl kernel sources against, so the only
// KernelRunner shipped here is UnavailableRunner, which always fails
// (internal/kernels supplies the kernel source and function name per
// task type, not a KernelRunner).
package gputask

import (
	"context"

	"github.com/MikkoArtik/gstream/internal/gpurig"
)

// Arg is one positional argument passed into a compiled kernel call: an
// int32, a float32, or a device buffer produced by loading an Array.
type Arg struct {
	Int32Value   int32
	Float32Value float32
	Buffer       Buffer
	kind         argKind
}

type argKind int

const (
	argInt32 argKind = iota
	argFloat32
	argBuffer
)

func Int32Arg(v int32) Arg   { return Arg{Int32Value: v, kind: argInt32} }
func Float32Arg(v float32) Arg { return Arg{Float32Value: v, kind: argFloat32} }
func BufferArg(b Buffer) Arg  { return Arg{Buffer: b, kind: argBuffer} }

// Buffer is an opaque handle to data resident on a device, returned by
// CompiledKernel.LoadBuffer and consumed by BufferArg/ReadBuffer.
type Buffer interface {
	// Release frees the device-side allocation. Safe to call more than
	// once; a second call is a no-op.
	Release()
}

// CompiledKernel is a kernel program built for one GPU card, ready to
// have functions invoked on it by name.
type CompiledKernel interface {
	// LoadBuffer copies data onto the device, read-only when isCopy is
	// true (mirrors the original's COPY_HOST_PTR vs WRITE_ONLY split).
	LoadBuffer(ctx context.Context, data []byte, isCopy bool) (Buffer, error)
	// ReadBuffer copies size bytes back off the device into host memory.
	ReadBuffer(ctx context.Context, buf Buffer, size int) ([]byte, error)
	// Call invokes functionName with the given positional arguments.
	Call(ctx context.Context, functionName string, args []Arg) error
}

// KernelRunner compiles kernel source for a specific GPU card. Exactly
// one function a worker process needs: turn source text plus a card
// into something Call-able.
type KernelRunner interface {
	Compile(ctx context.Context, card gpurig.Card, source string) (CompiledKernel, error)
}
