package gputask

import (
	"context"
	"errors"

	"github.com/MikkoArtik/gstream/internal/gpurig"
)

// ErrRunnerUnavailable is returned by UnavailableRunner.Compile. It is
// deliberately NOT a gpurig.ErrNoFreeGPUCard: a missing OpenCL/CUDA
// binding is a deployment defect, not a transient resource shortage, so
// worker.Process.runKernel must not treat it as rollback-eligible.
var ErrRunnerUnavailable = errors.New("no OpenCL/CUDA kernel runner wired into this binary")

// UnavailableRunner is the KernelRunner cmd/worker falls back to when no
// real GPU binding has been compiled in (spec.md §1: kernel-execution
// mechanics are out of scope; this environment has no OpenCL toolchain
// to vendor). Swap in a real implementation (e.g. a cgo OpenCL binding)
// by constructing worker.Process with a different Runner — everything
// upstream of KernelRunner (admission, arg marshaling, result
// post-processing) is already wired. The in-package fake runner used by
// this package's tests covers Array load/read/release and Task.Run;
// worker and kernels tests cover admission and post-processing without
// a runner that can compile.
type UnavailableRunner struct{}

func (UnavailableRunner) Compile(ctx context.Context, card gpurig.Card, source string) (CompiledKernel, error) {
	return nil, ErrRunnerUnavailable
}
