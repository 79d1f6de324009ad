package gputask

import (
	"context"

	"github.com/MikkoArtik/gstream/internal/gpurig"
)

// Task binds a compiled kernel to one GPU card and runs one named
// function on it with a fixed argument list.
type Task struct {
	Card   gpurig.Card
	Source string

	kernel CompiledKernel
}

// Prepare compiles Source for Card using runner. Must be called once
// before Run.
func (t *Task) Prepare(ctx context.Context, runner KernelRunner) error {
	kernel, err := runner.Compile(ctx, t.Card, t.Source)
	if err != nil {
		return err
	}
	t.kernel = kernel
	return nil
}

// Run invokes functionName on the compiled kernel with args, which may
// reference *Array values already converted via AsArg.
func (t *Task) Run(ctx context.Context, functionName string, args []Arg) error {
	return t.kernel.Call(ctx, functionName, args)
}

// Kernel returns the compiled kernel, for callers that need to read a
// device buffer back (Array.GetFromGPU) after Run.
func (t *Task) Kernel() CompiledKernel {
	return t.kernel
}
