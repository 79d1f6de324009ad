package gputask

import (
	"context"
	"fmt"
)

// Array wraps a byte-encoded numeric array with enough state to track
// its device-residency lifecycle: unloaded, loaded (with a live Buffer),
// released. IsCopy mirrors the original's read-only-vs-write-only split:
// a copy array carries host data onto the device for a kernel to read,
// a non-copy array is allocated write-only for a kernel to fill.
type Array struct {
	Data   []byte
	IsCopy bool

	buffer Buffer
}

// BytesSize is the size, in bytes, this array will occupy on the device.
func (a *Array) BytesSize() int {
	return len(a.Data)
}

// LoadToGPU materializes the array on the device via kernel, idempotent
// once a buffer is already loaded.
func (a *Array) LoadToGPU(ctx context.Context, kernel CompiledKernel) error {
	if a.buffer != nil {
		return nil
	}
	buf, err := kernel.LoadBuffer(ctx, a.Data, a.IsCopy)
	if err != nil {
		return err
	}
	a.buffer = buf
	return nil
}

// GetFromGPU reads the array's current device contents back to host
// memory. Returns nil if the array was never loaded.
func (a *Array) GetFromGPU(ctx context.Context, kernel CompiledKernel) ([]byte, error) {
	if a.buffer == nil {
		return nil, nil
	}
	data, err := kernel.ReadBuffer(ctx, a.buffer, len(a.Data))
	if err != nil {
		return nil, fmt.Errorf("reading array from device: %w", err)
	}
	a.Data = data
	return data, nil
}

// Release frees the device buffer, if any. Safe to call repeatedly or
// on a never-loaded array.
func (a *Array) Release() {
	if a.buffer == nil {
		return
	}
	a.buffer.Release()
	a.buffer = nil
}

// AsArg converts the array to a kernel call argument, loading it onto
// the device first if that hasn't happened yet.
func (a *Array) AsArg(ctx context.Context, kernel CompiledKernel) (Arg, error) {
	if err := a.LoadToGPU(ctx, kernel); err != nil {
		return Arg{}, err
	}
	return BufferArg(a.buffer), nil
}
