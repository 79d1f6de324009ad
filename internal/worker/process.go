package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/MikkoArtik/gstream/internal/apperrors"
	"github.com/MikkoArtik/gstream/internal/filestore"
	"github.com/MikkoArtik/gstream/internal/gpurig"
	"github.com/MikkoArtik/gstream/internal/gputask"
	"github.com/MikkoArtik/gstream/internal/model"
	"github.com/MikkoArtik/gstream/internal/taskstore"
)

// ErrTaskNotReady is raised when Run is invoked on a task that is not
// currently admissible: wrong status, or a missing input/script file.
var ErrTaskNotReady = errors.New("task is not ready for running")

// errNoFreeRAM and gpurig.ErrNoFreeGPUCard are the two resource-exhaustion
// signals that map to rollback rather than failure (spec.md §4.6 step 4).
var errNoFreeRAM = errors.New("no free RAM available")

// Process drives one task through the full C6 lifecycle. One Process is
// constructed per subprocess invocation (cmd/worker), scoped to a single
// task_id.
type Process struct {
	TaskID string

	Store  *taskstore.Storage
	Files  *filestore.Storage
	Rig    *gpurig.Rig
	Runner gputask.KernelRunner
	Proc   Processor
}

// isReadyForRunning implements step 1 of spec.md §4.6: status=ready and
// both input and script files present.
func (p *Process) isReadyForRunning(ctx context.Context) (model.TaskState, error) {
	state, err := p.Store.GetTaskState(ctx, p.TaskID)
	if err != nil {
		return model.TaskState{}, err
	}
	if state.Status != model.StatusReady {
		return state, ErrTaskNotReady
	}
	if !p.Files.IsFileExist(state.InputArgsFilename) {
		return state, ErrTaskNotReady
	}
	if !p.Files.IsFileExist(state.ScriptFilename) {
		return state, ErrTaskNotReady
	}
	return state, nil
}

func (p *Process) logMessage(ctx context.Context, text string) {
	if err := p.Store.AddLogMessage(ctx, p.TaskID, text); err != nil {
		log.Error().Err(err).Str("task_id", p.TaskID).Msg("failed to append task log")
	}
}

// rollback implements the running→ready transition on a retryable
// resource shortage (Glossary: Rollback).
func (p *Process) rollback(ctx context.Context) {
	state, err := p.Store.GetTaskState(ctx, p.TaskID)
	if err != nil {
		log.Error().Err(err).Str("task_id", p.TaskID).Msg("rollback: failed to read task state")
		return
	}
	state.Rollback()
	if err := p.Store.UpdateTaskState(ctx, p.TaskID, &state); err != nil {
		log.Error().Err(err).Str("task_id", p.TaskID).Msg("rollback: failed to write task state")
	}
}

// fail marks the task failed, logging the cause.
func (p *Process) fail(ctx context.Context, cause error) {
	p.logMessage(ctx, fmt.Sprintf("Error in task with id %s: exception %s", p.TaskID, cause))

	state, err := p.Store.GetTaskState(ctx, p.TaskID)
	if err != nil {
		log.Error().Err(err).Str("task_id", p.TaskID).Msg("fail: could not read task state")
		return
	}
	state.Status = model.StatusFailed
	if err := p.Store.UpdateTaskState(ctx, p.TaskID, &state); err != nil {
		log.Error().Err(err).Str("task_id", p.TaskID).Msg("fail: could not write task state")
	}
}

// finalize implements step 7: success iff the output file materialized.
func (p *Process) finalize(ctx context.Context) {
	state, err := p.Store.GetTaskState(ctx, p.TaskID)
	if err != nil {
		log.Error().Err(err).Str("task_id", p.TaskID).Msg("finalize: could not read task state")
		return
	}

	if p.Files.IsFileExist(state.OutputArgsFilename) {
		state.Status = model.StatusFinished
		p.logMessage(ctx, "Task successfully completed")
	} else {
		state.Status = model.StatusFailed
		p.logMessage(ctx, "Failed task processing")
	}

	if err := p.Store.UpdateTaskState(ctx, p.TaskID, &state); err != nil {
		log.Error().Err(err).Str("task_id", p.TaskID).Msg("finalize: could not write task state")
		return
	}
	p.logMessage(ctx, "Task was closed")
}

// Run executes the full lifecycle. It never returns the underlying
// kernel/codec error to the caller: every failure path is recorded on
// the task's own log and state, matching the pull's "never surfaces
// errors" contract for everything downstream of launch.
func (p *Process) Run(ctx context.Context) error {
	state, err := p.isReadyForRunning(ctx)
	if err != nil {
		return err
	}

	p.logMessage(ctx, "Task running...")

	if err := p.runKernel(ctx, state); err != nil {
		if errors.Is(err, errNoFreeRAM) {
			p.logMessage(ctx, "RAM is busy now. Process not run now but will run later")
			p.rollback(ctx)
			return nil
		}
		var noFreeGPU *gpurig.ErrNoFreeGPUCard
		if errors.As(err, &noFreeGPU) {
			p.logMessage(ctx, "All GPU cards are busy now. Process not run now but will run later")
			p.rollback(ctx)
			return nil
		}
		p.fail(ctx, err)
		return nil
	}

	p.finalize(ctx)
	return nil
}

func (p *Process) runKernel(ctx context.Context, state model.TaskState) error {
	input, err := p.Files.GetBinaryDataFromFile(state.InputArgsFilename)
	if err != nil {
		return err
	}

	bundle, err := p.Proc.PrepareArgs(ctx, input)
	if err != nil {
		return apperrors.CodecErr(fmt.Sprintf("preparing args: %s", err))
	}
	defer func() {
		for _, arr := range bundle.DeviceArrays {
			arr.Release()
		}
	}()

	ramInfo, err := p.Rig.RAMMemoryInfo()
	if err != nil {
		return err
	}
	if ramInfo.PermittedVolume() < bundle.ByteSize {
		return errNoFreeRAM
	}

	card, err := p.Rig.GetFreeGPUCard(bundle.ByteSize)
	if err != nil {
		return err
	}

	p.logMessage(ctx, "Found free GPUCard")
	p.logMessage(ctx, "Creating GPU task...")

	task := &gputask.Task{Card: card, Source: p.Proc.KernelSource()}
	if err := task.Prepare(ctx, p.Runner); err != nil {
		return err
	}
	p.logMessage(ctx, "GPU task was created")

	args := make([]gputask.Arg, 0, len(bundle.Specs))
	for _, spec := range bundle.Specs {
		if spec.Scalar != nil {
			args = append(args, *spec.Scalar)
			continue
		}
		arg, err := spec.Array.AsArg(ctx, task.Kernel())
		if err != nil {
			return err
		}
		args = append(args, arg)
	}

	p.logMessage(ctx, "Running kernel...")
	if err := task.Run(ctx, p.Proc.FunctionName(), args); err != nil {
		return err
	}

	raw, err := bundle.Result.GetFromGPU(ctx, task.Kernel())
	if err != nil {
		return err
	}
	p.logMessage(ctx, "Result array was extracted successfully")

	resultBytes, err := p.Proc.PostProcess(raw)
	if err != nil {
		return apperrors.CodecErr(fmt.Sprintf("post-processing result: %s", err))
	}

	if err := p.Files.SaveBinaryData(state.OutputArgsFilename, resultBytes); err != nil {
		return err
	}

	return nil
}
