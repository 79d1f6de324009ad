package worker

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikkoArtik/gstream/internal/filestore"
	"github.com/MikkoArtik/gstream/internal/gpurig"
	"github.com/MikkoArtik/gstream/internal/gputask"
	"github.com/MikkoArtik/gstream/internal/model"
	"github.com/MikkoArtik/gstream/internal/taskstore"
)

// fakeProcessor is a Processor double whose PrepareArgs behavior is
// injected per test: the worker lifecycle (ready check, logging,
// rollback-vs-fail branching, finalize) is what's under test here, not
// any particular kernel's argument marshaling (that's internal/kernels'
// tests and gputask's own tests).
type fakeProcessor struct {
	byteSize     int64
	prepareErr   error
	postProcFail bool
}

func (f *fakeProcessor) KernelSource() string { return "__fake_source__" }
func (f *fakeProcessor) FunctionName() string { return "fake_fn" }

func (f *fakeProcessor) PrepareArgs(ctx context.Context, input []byte) (ArgsBundle, error) {
	if f.prepareErr != nil {
		return ArgsBundle{}, f.prepareErr
	}
	return ArgsBundle{ByteSize: f.byteSize}, nil
}

func (f *fakeProcessor) PostProcess(raw []byte) ([]byte, error) {
	if f.postProcFail {
		return nil, errors.New("post-process failed")
	}
	return raw, nil
}

func newTestProcess(t *testing.T, proc Processor) (*Process, *filestore.Storage) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := taskstore.NewWithClient(client, taskstore.DefaultTTL)

	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	return &Process{
		Store:  store,
		Files:  files,
		Rig:    gpurig.New(),
		Runner: gputask.UnavailableRunner{},
		Proc:   proc,
	}, files
}

func TestRunFailsWhenTaskNotReady(t *testing.T) {
	p, _ := newTestProcess(t, &fakeProcessor{})
	ctx := context.Background()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusNew
	require.NoError(t, p.Store.AddTask(ctx, state))
	p.TaskID = state.TaskID

	err := p.Run(ctx)
	assert.ErrorIs(t, err, ErrTaskNotReady)
}

func TestRunFailsWhenInputFileMissing(t *testing.T) {
	p, files := newTestProcess(t, &fakeProcessor{})
	ctx := context.Background()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusReady
	require.NoError(t, p.Store.AddTask(ctx, state))
	p.TaskID = state.TaskID
	// script file present, input missing -> still not ready
	require.NoError(t, files.SaveBinaryData(state.ScriptFilename, []byte("x")))

	err := p.Run(ctx)
	assert.ErrorIs(t, err, ErrTaskNotReady)
}

func TestRunRollsBackOnNoFreeRAM(t *testing.T) {
	p, files := newTestProcess(t, &fakeProcessor{byteSize: math.MaxInt64 / 2})
	ctx := context.Background()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusReady
	require.NoError(t, p.Store.AddTask(ctx, state))
	p.TaskID = state.TaskID
	require.NoError(t, files.SaveBinaryData(state.InputArgsFilename, []byte("x")))
	require.NoError(t, files.SaveBinaryData(state.ScriptFilename, []byte("x")))

	require.NoError(t, p.Run(ctx))

	got, err := p.Store.GetTaskState(ctx, state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status, "rollback must restore ready")
	assert.Equal(t, model.NoPID, got.PID)
}

func TestRunFailsOnPrepareArgsCodecError(t *testing.T) {
	p, files := newTestProcess(t, &fakeProcessor{prepareErr: errors.New("truncated envelope")})
	ctx := context.Background()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusReady
	require.NoError(t, p.Store.AddTask(ctx, state))
	p.TaskID = state.TaskID
	require.NoError(t, files.SaveBinaryData(state.InputArgsFilename, []byte("x")))
	require.NoError(t, files.SaveBinaryData(state.ScriptFilename, []byte("x")))

	require.NoError(t, p.Run(ctx))

	got, err := p.Store.GetTaskState(ctx, state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
}

func TestRunRollsBackOnNoFreeGPU(t *testing.T) {
	// This sandbox has no nvidia-smi, so a small byte size clears the
	// RAM gate and then GetFreeGPUCard deterministically finds no cards.
	p, files := newTestProcess(t, &fakeProcessor{byteSize: 16})
	ctx := context.Background()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusReady
	require.NoError(t, p.Store.AddTask(ctx, state))
	p.TaskID = state.TaskID
	require.NoError(t, files.SaveBinaryData(state.InputArgsFilename, []byte("x")))
	require.NoError(t, files.SaveBinaryData(state.ScriptFilename, []byte("x")))

	require.NoError(t, p.Run(ctx))

	got, err := p.Store.GetTaskState(ctx, state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)
	assert.Equal(t, model.NoPID, got.PID)
}
