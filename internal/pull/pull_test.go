package pull

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikkoArtik/gstream/internal/apperrors"
	"github.com/MikkoArtik/gstream/internal/model"
)

// fakeStore is an in-memory Store double. Every scenario in spec.md §8
// exercises it directly rather than against a real taskstore.Storage —
// the scheduler's contract is defined purely in terms of Store/FileStore/Rig.
type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]model.TaskState
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]model.TaskState)}
}

func (s *fakeStore) put(state model.TaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[state.TaskID] = state
}

func (s *fakeStore) AllTaskIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeStore) ActiveTaskIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, st := range s.tasks {
		if st.Status == model.StatusRunning {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) GetTaskState(ctx context.Context, taskID string) (model.TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[taskID]
	if !ok {
		return model.TaskState{}, apperrors.NotFound("task not found")
	}
	return st, nil
}

func (s *fakeStore) UpdateTaskState(ctx context.Context, taskID string, state *model.TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return apperrors.NotFound("task not found")
	}
	state.Touch()
	s.tasks[taskID] = *state
	return nil
}

func (s *fakeStore) AddLogMessage(ctx context.Context, taskID, text string) error {
	return nil
}

func (s *fakeStore) RemoveTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

func (s *fakeStore) AllFilenames(ctx context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	for _, st := range s.tasks {
		for _, name := range st.AllFilenames() {
			out[name] = struct{}{}
		}
	}
	return out, nil
}

// fakeFileStore is an in-memory FileStore double.
type fakeFileStore struct {
	mu       sync.Mutex
	files    map[string]time.Time
	removed  []string
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[string]time.Time)}
}

func (f *fakeFileStore) put(name string, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = modTime
}

func (f *fakeFileStore) Root() string { return "/fake" }

func (f *fakeFileStore) AllFilenames() (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{}, len(f.files))
	for name := range f.files {
		out[name] = struct{}{}
	}
	return out, nil
}

func (f *fakeFileStore) IsFileExist(filename string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[filename]
	return ok
}

func (f *fakeFileStore) ModTime(filename string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.files[filename]
	if !ok {
		return time.Time{}, apperrors.NotFound("file not found")
	}
	return t, nil
}

func (f *fakeFileStore) RemoveFile(filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, filename)
	f.removed = append(f.removed, filename)
	return nil
}

func (f *fakeFileStore) RemoveFiles(filenames ...string) error {
	for _, name := range filenames {
		if err := f.RemoveFile(name); err != nil {
			return err
		}
	}
	return nil
}

// fakeRig is a Rig double whose RAM availability is toggled per test.
type fakeRig struct {
	ramAvailable bool
}

func (r *fakeRig) IsAvailableRAMMemory() (bool, error) { return r.ramAvailable, nil }

// fakeProbe is a ProcessProbe double keyed by pid.
type fakeProbe struct {
	mu       sync.Mutex
	statuses map[int]ProcessStatus
	killed   []int
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{statuses: make(map[int]ProcessStatus)}
}

func (p *fakeProbe) Status(pid int) ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.statuses[pid]
	if !ok {
		return ProcessDead
	}
	return st
}

func (p *fakeProbe) Kill(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = append(p.killed, pid)
	p.statuses[pid] = ProcessZombie
	return nil
}

func newTestPull(store *fakeStore, files *fakeFileStore, rig *fakeRig, probe ProcessProbe) *Pull {
	return New(store, files, rig, Config{
		Sleep:    time.Millisecond,
		CPUCores: 4,
		Probe:    probe,
		Spawn:    func(scriptPath string) (int, error) { return 4242, nil },
	})
}

func TestReconcileRemovesOrphanFile(t *testing.T) {
	store := newFakeStore()
	files := newFakeFileStore()
	files.put("orphan.bin", time.Now().Add(-time.Hour))

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	store.put(state)
	files.put(state.InputArgsFilename, time.Now().Add(-time.Hour))

	p := newTestPull(store, files, &fakeRig{}, newFakeProbe())
	p.reconcileCycle(context.Background())

	assert.False(t, files.IsFileExist("orphan.bin"))
	assert.True(t, files.IsFileExist(state.InputArgsFilename))
}

func TestReconcileRespectsGracePeriod(t *testing.T) {
	store := newFakeStore()
	files := newFakeFileStore()
	files.put("fresh.bin", time.Now())

	p := New(store, files, &fakeRig{}, Config{
		FileGraceDuration: time.Hour,
	})
	p.reconcileCycle(context.Background())

	assert.True(t, files.IsFileExist("fresh.bin"), "a file younger than the grace period must not be pruned")
}

func TestKillLoopPIDNegativeOneMarksKilledImmediately(t *testing.T) {
	store := newFakeStore()
	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.IsNeedKill = true
	state.PID = model.NoPID
	store.put(state)

	p := newTestPull(store, newFakeFileStore(), &fakeRig{}, newFakeProbe())
	p.killOne(context.Background(), state.TaskID)

	got, err := store.GetTaskState(context.Background(), state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusKilled, got.Status)
}

func TestKillLoopKillsLiveProcess(t *testing.T) {
	store := newFakeStore()
	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusRunning
	state.IsNeedKill = true
	state.PID = 1234
	store.put(state)

	probe := newFakeProbe()
	probe.statuses[1234] = ProcessRunning

	p := newTestPull(store, newFakeFileStore(), &fakeRig{}, probe)
	p.killOne(context.Background(), state.TaskID)

	assert.Contains(t, probe.killed, 1234)
	got, err := store.GetTaskState(context.Background(), state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusKilled, got.Status)
}

func TestKillLoopSkipsWhenFlagCleared(t *testing.T) {
	store := newFakeStore()
	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusRunning
	state.PID = 1234
	state.IsNeedKill = false
	store.put(state)

	p := newTestPull(store, newFakeFileStore(), &fakeRig{}, newFakeProbe())
	p.killOne(context.Background(), state.TaskID)

	got, err := store.GetTaskState(context.Background(), state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
}

func TestKillLoopDeadProcessMarksKilled(t *testing.T) {
	store := newFakeStore()
	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusRunning
	state.IsNeedKill = true
	state.PID = 9999
	store.put(state)

	p := newTestPull(store, newFakeFileStore(), &fakeRig{}, newFakeProbe()) // no status registered => dead
	p.killOne(context.Background(), state.TaskID)

	got, err := store.GetTaskState(context.Background(), state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusKilled, got.Status)
}

func TestRemoveOneCleansUpAcceptedTask(t *testing.T) {
	store := newFakeStore()
	files := newFakeFileStore()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusFinished
	state.IsAccepted = true
	store.put(state)
	for _, name := range state.AllFilenames() {
		files.put(name, time.Now())
	}

	p := newTestPull(store, files, &fakeRig{}, newFakeProbe())
	p.removeOne(context.Background(), state.TaskID)

	_, err := store.GetTaskState(context.Background(), state.TaskID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	for _, name := range state.AllFilenames() {
		assert.False(t, files.IsFileExist(name))
	}
}

func TestRemoveOneSkipsIfNotAccepted(t *testing.T) {
	store := newFakeStore()
	files := newFakeFileStore()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusFinished
	state.IsAccepted = false
	store.put(state)

	p := newTestPull(store, files, &fakeRig{}, newFakeProbe())
	p.removeOne(context.Background(), state.TaskID)

	_, err := store.GetTaskState(context.Background(), state.TaskID)
	require.NoError(t, err, "task must survive when is_accepted is false")
}

func TestTryLaunchRequiresGlobalAdmission(t *testing.T) {
	store := newFakeStore()
	files := newFakeFileStore()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusReady
	store.put(state)
	files.put(state.InputArgsFilename, time.Now())
	files.put(state.ScriptFilename, time.Now())

	p := New(store, files, &fakeRig{ramAvailable: false}, Config{CPUCores: 4})
	p.tryLaunch(context.Background(), state.TaskID)

	got, err := store.GetTaskState(context.Background(), state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status, "no free RAM must block launch")
}

func TestTryLaunchRequiresArtifactFiles(t *testing.T) {
	store := newFakeStore()
	files := newFakeFileStore()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusReady
	store.put(state)
	// script file missing

	p := New(store, files, &fakeRig{ramAvailable: true}, Config{CPUCores: 4})
	p.tryLaunch(context.Background(), state.TaskID)

	got, err := store.GetTaskState(context.Background(), state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)
}

func TestTryLaunchSpawnsAndSetsRunning(t *testing.T) {
	store := newFakeStore()
	files := newFakeFileStore()

	state := model.NewTaskState("u1", model.TaskTypeDelays)
	state.Status = model.StatusReady
	store.put(state)
	files.put(state.InputArgsFilename, time.Now())
	files.put(state.ScriptFilename, time.Now())

	var spawnedPath string
	p := New(store, files, &fakeRig{ramAvailable: true}, Config{
		CPUCores: 4,
		Spawn: func(scriptPath string) (int, error) {
			spawnedPath = scriptPath
			return 777, nil
		},
	})
	p.tryLaunch(context.Background(), state.TaskID)

	got, err := store.GetTaskState(context.Background(), state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	assert.Equal(t, 777, got.PID)
	assert.Contains(t, spawnedPath, state.ScriptFilename)
}

func TestTryLaunchBlockedAtCPUCoreBudget(t *testing.T) {
	store := newFakeStore()
	files := newFakeFileStore()

	running := model.NewTaskState("u1", model.TaskTypeDelays)
	running.Status = model.StatusRunning
	store.put(running)

	ready := model.NewTaskState("u1", model.TaskTypeDelays)
	ready.Status = model.StatusReady
	store.put(ready)
	files.put(ready.InputArgsFilename, time.Now())
	files.put(ready.ScriptFilename, time.Now())

	p := New(store, files, &fakeRig{ramAvailable: true}, Config{CPUCores: 1})
	p.tryLaunch(context.Background(), ready.TaskID)

	got, err := store.GetTaskState(context.Background(), ready.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status, "active_task_ids already at cpu_cores must block admission")
}

func TestReadyScanCycleEnqueuesByType(t *testing.T) {
	store := newFakeStore()
	files := newFakeFileStore()

	delaysTask := model.NewTaskState("u1", model.TaskTypeDelays)
	delaysTask.Status = model.StatusReady
	store.put(delaysTask)

	locationTask := model.NewTaskState("u1", model.TaskTypeLocation)
	locationTask.Status = model.StatusReady
	store.put(locationTask)

	p := New(store, files, &fakeRig{ramAvailable: true}, Config{CPUCores: 4})
	// Cancel before scanning: readyQueueFor starts a run-loop goroutine
	// per newly discovered type, and an already-canceled context makes
	// that goroutine return before it can pop anything, so the
	// assertions below observe the queue deterministically.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.readyScanCycle(ctx)

	assert.Equal(t, 1, p.readyIndex[model.TaskTypeDelays].len())
	assert.Equal(t, 1, p.readyIndex[model.TaskTypeLocation].len())
}
