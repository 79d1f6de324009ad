// Package pull implements the task-pull scheduler (C7, spec.md §4.7):
// six cooperating long-running loops plus one run loop per discovered
// task type, sharing three in-memory pending sets and backed by the
// task store and file store as the source of truth. Grounded on
// gstream/worker/task_pull.py's anyio.create_task_group fan-out: here
// each loop is a goroutine under a shared context.Context, and buffered
// Go queues stand in for asyncio.Queue.
package pull

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MikkoArtik/gstream/internal/apperrors"
	"github.com/MikkoArtik/gstream/internal/gpurig"
	"github.com/MikkoArtik/gstream/internal/model"
)

// DefaultSleep is the fixed poll cadence every loop sleeps for between
// cycles (spec.md §4.7's SLEEP), overridable via Config.Sleep.
const DefaultSleep = 10 * time.Second

// Store is the slice of the task store the scheduler depends on.
type Store interface {
	AllTaskIDs(ctx context.Context) ([]string, error)
	ActiveTaskIDs(ctx context.Context) ([]string, error)
	GetTaskState(ctx context.Context, taskID string) (model.TaskState, error)
	UpdateTaskState(ctx context.Context, taskID string, state *model.TaskState) error
	AddLogMessage(ctx context.Context, taskID, text string) error
	RemoveTask(ctx context.Context, taskID string) error
	AllFilenames(ctx context.Context) (map[string]struct{}, error)
}

// FileStore is the slice of the file store the scheduler depends on.
type FileStore interface {
	Root() string
	AllFilenames() (map[string]struct{}, error)
	IsFileExist(filename string) bool
	ModTime(filename string) (time.Time, error)
	RemoveFile(filename string) error
	RemoveFiles(filenames ...string) error
}

// Rig is the slice of the GPU rig the scheduler depends on for the
// global admission gate.
type Rig interface {
	IsAvailableRAMMemory() (bool, error)
}

// Spawner launches a task's launcher script as a detached subprocess
// and returns its pid. The default implementation execs the script file
// directly — spec.md §6 treats it as an opaque executable, not a
// source file interpreted by some fixed runtime.
type Spawner func(scriptPath string) (pid int, err error)

// DefaultSpawn execs scriptPath detached from the pull's own process
// group, reaping it in the background so it never accumulates as a
// zombie under the pull itself (the pull only ever observes its pid
// through the task store, per spec.md §5).
func DefaultSpawn(scriptPath string) (int, error) {
	cmd := exec.Command(scriptPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// Config configures a Pull. CPUCores and Sleep default to
// gpurig.CPUCoresCount() and DefaultSleep when zero.
type Config struct {
	Sleep            time.Duration
	CPUCores         int
	FileGraceDuration time.Duration
	Probe            ProcessProbe
	Spawn            Spawner
}

// Pull is the scheduler: six always-on loops plus one run loop per
// task type discovered in ready_index. Construct with New and start
// with Run; Run blocks until ctx is canceled.
type Pull struct {
	store Store
	files FileStore
	rig   Rig

	sleep       time.Duration
	cpuCores    int
	grace       time.Duration
	probe       ProcessProbe
	spawn       Spawner

	killQueue     *idQueue
	acceptedQueue *idQueue

	readyMu      sync.Mutex
	readyIndex   map[model.TaskType]*idQueue
	runningTypes map[model.TaskType]bool
}

// New constructs a Pull. store/files/rig are required; cfg fields left
// zero take their documented defaults.
func New(store Store, files FileStore, rig Rig, cfg Config) *Pull {
	sleep := cfg.Sleep
	if sleep == 0 {
		sleep = DefaultSleep
	}
	probe := cfg.Probe
	if probe == nil {
		probe = OSProcessProbe{}
	}
	spawn := cfg.Spawn
	if spawn == nil {
		spawn = DefaultSpawn
	}
	cpuCores := cfg.CPUCores
	if cpuCores == 0 {
		cpuCores = gpurig.CPUCoresCount()
	}
	return &Pull{
		store:         store,
		files:         files,
		rig:           rig,
		sleep:         sleep,
		cpuCores:      cpuCores,
		grace:         cfg.FileGraceDuration,
		probe:         probe,
		spawn:         spawn,
		killQueue:     newIDQueue(),
		acceptedQueue: newIDQueue(),
		readyIndex:    make(map[model.TaskType]*idQueue),
		runningTypes:  make(map[model.TaskType]bool),
	}
}

// Run starts all six loops plus the dynamic per-type run-loop manager
// and blocks until ctx is canceled. In-flight subprocesses are not
// killed on shutdown (spec.md §4.7 Cancellation) — TTL expiry plus the
// next process's L1 cycle reclaim any orphaned artifacts.
func (p *Pull) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []func(context.Context){
		p.reconcileLoop,
		p.killScanLoop,
		p.readyScanLoop,
		p.acceptedScanLoop,
		p.killLoop,
		p.removeLoop,
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(loop)
	}
	wg.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (p *Pull) loopForever(ctx context.Context, cycle func(context.Context)) {
	for {
		if ctx.Err() != nil {
			return
		}
		cycle(ctx)
		sleepCtx(ctx, p.sleep)
		if ctx.Err() != nil {
			return
		}
	}
}

// --- L1: reconcile file store with task store ---

func (p *Pull) reconcileLoop(ctx context.Context) {
	p.loopForever(ctx, p.reconcileCycle)
}

func (p *Pull) reconcileCycle(ctx context.Context) {
	fileNames, err := p.files.AllFilenames()
	if err != nil {
		log.Error().Err(err).Msg("L1: failed to list file store")
		return
	}
	known, err := p.store.AllFilenames(ctx)
	if err != nil {
		log.Error().Err(err).Msg("L1: failed to list task store filenames")
		return
	}

	for name := range fileNames {
		if _, ok := known[name]; ok {
			continue
		}
		if p.grace > 0 {
			modTime, err := p.files.ModTime(name)
			if err == nil && time.Since(modTime) < p.grace {
				continue
			}
		}
		if err := p.files.RemoveFile(name); err != nil {
			log.Error().Err(err).Str("filename", name).Msg("L1: failed to remove orphan file")
		}
	}
}

// --- L2: scan for kill intents ---

func (p *Pull) killScanLoop(ctx context.Context) {
	p.loopForever(ctx, p.killScanCycle)
}

func (p *Pull) killScanCycle(ctx context.Context) {
	ids, err := p.store.AllTaskIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("L2: failed to list task ids")
		return
	}
	for _, id := range ids {
		state, err := p.store.GetTaskState(ctx, id)
		if err != nil {
			continue
		}
		if state.Status == model.StatusKilled {
			continue
		}
		if state.IsNeedKill {
			p.killQueue.push(id)
		}
	}
}

// --- L3: scan for ready tasks ---

func (p *Pull) readyScanLoop(ctx context.Context) {
	p.loopForever(ctx, p.readyScanCycle)
}

func (p *Pull) readyScanCycle(ctx context.Context) {
	ids, err := p.store.AllTaskIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("L3: failed to list task ids")
		return
	}
	for _, id := range ids {
		state, err := p.store.GetTaskState(ctx, id)
		if err != nil {
			continue
		}
		if state.Status != model.StatusReady {
			continue
		}
		p.readyQueueFor(ctx, state.Type).push(id)
	}
}

// readyQueueFor returns the per-type ready queue, creating it (and
// starting its run loop) the first time taskType is observed — the Go
// realization of "For each discovered task type, run an independent
// loop" (spec.md §4.7 L7).
func (p *Pull) readyQueueFor(ctx context.Context, taskType model.TaskType) *idQueue {
	p.readyMu.Lock()
	q, ok := p.readyIndex[taskType]
	if !ok {
		q = newIDQueue()
		p.readyIndex[taskType] = q
	}
	alreadyRunning := p.runningTypes[taskType]
	if !alreadyRunning {
		p.runningTypes[taskType] = true
	}
	p.readyMu.Unlock()

	if !alreadyRunning {
		go p.runLoop(ctx, taskType, q)
	}
	return q
}

// --- L4: scan for accepted tasks ---

func (p *Pull) acceptedScanLoop(ctx context.Context) {
	p.loopForever(ctx, p.acceptedScanCycle)
}

func (p *Pull) acceptedScanCycle(ctx context.Context) {
	ids, err := p.store.AllTaskIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("L4: failed to list task ids")
		return
	}
	for _, id := range ids {
		state, err := p.store.GetTaskState(ctx, id)
		if err != nil {
			continue
		}
		if state.IsAccepted {
			p.acceptedQueue.push(id)
		}
	}
}

// --- L5: kill loop ---

func (p *Pull) killLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok := p.killQueue.pop()
		if !ok {
			sleepCtx(ctx, p.sleep)
			continue
		}
		p.killOne(ctx, id)
		sleepCtx(ctx, p.sleep)
	}
}

func (p *Pull) killOne(ctx context.Context, taskID string) {
	state, err := p.store.GetTaskState(ctx, taskID)
	if err != nil {
		if !apperrors.Is(err, apperrors.KindNotFound) {
			log.Error().Err(err).Str("task_id", taskID).Msg("L5: failed to read task state")
		}
		return
	}
	if !state.IsNeedKill {
		return
	}

	if state.PID == model.NoPID {
		p.markKilled(ctx, taskID, &state)
		return
	}

	status := p.probe.Status(state.PID)
	if status == ProcessDead {
		p.markKilled(ctx, taskID, &state)
		return
	}

	if status == ProcessRunning {
		if err := p.probe.Kill(state.PID); err != nil {
			log.Error().Err(err).Str("task_id", taskID).Int("pid", state.PID).Msg("L5: failed to signal process")
		}
		status = p.probe.Status(state.PID)
	}

	if status == ProcessZombie {
		p.markKilled(ctx, taskID, &state)
	}
}

func (p *Pull) markKilled(ctx context.Context, taskID string, state *model.TaskState) {
	state.Status = model.StatusKilled
	if err := p.store.UpdateTaskState(ctx, taskID, state); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("L5: failed to write killed state")
		return
	}
	if err := p.store.AddLogMessage(ctx, taskID, "Task was killed"); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("L5: failed to append kill log")
	}
}

// --- L6: remove accepted ---

func (p *Pull) removeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok := p.acceptedQueue.pop()
		if !ok {
			sleepCtx(ctx, p.sleep)
			continue
		}
		p.removeOne(ctx, id)
		sleepCtx(ctx, p.sleep)
	}
}

func (p *Pull) removeOne(ctx context.Context, taskID string) {
	state, err := p.store.GetTaskState(ctx, taskID)
	if err != nil {
		if !apperrors.Is(err, apperrors.KindNotFound) {
			log.Error().Err(err).Str("task_id", taskID).Msg("L6: failed to read task state")
		}
		return
	}
	if !state.IsAccepted {
		return
	}

	if err := p.store.RemoveTask(ctx, taskID); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("L6: failed to remove task record")
		return
	}
	filenames := state.AllFilenames()
	if err := p.files.RemoveFiles(filenames[:]...); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("L6: failed to remove task files")
	}
}

// --- L7: run loop, one per discovered task type ---

func (p *Pull) runLoop(ctx context.Context, taskType model.TaskType, queue *idQueue) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok := queue.pop()
		if !ok {
			sleepCtx(ctx, p.sleep)
			continue
		}
		p.tryLaunch(ctx, id)
		sleepCtx(ctx, p.sleep)
	}
}

func (p *Pull) canAdmitGlobally(ctx context.Context) bool {
	active, err := p.store.ActiveTaskIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("L7: failed to count active tasks")
		return false
	}
	cores := p.cpuCores
	if cores <= 0 {
		cores = 1
	}
	if len(active) >= cores {
		return false
	}

	ramOK, err := p.rig.IsAvailableRAMMemory()
	if err != nil {
		log.Error().Err(err).Msg("L7: failed to read host RAM info")
		return false
	}
	return ramOK
}

// tryLaunch re-validates every admission precondition — global CPU/RAM
// budget, task existence and status, artifact presence — before
// spawning, since the scan that enqueued id was only an observation
// (spec.md §5: re-read-before-mutate discipline).
func (p *Pull) tryLaunch(ctx context.Context, taskID string) {
	if !p.canAdmitGlobally(ctx) {
		return
	}

	state, err := p.store.GetTaskState(ctx, taskID)
	if err != nil {
		return
	}
	if state.Status != model.StatusReady {
		return
	}
	if !p.files.IsFileExist(state.InputArgsFilename) {
		return
	}
	if !p.files.IsFileExist(state.ScriptFilename) {
		return
	}

	scriptPath := filepath.Join(p.files.Root(), state.ScriptFilename)
	pid, err := p.spawn(scriptPath)
	if err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("L7: failed to launch task script")
		return
	}

	state.PID = pid
	state.Status = model.StatusRunning
	if err := p.store.UpdateTaskState(ctx, taskID, &state); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("L7: failed to write running state")
	}
}
