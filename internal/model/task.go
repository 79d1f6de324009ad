// Package model holds the data types shared by the store, the pull
// scheduler, the worker, and the HTTP surface: task status/type as closed
// tagged variants (per the design's dynamic-dispatch-to-tagged-variants
// note) and the TaskState record itself.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// TaskStatus is the closed set of states a task can occupy. Six values,
// three of them terminal.
type TaskStatus string

const (
	StatusNew      TaskStatus = "new"
	StatusReady    TaskStatus = "ready"
	StatusRunning  TaskStatus = "running"
	StatusFailed   TaskStatus = "failed"
	StatusFinished TaskStatus = "finished"
	StatusKilled   TaskStatus = "killed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusNew, StatusReady, StatusRunning, StatusFailed, StatusFinished, StatusKilled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is one a task cannot leave.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusFinished, StatusKilled:
		return true
	default:
		return false
	}
}

// TaskType is the closed set of GPU kernel kinds a task can request.
type TaskType string

const (
	TaskTypeDelays   TaskType = "delays"
	TaskTypeLocation TaskType = "location"
	TaskTypeFault    TaskType = "fault"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeDelays, TaskTypeLocation, TaskTypeFault:
		return true
	default:
		return false
	}
}

// NoPID is the sentinel PID for a task that has never had a subprocess,
// or whose subprocess has been reaped.
const NoPID = -1

// TaskState is the central task record, serialized under the
// User:{user_id}:Task:{task_id}:State key (spec.md §4.2). UserID and
// TaskID are intentionally excluded from the embedded JSON: they are
// recovered from the store key that names the blob, not from its
// contents — the store is the single source of truth for the key/value
// association.
type TaskState struct {
	UserID string `json:"-"`
	TaskID string `json:"-"`

	Type        TaskType   `json:"type"`
	Status      TaskStatus `json:"status"`
	IsAccepted  bool       `json:"is_accepted"`
	IsNeedKill  bool       `json:"is_need_kill"`
	PID         int        `json:"pid"`
	ModifiedAt  int64      `json:"modified_at"`

	InputArgsFilename  string `json:"input_args_filename"`
	ScriptFilename     string `json:"script_filename"`
	OutputArgsFilename string `json:"output_args_filename"`
	InitScriptFilename string `json:"init_script_filename"`
}

// NewTaskState builds a brand-new record in status=new with freshly
// generated, opaque artifact filenames, mirroring the original's
// default_factory=uuid4().hex fields.
func NewTaskState(userID string, taskType TaskType) TaskState {
	return TaskState{
		UserID:             userID,
		TaskID:             genHex(),
		Type:               taskType,
		Status:             StatusNew,
		PID:                NoPID,
		ModifiedAt:         time.Now().Unix(),
		InputArgsFilename:  genHex(),
		ScriptFilename:     genHex() + ".py",
		OutputArgsFilename: genHex(),
		InitScriptFilename: genHex() + ".py",
	}
}

// Touch refreshes ModifiedAt to the current wall clock. Every store write
// path calls this immediately before serializing, so modified_at is
// monotonic per task_id (spec.md §3 invariant).
func (s *TaskState) Touch() {
	s.ModifiedAt = time.Now().Unix()
}

// Rollback is the worker-initiated transition from running back to ready
// on a retryable resource shortage (spec.md Glossary: Rollback).
func (s *TaskState) Rollback() {
	s.Status = StatusReady
	s.PID = NoPID
}

// AllFilenames returns the full set of filesystem artifacts owned by this
// task (spec.md §3 invariant): input, script, and output. InitScriptFilename
// is reserved by the record but never materialized by any contracted
// operation in this spec, so L1/L6 do not manage it as a live artifact.
func (s TaskState) AllFilenames() [3]string {
	return [3]string{s.InputArgsFilename, s.ScriptFilename, s.OutputArgsFilename}
}

func genHex() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is not something callers should have to
		// recover from at this call site.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
