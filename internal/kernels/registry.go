package kernels

import (
	"fmt"

	"github.com/MikkoArtik/gstream/internal/model"
	"github.com/MikkoArtik/gstream/internal/worker"
)

// NewProcessor builds a fresh worker.Processor for taskType. A fresh
// instance per task mirrors the original's DelaysFinder(task_id=...)
// construction: kernel args and intermediate results are per-task state,
// never shared across concurrent worker invocations.
func NewProcessor(taskType model.TaskType) (worker.Processor, error) {
	switch taskType {
	case model.TaskTypeDelays:
		return NewDelaysFinder(), nil
	case model.TaskTypeLocation:
		return NewLocationSolver(), nil
	case model.TaskTypeFault:
		return NewFaultClassifier(), nil
	default:
		return nil, fmt.Errorf("no kernel registered for task type %q", taskType)
	}
}
