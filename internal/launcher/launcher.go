// Package launcher generates the opaque, per-task-type launcher scripts
// the pull scheduler execs to start a worker subprocess (spec.md §6).
// Grounded on gstream/files/scripts.py's BaseRunnerScriptFile /
// DelaysRunnerScriptFile: a fixed template with a "[task-id]" token
// substituted at /load-args time, written once to script_filename.
package launcher

import (
	"strings"

	"github.com/MikkoArtik/gstream/internal/model"
)

const taskIDToken = "[task-id]"

// templates maps every task type with a known launcher script body.
// See materializableAtLoadArgs for which of these /load-args is
// actually allowed to render.
var templates = map[model.TaskType]string{
	model.TaskTypeDelays:   delaysScriptTemplate,
	model.TaskTypeLocation: locationScriptTemplate,
	model.TaskTypeFault:    faultScriptTemplate,
}

// materializableAtLoadArgs is the subset of templates /load-args is
// actually allowed to render. Per spec.md §9's Open Question, only
// `delays` reaches `ready` through the HTTP surface; `location` and
// `fault` keep templates here for a future integration, but HasTemplate
// must report false for them so those tasks wait forever, unchanged.
var materializableAtLoadArgs = map[model.TaskType]bool{
	model.TaskTypeDelays: true,
}

const delaysScriptTemplate = `#!/bin/sh
# Auto-generated by gstream at /load-args time. Opaque to the pull
# scheduler: it is exec'd as a detached subprocess and nothing more.
exec ./worker -task-type=delays -task-id=` + taskIDToken + `
`

const locationScriptTemplate = `#!/bin/sh
exec ./worker -task-type=location -task-id=` + taskIDToken + `
`

const faultScriptTemplate = `#!/bin/sh
exec ./worker -task-type=fault -task-id=` + taskIDToken + `
`

// HasTemplate reports whether taskType's launcher script may be
// materialized at /load-args time — the gate /load-args uses to decide
// whether to render and save script_filename at all. This is narrower
// than "taskType has a template body" (see materializableAtLoadArgs).
func HasTemplate(taskType model.TaskType) bool {
	return materializableAtLoadArgs[taskType]
}

// Render substitutes taskID into taskType's template body. It knows
// every template in templates, including location/fault's inert ones —
// HasTemplate is the narrower /load-args gate, not a precondition for
// Render succeeding. Render on a type with no template body at all
// returns an error.
func Render(taskType model.TaskType, taskID string) (string, error) {
	tmpl, ok := templates[taskType]
	if !ok {
		return "", errUnknownTemplate(taskType)
	}
	return strings.ReplaceAll(tmpl, taskIDToken, taskID), nil
}

type errUnknownTemplate model.TaskType

func (e errUnknownTemplate) Error() string {
	return "no launcher script template for task type " + string(e)
}
