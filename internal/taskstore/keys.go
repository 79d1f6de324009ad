package taskstore

import "strings"

// Key layout (spec.md §4.2), colon-delimited hierarchical keys:
//
//	User:{user_id}:Task:{task_id}:State
//	User:{user_id}:Task:{task_id}:InputArgumentsFilename
//	User:{user_id}:Task:{task_id}:ScriptFilename
//	User:{user_id}:Task:{task_id}:OutputArgumentsFilename
//	User:{user_id}:Task:{task_id}:InitScriptFilename
//	Log:{task_id}
const (
	fieldState              = "State"
	fieldInputArgsFilename  = "InputArgumentsFilename"
	fieldScriptFilename     = "ScriptFilename"
	fieldOutputArgsFilename = "OutputArgumentsFilename"
	fieldInitScriptFilename = "InitScriptFilename"
)

func stateKey(userID, taskID string) string {
	return "User:" + userID + ":Task:" + taskID + ":" + fieldState
}

func filenameKey(userID, taskID, field string) string {
	return "User:" + userID + ":Task:" + taskID + ":" + field
}

func logKey(taskID string) string {
	return "Log:" + taskID
}

// stateKeyPattern matches the :State key for a task regardless of which
// user owns it — used to look a task up by task_id alone.
func stateKeyPattern(taskID string) string {
	return "User:*:Task:" + taskID + ":" + fieldState
}

// taskKeyPattern matches every key belonging to a task, any field.
func taskKeyPattern(taskID string) string {
	return "User:*:Task:" + taskID + ":*"
}

// userTaskPattern matches every key belonging to any task of a user.
func userTaskPattern(userID string) string {
	return "User:" + userID + ":Task:*"
}

const allTasksPattern = "User:*:Task:*:" + fieldState
const allUsersPattern = "User:*"

// userIDFromKey extracts {user_id} from a "User:{user_id}:Task:..." key.
func userIDFromKey(key string) (string, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "User" {
		return "", false
	}
	return parts[1], true
}

// taskIDFromKey extracts {task_id} from a "User:{user_id}:Task:{task_id}:..." key.
func taskIDFromKey(key string) (string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 || parts[0] != "User" || parts[2] != "Task" {
		return "", false
	}
	return parts[3], true
}
