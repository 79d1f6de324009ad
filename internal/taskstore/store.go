// Package taskstore implements the durable key/value task store (spec.md
// §4.2) on top of Redis. Keys are TTL-bounded; pattern-match scans stand
// in for the original's "KEYS pattern" enumeration, using SCAN so a large
// keyspace never blocks the server on a single call.
package taskstore

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/MikkoArtik/gstream/internal/apperrors"
	"github.com/MikkoArtik/gstream/internal/model"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultTTL is the per-key expiration refreshed implicitly on every
	// explicit state write, per spec.md §3.
	DefaultTTL = 3 * time.Hour

	logTimestampFormat = "2006-01-02 15:04:05"

	scanBatchSize = 200
)

// Storage is the task store client. It is safe for concurrent use; all
// methods take a context so callers (the pull loops in particular) can
// bound how long a single scan/read is allowed to suspend them.
type Storage struct {
	client *redis.Client
	ttl    time.Duration
}

// Config holds the connection parameters read from REDIS_HOST, REDIS_PORT,
// REDIS_PASSWORD, REDIS_DB_INDEX.
type Config struct {
	Host     string
	Port     int
	Password string
	DBIndex  int
	TTL      time.Duration
}

// New opens a Storage connection. The TTL defaults to DefaultTTL when
// Config.TTL is zero.
func New(cfg Config) *Storage {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DBIndex,
	})
	return &Storage{client: client, ttl: ttl}
}

// NewWithClient wraps an already-constructed redis.Client — used by tests
// against miniredis, and by callers that want custom dial options.
func NewWithClient(client *redis.Client, ttl time.Duration) *Storage {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Storage{client: client, ttl: ttl}
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	return s.client.Close()
}

func formatLogLine(text string) string {
	return fmt.Sprintf("[%s] %s\n", time.Now().Format(logTimestampFormat), text)
}

// scanKeys returns every key matching pattern, paging through SCAN so a
// large keyspace never blocks on one round trip.
func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, apperrors.Internal("scanning task store", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// IsTaskExist reports whether any key exists for task_id.
func (s *Storage) IsTaskExist(ctx context.Context, taskID string) (bool, error) {
	keys, err := s.scanKeys(ctx, taskKeyPattern(taskID))
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// findStateKey returns the single :State key for task_id, or a not-found
// error — the pattern is expected to resolve to exactly one key since
// task_id is globally unique within a store lifetime (spec.md §3).
func (s *Storage) findStateKey(ctx context.Context, taskID string) (string, error) {
	keys, err := s.scanKeys(ctx, stateKeyPattern(taskID))
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", apperrors.NotFound(fmt.Sprintf("task %q not found", taskID))
	}
	return keys[0], nil
}

// AddTask writes a brand-new task record. Fails with a conflict if a
// record already exists for TaskID.
func (s *Storage) AddTask(ctx context.Context, state model.TaskState) error {
	exists, err := s.IsTaskExist(ctx, state.TaskID)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.Conflict(fmt.Sprintf("task %q already exists", state.TaskID))
	}

	state.Touch()
	body, err := jsonAPI.Marshal(state)
	if err != nil {
		return apperrors.Internal("marshaling task state", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, stateKey(state.UserID, state.TaskID), body, s.ttl)
	pipe.Set(ctx, filenameKey(state.UserID, state.TaskID, fieldInputArgsFilename), state.InputArgsFilename, s.ttl)
	pipe.Set(ctx, filenameKey(state.UserID, state.TaskID, fieldScriptFilename), state.ScriptFilename, s.ttl)
	pipe.Set(ctx, filenameKey(state.UserID, state.TaskID, fieldOutputArgsFilename), state.OutputArgsFilename, s.ttl)
	pipe.Set(ctx, filenameKey(state.UserID, state.TaskID, fieldInitScriptFilename), state.InitScriptFilename, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Internal("writing task record", err)
	}

	return s.AddLogMessage(ctx, state.TaskID, "Task was created")
}

// GetTaskState reconstructs the full record, recovering UserID/TaskID
// from the matched key rather than from the JSON body.
func (s *Storage) GetTaskState(ctx context.Context, taskID string) (model.TaskState, error) {
	key, err := s.findStateKey(ctx, taskID)
	if err != nil {
		return model.TaskState{}, err
	}

	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return model.TaskState{}, apperrors.Internal("reading task state", err)
	}

	var state model.TaskState
	if err := jsonAPI.UnmarshalFromString(raw, &state); err != nil {
		return model.TaskState{}, apperrors.Internal("unmarshaling task state", err)
	}

	userID, ok := userIDFromKey(key)
	if !ok {
		return model.TaskState{}, apperrors.Internal("malformed state key", fmt.Errorf("key=%s", key))
	}
	state.UserID = userID
	state.TaskID = taskID
	return state, nil
}

// UpdateTaskState overwrites the :State blob. ModifiedAt is refreshed on
// the model itself prior to serialization, per spec.md §4.2.
func (s *Storage) UpdateTaskState(ctx context.Context, taskID string, state *model.TaskState) error {
	key, err := s.findStateKey(ctx, taskID)
	if err != nil {
		return err
	}

	state.Touch()
	body, err := jsonAPI.Marshal(state)
	if err != nil {
		return apperrors.Internal("marshaling task state", err)
	}

	if err := s.client.Set(ctx, key, body, s.ttl).Err(); err != nil {
		return apperrors.Internal("writing task state", err)
	}

	return s.AddLogMessage(ctx, taskID, "Task state was updated")
}

// AddLogMessage appends a formatted line to the task's log, creating it
// (with TTL) on first write.
func (s *Storage) AddLogMessage(ctx context.Context, taskID, text string) error {
	key := logKey(taskID)
	line := formatLogLine(text)

	existed, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return apperrors.Internal("checking log existence", err)
	}

	if existed == 0 {
		if err := s.client.Set(ctx, key, line, s.ttl).Err(); err != nil {
			return apperrors.Internal("creating log", err)
		}
		return nil
	}

	if err := s.client.Append(ctx, key, line).Err(); err != nil {
		return apperrors.Internal("appending log", err)
	}
	return nil
}

const logNotFoundText = "Log not found"

// GetLog returns the stored log text, or the literal "Log not found".
func (s *Storage) GetLog(ctx context.Context, taskID string) (string, error) {
	text, err := s.client.Get(ctx, logKey(taskID)).Result()
	if err == redis.Nil {
		return logNotFoundText, nil
	}
	if err != nil {
		return "", apperrors.Internal("reading log", err)
	}
	return text, nil
}

// RemoveTask deletes the :State key and the log. Other per-task keys
// (filename pointers) are left to expire under TTL, per spec.md §4.2.
func (s *Storage) RemoveTask(ctx context.Context, taskID string) error {
	key, err := s.findStateKey(ctx, taskID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil
		}
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, logKey(taskID))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return apperrors.Internal("removing task", err)
	}
	return nil
}

// AllTaskIDs enumerates every task_id with a live :State key.
func (s *Storage) AllTaskIDs(ctx context.Context) ([]string, error) {
	keys, err := s.scanKeys(ctx, allTasksPattern)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := taskIDFromKey(key); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ActiveTaskIDs enumerates task_ids currently in status=running.
func (s *Storage) ActiveTaskIDs(ctx context.Context) ([]string, error) {
	ids, err := s.AllTaskIDs(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]string, 0, len(ids))
	for _, id := range ids {
		state, err := s.GetTaskState(ctx, id)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		if state.Status == model.StatusRunning {
			active = append(active, id)
		}
	}
	return active, nil
}

// GetUserTaskIDs enumerates every task_id owned by user_id.
func (s *Storage) GetUserTaskIDs(ctx context.Context, userID string) ([]string, error) {
	keys, err := s.scanKeys(ctx, userTaskPattern(userID))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id, ok := taskIDFromKey(key)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// AllFilenames returns the union of artifact filenames across every task
// currently known to the store.
func (s *Storage) AllFilenames(ctx context.Context) (map[string]struct{}, error) {
	ids, err := s.AllTaskIDs(ctx)
	if err != nil {
		return nil, err
	}
	filenames := make(map[string]struct{})
	for _, id := range ids {
		state, err := s.GetTaskState(ctx, id)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		for _, name := range state.AllFilenames() {
			filenames[name] = struct{}{}
		}
	}
	return filenames, nil
}

// ActiveUsers enumerates every distinct user_id with at least one key.
func (s *Storage) ActiveUsers(ctx context.Context) ([]string, error) {
	keys, err := s.scanKeys(ctx, allUsersPattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	users := make([]string, 0, len(keys))
	for _, key := range keys {
		id, ok := userIDFromKey(key)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}
	return users, nil
}
