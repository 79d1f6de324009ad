// Package httpapi implements the thin HTTP surface (C8, spec.md §6):
// nine routes mounted under /background, each a precondition check plus
// a store/file-store call and nothing more. Grounded on
// background_app/routers/task.py + checkers.py; routed with
// github.com/gorilla/mux, the pack's attested router.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/MikkoArtik/gstream/internal/apperrors"
	"github.com/MikkoArtik/gstream/internal/launcher"
	"github.com/MikkoArtik/gstream/internal/model"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the slice of the task store the HTTP surface depends on.
type Store interface {
	AddTask(ctx context.Context, state model.TaskState) error
	GetTaskState(ctx context.Context, taskID string) (model.TaskState, error)
	UpdateTaskState(ctx context.Context, taskID string, state *model.TaskState) error
	AddLogMessage(ctx context.Context, taskID, text string) error
	GetLog(ctx context.Context, taskID string) (string, error)
	GetUserTaskIDs(ctx context.Context, userID string) ([]string, error)
}

// FileStore is the slice of the file store the HTTP surface depends on.
type FileStore interface {
	IsFileExist(filename string) bool
	SaveBinaryData(filename string, data []byte) error
	GetBinaryDataFromFile(filename string) ([]byte, error)
	MakeExecutable(filename string) error
}

// Config bounds the two nontrivial pieces of logic the surface owns:
// the per-user task cap (429) and the /load-args byte cap (413).
type Config struct {
	MaxTasksPerUser   int
	MaxInputArgsBytes int64
}

// Server wires Store/FileStore into the nine spec.md §6 handlers and
// exposes a mux.Router mountable under /background.
type Server struct {
	store Store
	files FileStore
	cfg   Config

	router *mux.Router
}

// NewServer builds the router. Call Router() to get the http.Handler to
// pass to http.ListenAndServe/httptest.NewServer.
func NewServer(store Store, files FileStore, cfg Config) *Server {
	s := &Server{store: store, files: files, cfg: cfg}
	s.router = mux.NewRouter()
	bg := s.router.PathPrefix("/background").Subrouter()
	bg.HandleFunc("/create", s.handleCreate).Methods(http.MethodPost)
	bg.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	bg.HandleFunc("/load-args", s.handleLoadArgs).Methods(http.MethodPost)
	bg.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	bg.HandleFunc("/kill", s.handleKill).Methods(http.MethodPost)
	bg.HandleFunc("/accept", s.handleAccept).Methods(http.MethodPost)
	bg.HandleFunc("/log", s.handleLog).Methods(http.MethodGet)
	bg.HandleFunc("/result", s.handleResult).Methods(http.MethodGet)
	bg.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	return s
}

// Router returns the http.Handler serving every route.
func (s *Server) Router() http.Handler {
	return s.router
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	raw, err := jsonAPI.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("httpapi: failed to marshal response body")
		return
	}
	if _, err := w.Write(raw); err != nil {
		log.Error().Err(err).Msg("httpapi: failed to write response body")
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

// writeAppError maps an apperrors.Kind to the HTTP status table in
// spec.md §7: not-found/precondition/conflict -> 400, payload-too-large -> 413,
// rate-limited -> 429, everything else -> 500.
func writeAppError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := err.Error()
	switch {
	case apperrors.Is(err, apperrors.KindNotFound),
		apperrors.Is(err, apperrors.KindPrecondition),
		apperrors.Is(err, apperrors.KindConflict):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.KindPayloadTooLarge):
		status = http.StatusRequestEntityTooLarge
	case apperrors.Is(err, apperrors.KindRateLimited):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, errorBody{Detail: detail})
}

func queryTaskID(r *http.Request) string {
	return r.URL.Query().Get("task_id")
}

// --- handlers ---

// handleCreate implements POST /create: 429 if the user already has
// cap-or-more tasks (spec.md §9: strict '>' against the configured max,
// checked as "would this be the (cap+1)th task"), else a brand-new
// TaskState in status=new.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")
	taskTypeRaw := r.URL.Query().Get("task_type")
	taskType := model.TaskType(taskTypeRaw)

	if userID == "" || !taskType.Valid() {
		writeAppError(w, apperrors.Precondition("user_id and a valid task_type are required"))
		return
	}

	existing, err := s.store.GetUserTaskIDs(ctx, userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if len(existing)+1 > s.cfg.MaxTasksPerUser {
		writeAppError(w, apperrors.RateLimited("Too many requests. Try again later."))
		return
	}

	state := model.NewTaskState(userID, taskType)
	if err := s.store.AddTask(ctx, state); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state.TaskID)
}

// stateResponse is TaskState plus the UserID/TaskID the model excludes
// from its own JSON tags (they live in the store key, not the blob).
type stateResponse struct {
	UserID string `json:"user_id"`
	TaskID string `json:"task_id"`
	model.TaskState
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := queryTaskID(r)
	state, err := s.store.GetTaskState(ctx, taskID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{UserID: state.UserID, TaskID: state.TaskID, TaskState: state})
}

// handleLoadArgs implements POST /load-args: 413 over the byte cap, 400
// if status != new; on success, saves the body to input_args_filename,
// logs it, and materializes script_filename if the task type has a
// known launcher template (spec.md §6, §9 Open Question).
func (s *Server) handleLoadArgs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := queryTaskID(r)

	state, err := s.store.GetTaskState(ctx, taskID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if state.Status != model.StatusNew {
		writeAppError(w, apperrors.Precondition("task is not in status=new"))
		return
	}

	limited := io.LimitReader(r.Body, s.cfg.MaxInputArgsBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		writeAppError(w, apperrors.Internal("reading request body", err))
		return
	}
	if int64(len(body)) > s.cfg.MaxInputArgsBytes {
		writeAppError(w, apperrors.PayloadTooLarge("input arguments exceed the configured size cap"))
		return
	}

	if err := s.files.SaveBinaryData(state.InputArgsFilename, body); err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.store.AddLogMessage(ctx, taskID, "Input arguments were loaded"); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("httpapi: failed to append load-args log")
	}

	if launcher.HasTemplate(state.Type) {
		body, err := launcher.Render(state.Type, taskID)
		if err != nil {
			writeAppError(w, apperrors.Internal("rendering launcher script", err))
			return
		}
		if err := s.files.SaveBinaryData(state.ScriptFilename, []byte(body)); err != nil {
			writeAppError(w, err)
			return
		}
		if err := s.files.MakeExecutable(state.ScriptFilename); err != nil {
			writeAppError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, "ok")
}

// handleRun implements POST /run: requires status=new plus both input
// and script files present, then sets status=ready.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := queryTaskID(r)

	state, err := s.store.GetTaskState(ctx, taskID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if state.Status != model.StatusNew {
		writeAppError(w, apperrors.Precondition("task is not in status=new"))
		return
	}
	if !s.files.IsFileExist(state.InputArgsFilename) || !s.files.IsFileExist(state.ScriptFilename) {
		writeAppError(w, apperrors.Precondition("input arguments or launcher script not yet present"))
		return
	}

	state.Status = model.StatusReady
	if err := s.store.UpdateTaskState(ctx, taskID, &state); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "ok")
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := queryTaskID(r)

	state, err := s.store.GetTaskState(ctx, taskID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	state.IsNeedKill = true
	if err := s.store.UpdateTaskState(ctx, taskID, &state); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "ok")
}

// handleAccept implements POST /accept: requires a terminal status with
// the result file present, then sets is_accepted=true for L6 to collect.
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := queryTaskID(r)

	state, err := s.store.GetTaskState(ctx, taskID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !state.Status.IsTerminal() {
		writeAppError(w, apperrors.Precondition("task has not reached a terminal status"))
		return
	}
	if !s.files.IsFileExist(state.OutputArgsFilename) {
		writeAppError(w, apperrors.Precondition("result file is not present"))
		return
	}

	state.IsAccepted = true
	if err := s.store.UpdateTaskState(ctx, taskID, &state); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "ok")
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := queryTaskID(r)
	text, err := s.store.GetLog(ctx, taskID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// handleResult implements GET /result: requires status=finished with
// the output file present; streams the raw bytes back as an opaque
// octet-stream, exactly the binary envelope the worker wrote.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := queryTaskID(r)

	state, err := s.store.GetTaskState(ctx, taskID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if state.Status != model.StatusFinished {
		writeAppError(w, apperrors.Precondition("task has not finished"))
		return
	}
	data, err := s.files.GetBinaryDataFromFile(state.OutputArgsFilename)
	if err != nil {
		writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("httpapi: failed to write result body")
	}
}

// handlePing implements GET /ping: a liveness string, nothing more.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "pong at "+time.Now().UTC().Format(time.RFC3339))
}
