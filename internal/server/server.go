package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/internal/workflow"
	"github.com/ldi/taskflow/pkg/models"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Server struct {
	svc    *workflow.Service
	health HealthChecker
	log    *zap.Logger
	server *http.Server
}

func NewServer(svc *workflow.Service, health HealthChecker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, health: health, log: log}
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("PATCH /api/tasks/{id}/status", s.handleSetStatus)

	// Context
	mux.HandleFunc("GET /api/context/repository/{repo}", s.handleTasksByRepository)
	mux.HandleFunc("GET /api/context/branch/{branch}", s.handleTasksByBranch)
	mux.HandleFunc("GET /api/context/file", s.handleTasksByFile)
	mux.HandleFunc("PATCH /api/context/{taskId}", s.handleUpdateContext)

	// Progress
	mux.HandleFunc("GET /api/progress/{taskId}", s.handleGetProgress)
	mux.HandleFunc("PATCH /api/progress/{taskId}/percentage", s.handleSetPercentage)
	mux.HandleFunc("POST /api/progress/{taskId}/stages", s.handleAddStage)
	mux.HandleFunc("PATCH /api/progress/{taskId}/stages/{index}", s.handleUpdateStage)

	// Requests
	mux.HandleFunc("POST /api/requests", s.handleCreateRequest)
	mux.HandleFunc("GET /api/requests/{id}/progress", s.handleProgressReport)
	mux.HandleFunc("POST /api/requests/{id}/next", s.handleNextTask)
	mux.HandleFunc("POST /api/requests/{id}/tasks/{taskId}/done", s.handleMarkDone)
	mux.HandleFunc("POST /api/requests/{id}/tasks/{taskId}/approve", s.handleApproveTask)
	mux.HandleFunc("POST /api/requests/{id}/approve", s.handleApproveRequest)

	return s.logRequests(mux)
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("http server listening", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Health(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.listTasks(w, r, store.Filter{
		RequestID:  q.Get("requestId"),
		Status:     models.TaskStatus(q.Get("status")),
		Priority:   models.Priority(q.Get("priority")),
		Repository: q.Get("repository"),
		Branch:     q.Get("branch"),
		File:       q.Get("file"),
		AssignedTo: q.Get("assignedTo"),
	})
}

func (s *Server) handleTasksByRepository(w http.ResponseWriter, r *http.Request) {
	s.listTasks(w, r, store.Filter{Repository: r.PathValue("repo")})
}

func (s *Server) handleTasksByBranch(w http.ResponseWriter, r *http.Request) {
	s.listTasks(w, r, store.Filter{Branch: r.PathValue("branch")})
}

func (s *Server) handleTasksByFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respond(w, nil, store.InvalidArgumentf("path query parameter is required"))
		return
	}
	s.listTasks(w, r, store.Filter{File: path})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, filter store.Filter) {
	tasks, err := s.svc.ListTasks(r.Context(), filter)
	if tasks == nil {
		tasks = []*models.Task{}
	}
	s.respond(w, tasks, err)
}

type createTaskRequest struct {
	RequestID string `json:"requestId"`
	models.TaskSpec
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskRequest
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.svc.CreateTask(r.Context(), body.RequestID, body.TaskSpec)
	s.respondStatus(w, http.StatusCreated, task, err)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.GetTask(r.Context(), r.PathValue("id"))
	s.respond(w, task, err)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var body workflow.TaskUpdate
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.svc.UpdateTask(r.Context(), r.PathValue("id"), body)
	s.respond(w, task, err)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		s.respond(w, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.TaskStatus `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.svc.SetStatus(r.Context(), r.PathValue("id"), body.Status)
	s.respond(w, task, err)
}

func (s *Server) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	var body workflow.ContextUpdate
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.svc.UpdateContext(r.Context(), r.PathValue("taskId"), body)
	s.respond(w, task, err)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.svc.GetProgress(r.Context(), r.PathValue("taskId"))
	s.respond(w, progress, err)
}

func (s *Server) handleSetPercentage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Percentage *int `json:"percentage"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Percentage == nil {
		s.respond(w, nil, store.InvalidArgumentf("percentage is required"))
		return
	}
	task, err := s.svc.SetPercentage(r.Context(), r.PathValue("taskId"), *body.Percentage)
	s.respond(w, task, err)
}

func (s *Server) handleAddStage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string `json:"name"`
		Completed bool   `json:"completed"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.svc.AddStage(r.Context(), r.PathValue("taskId"), body.Name, body.Completed)
	s.respondStatus(w, http.StatusCreated, task, err)
}

func (s *Server) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.respond(w, nil, store.InvalidArgumentf("invalid stage index %q", r.PathValue("index")))
		return
	}
	var body workflow.StageUpdate
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.svc.UpdateStage(r.Context(), r.PathValue("taskId"), index, body)
	s.respond(w, task, err)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OriginalRequest string            `json:"originalRequest"`
		Tasks           []models.TaskSpec `json:"tasks"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.svc.CreateRequest(r.Context(), body.OriginalRequest, body.Tasks)
	s.respondStatus(w, http.StatusCreated, res, err)
}

func (s *Server) handleProgressReport(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")
	report, err := s.svc.GetProgressReport(r.Context(), requestID)
	s.respond(w, map[string]any{"requestId": requestID, "progress": report}, err)
}

func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.GetNextTask(r.Context(), r.PathValue("id"))
	s.respond(w, res, err)
}

func (s *Server) handleMarkDone(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CompletedDetails string `json:"completedDetails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.respond(w, nil, store.InvalidArgumentf("invalid request body: %v", err))
		return
	}
	res, err := s.svc.MarkTaskDone(r.Context(), r.PathValue("id"), r.PathValue("taskId"), body.CompletedDetails)
	s.respond(w, res, err)
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.ApproveTask(r.Context(), r.PathValue("id"), r.PathValue("taskId"))
	s.respond(w, res, err)
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.ApproveRequest(r.Context(), r.PathValue("id"))
	var aerr *workflow.ApprovalError
	if errors.As(err, &aerr) {
		s.writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "approved": aerr.Approved})
		return
	}
	s.respond(w, res, err)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respond(w, nil, store.InvalidArgumentf("invalid request body: %v", err))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respond(w http.ResponseWriter, data any, err error) {
	s.respondStatus(w, http.StatusOK, data, err)
}

func (s *Server) respondStatus(w http.ResponseWriter, status int, data any, err error) {
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			s.log.Error("request failed", zap.Error(err))
		}
		s.writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, status, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}
