// Package api implements the Task/Decomposition HTTP surface: idempotent
// task submission, plan exposure, and manual execute/resume controls, plus
// the approval and agent-discovery endpoints that share the same router.
// Routing is go-chi/chi/v5; go-chi/cors guards cross-origin callers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/orchestrator/taskorch/internal/agents"
	"github.com/orchestrator/taskorch/internal/approval"
	"github.com/orchestrator/taskorch/internal/domain"
	"github.com/orchestrator/taskorch/internal/eventbus"
	"github.com/orchestrator/taskorch/internal/lifecycle"
	"github.com/orchestrator/taskorch/internal/orcherr"
	"github.com/orchestrator/taskorch/internal/persistence"
	"github.com/orchestrator/taskorch/internal/planner"
	"github.com/orchestrator/taskorch/internal/workflow"
)

const taskKeyPrefix = "tasks/"

// orchestrateQueueDepth bounds concurrent decompositions; submissions past
// the high-water mark are shed with a 503 and Retry-After rather than
// queued without limit.
const orchestrateQueueDepth = 64

// Runner starts or resumes a decomposed task's workflow. Supplied by the
// caller wiring the server (internal/workflow.Build + graph.Engine.Run/
// RunFrom behind a thin adapter), kept abstract here so the HTTP layer
// never imports the generic engine directly.
type Runner interface {
	Start(ctx context.Context, taskID string, initial workflow.State) (workflow.State, error)
	Resume(ctx context.Context, taskID string, updated workflow.State) (workflow.State, error)
	Latest(ctx context.Context, taskID string) (workflow.State, error)
}

// Server bundles every component the HTTP surface talks to.
type Server struct {
	adapter   persistence.Adapter
	planner   *planner.Planner
	approvals *approval.Gate
	lifecycle *lifecycle.Manager
	registry  *agents.Registry
	bus       *eventbus.Bus
	runner    Runner
	metrics   http.Handler
	orchSlots chan struct{}
}

// NewServer constructs a Server. metricsHandler may be nil to omit
// /metrics (e.g. in tests).
func NewServer(adapter persistence.Adapter, pl *planner.Planner, approvals *approval.Gate, lc *lifecycle.Manager, registry *agents.Registry, bus *eventbus.Bus, runner Runner, metricsHandler http.Handler) *Server {
	return &Server{
		adapter: adapter, planner: pl, approvals: approvals, lifecycle: lc,
		registry: registry, bus: bus, runner: runner, metrics: metricsHandler,
		orchSlots: make(chan struct{}, orchestrateQueueDepth),
	}
}

// Router builds the chi router for this server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Get("/metrics", s.metrics.ServeHTTP)
	}

	r.Post("/orchestrate", s.handleOrchestrate)
	r.Post("/execute/{task_id}", s.handleExecute)
	r.Post("/resume/{task_id}", s.handleResume)
	r.Get("/tasks/{task_id}", s.handleGetTask)
	r.Get("/agents", s.handleGetAgents)
	r.Post("/approvals/{id}/approve", s.handleApprovalDecision(true))
	r.Post("/approvals/{id}/reject", s.handleApprovalDecision(false))
	r.Get("/approvals/pending", s.handleApprovalsPending)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type orchestrateRequest struct {
	TaskID      string         `json:"task_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    string         `json:"priority"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	select {
	case s.orchSlots <- struct{}{}:
		defer func() { <-s.orchSlots }()
	default:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable,
			orcherr.New(orcherr.KindTransientTransport, "planner queue full").
				WithRecovery("retry after a short backoff"))
		return
	}

	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, orcherr.New(orcherr.KindValidation, "malformed request body"))
		return
	}
	if req.TaskID == "" || req.Title == "" || req.Description == "" {
		writeError(w, http.StatusBadRequest, orcherr.New(orcherr.KindValidation, "task_id, title, and description are required"))
		return
	}

	ctx := r.Context()

	if existing, err := s.loadTask(ctx, req.TaskID); err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	} else if err != persistence.ErrNotFound {
		writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to check existing task", err))
		return
	}

	subtasks, err := s.planner.Decompose(ctx, req.TaskID, req.Title, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	task := domain.Task{
		TaskID:      req.TaskID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    domain.Priority(req.Priority),
		CreatedAt:   time.Now(),
		Metadata:    req.Metadata,
		Status:      "created",
		Subtasks:    subtasks,
	}

	for _, st := range subtasks {
		if planner.IsHighRisk(st) {
			req, err := s.approvals.Request(ctx, task.TaskID, "high", st.ActionType, st.Description)
			if err != nil {
				writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to raise approval", err))
				return
			}
			task.Status = "approval_pending"
			task.ApprovalID = req.ApprovalID
			break
		}
	}

	if err := s.saveTask(ctx, task); err != nil {
		writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to persist task", err))
		return
	}

	status := http.StatusOK
	if task.Status == "approval_pending" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, task)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	ctx := r.Context()

	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, http.StatusNotFound, orcherr.New(orcherr.KindValidation, "unknown task"))
			return
		}
		writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to load task", err))
		return
	}
	if task.Status == "approval_pending" || task.Status == "running" {
		writeError(w, http.StatusConflict, orcherr.New(orcherr.KindValidation, "task not in an executable state").WithContext(map[string]any{"status": task.Status}))
		return
	}

	task.Status = "running"
	task.StartedAt = time.Now()
	if err := s.saveTask(ctx, task); err != nil {
		writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to persist task", err))
		return
	}

	initial := workflow.NewInitialState(taskID, task.Subtasks)
	s.runAsync(task, func(bgCtx context.Context) (workflow.State, error) {
		return s.runner.Start(bgCtx, taskID, initial)
	})
	writeJSON(w, http.StatusOK, task)
}

// runAsync dispatches the engine run on its own goroutine, detached from the
// request context so a client response or disconnect never cancels a
// workflow already underway, and persists the resulting task once it
// reaches completion or its next interrupt. The HTTP handler returns with
// task already snapshotted at status "running": `POST /execute/T1` responds
// 200 `running`, `GET /tasks/T1` later observes the terminal status once the
// run finishes.
func (s *Server) runAsync(task domain.Task, run func(ctx context.Context) (workflow.State, error)) {
	go func() {
		ctx := context.Background()
		final, err := run(ctx)
		s.syncTaskFromState(ctx, &task, final, err)
	}()
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	ctx := r.Context()

	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, http.StatusNotFound, orcherr.New(orcherr.KindValidation, "unknown task"))
			return
		}
		writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to load task", err))
		return
	}
	if task.Status != "approval_pending" {
		writeError(w, http.StatusConflict, orcherr.New(orcherr.KindValidation, "task is not awaiting approval"))
		return
	}

	approvalReq, err := s.approvals.Get(ctx, task.ApprovalID)
	if err != nil {
		writeError(w, http.StatusNotFound, orcherr.New(orcherr.KindValidation, "unknown approval"))
		return
	}
	switch approvalReq.State {
	case domain.ApprovalRejected:
		writeError(w, http.StatusForbidden, orcherr.New(orcherr.KindApprovalState, "approval was rejected"))
		return
	case domain.ApprovalExpired:
		writeError(w, http.StatusGone, orcherr.New(orcherr.KindApprovalState, "approval expired"))
		return
	case domain.ApprovalPending:
		writeError(w, http.StatusConflict, orcherr.New(orcherr.KindApprovalState, "approval still pending"))
		return
	}

	latest, err := s.runner.Latest(ctx, taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to load workflow state", err))
		return
	}
	latest.PendingApprovalID = ""
	latest.Status = domain.WorkflowRunning

	task.Status = "running"
	if err := s.saveTask(ctx, task); err != nil {
		writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to persist task", err))
		return
	}

	s.runAsync(task, func(bgCtx context.Context) (workflow.State, error) {
		return s.runner.Resume(bgCtx, taskID, latest)
	})
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) syncTaskFromState(ctx context.Context, task *domain.Task, final workflow.State, runErr error) {
	if runErr != nil {
		task.Status = "failed"
		if errors.Is(runErr, context.Canceled) {
			task.Status = "cancelled"
		}
		task.FailureReason = runErr.Error()
	} else {
		task.Subtasks = final.Subtasks
		task.Status = string(final.Status)
		if final.Status == domain.WorkflowCompleted || final.Status == domain.WorkflowFailed {
			task.CompletedAt = time.Now()
		}
	}
	_ = s.saveTask(ctx, *task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.loadTask(r.Context(), taskID)
	if err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, http.StatusNotFound, orcherr.New(orcherr.KindValidation, "unknown task"))
			return
		}
		writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to load task", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":            task,
		"elapsed_seconds": task.ElapsedSeconds(),
	})
}

func (s *Server) handleGetAgents(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	var list []domain.AgentRecord
	if capability != "" {
		list = s.registry.ByCapability(capability)
	} else {
		list = s.registry.All()
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleApprovalDecision(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var body struct {
			DecidedBy string `json:"decided_by"`
			Reason    string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		req, err := s.approvals.Decide(r.Context(), id, approve, body.DecidedBy, body.Reason)
		if err != nil {
			if oe, ok := err.(*orcherr.Error); ok {
				switch oe.Kind {
				case orcherr.KindValidation:
					writeError(w, http.StatusNotFound, err)
				case orcherr.KindApprovalState:
					writeError(w, http.StatusConflict, err)
				default:
					writeError(w, http.StatusInternalServerError, err)
				}
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func (s *Server) handleApprovalsPending(w http.ResponseWriter, r *http.Request) {
	list, err := s.approvals.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, orcherr.Wrap(orcherr.KindEngine, "failed to list approvals", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) loadTask(ctx context.Context, taskID string) (domain.Task, error) {
	row, err := s.adapter.Get(ctx, taskKeyPrefix+taskID)
	if err != nil {
		return domain.Task{}, err
	}
	var task domain.Task
	if err := json.Unmarshal(row.Value, &task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *Server) saveTask(ctx context.Context, task domain.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	key := taskKeyPrefix + task.TaskID
	for attempt := 0; attempt < persistence.CASRetries; attempt++ {
		existing, getErr := s.adapter.Get(ctx, key)
		expected := int64(0)
		if getErr == nil {
			expected = existing.Version
		} else if getErr != persistence.ErrNotFound {
			return getErr
		}
		if _, err := s.adapter.CompareAndSwap(ctx, key, expected, payload); err == nil {
			return nil
		} else if err != persistence.ErrVersionConflict {
			return err
		}
	}
	return orcherr.New(orcherr.KindConcurrency, "task version conflict after retries")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	envelope := map[string]any{"message": err.Error(), "error_kind": "EngineError"}
	if oe, ok := err.(*orcherr.Error); ok {
		envelope["error_kind"] = string(oe.Kind)
		envelope["message"] = oe.Message
		if oe.Context != nil {
			envelope["context"] = oe.Context
		}
		if oe.SuggestedRecovery != "" {
			envelope["suggested_recovery"] = oe.SuggestedRecovery
		}
	}
	writeJSON(w, status, envelope)
}
