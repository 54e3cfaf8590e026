package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/flowline/internal/capability"
	"github.com/nidhogg/flowline/internal/store"
	"github.com/nidhogg/flowline/internal/workflow"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine   *workflow.Engine
	registry *capability.Registry
	journal  *store.Store
	logger   *zap.Logger
}

// NewHandler creates a new API handler. journal may be nil when the
// service runs without PostgreSQL; history endpoints then return 503.
func NewHandler(engine *workflow.Engine, registry *capability.Registry, journal *store.Store, logger *zap.Logger) *Handler {
	return &Handler{
		engine:   engine,
		registry: registry,
		journal:  journal,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/capabilities", h.listCapabilities)

		r.Post("/workflows", h.createWorkflow)
		r.Get("/workflows", h.listWorkflows)
		r.Get("/workflows/{id}", h.getWorkflow)
		r.Post("/workflows/{id}/execute", h.executeWorkflow)
		r.Post("/workflows/{id}/cancel", h.cancelWorkflow)
		r.Get("/workflows/{id}/history", h.workflowHistory)

		r.Get("/history", h.recentHistory)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "flowline"})
}

func (h *Handler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"agent_types": h.registry.Types()})
}

type createWorkflowRequest struct {
	Name         string                `json:"name"`
	Description  string                `json:"description,omitempty"`
	Tasks        []workflow.TaskSpec   `json:"tasks"`
	Dependencies []workflow.Dependency `json:"dependencies,omitempty"`
}

func (h *Handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	id, err := h.engine.CreateWorkflow(req.Name, req.Description, req.Tasks, req.Dependencies)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	status, err := h.engine.GetWorkflowStatus(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (h *Handler) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	started, err := h.engine.ExecuteWorkflow(id)
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, workflow.ErrWorkflowNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	if !started {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"started": false,
			"error":   "concurrent workflow limit reached",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"started":     true,
		"workflow_id": id,
	})
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := h.engine.Workflow(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, wf.Snapshot())
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ListWorkflows())
}

func (h *Handler) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.CancelWorkflow(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

func (h *Handler) workflowHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "journal not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Workflow(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	entries, err := h.journal.WorkflowHistory(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) recentHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "journal not configured"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.journal.RecentEvents(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
