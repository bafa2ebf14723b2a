// Package handlers provides HTTP handlers for the task orchestrator.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/orchestrator"
	"github.com/aristath/nexus/internal/transport"
)

const maxResultWait = 60 * time.Second

// Handler handles orchestrator HTTP requests
type Handler struct {
	orch *orchestrator.Orchestrator
	ws   http.Handler
	log  zerolog.Logger
}

// NewHandler creates a new orchestrator handler. ws serves worker WebSocket
// connections and may be nil.
func NewHandler(orch *orchestrator.Orchestrator, ws http.Handler, log zerolog.Logger) *Handler {
	return &Handler{
		orch: orch,
		ws:   ws,
		log:  log.With().Str("handler", "orchestrator").Logger(),
	}
}

// RegisterWorkerRequest is the body of POST /mcu/workers
type RegisterWorkerRequest struct {
	WorkerID     string   `json:"worker_id"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
}

// HandleGetStatus handles GET /api/mcu/status
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	counts := map[orchestrator.Status]int{}
	for _, t := range h.orch.Tasks() {
		counts[t.Status]++
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers": h.orch.Workers(),
		"tasks":   counts,
	})
}

// HandleRegisterWorker handles POST /api/mcu/workers
func (h *Handler) HandleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req RegisterWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.orch.RegisterWorker(req.WorkerID, req.Capabilities, req.Endpoint); err != nil {
		h.writeDomainError(w, err, "Failed to register worker")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "registered", "worker_id": req.WorkerID})
}

// HandleHeartbeat handles POST /api/mcu/workers/{worker_id}/heartbeat
func (h *Handler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "worker_id")
	if err := h.orch.Heartbeat(workerID); err != nil {
		h.writeDomainError(w, err, "Failed to record heartbeat")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleResponse handles POST /api/mcu/responses. Responses for unknown
// tasks are acknowledged and ignored since they may race with cleanup.
func (h *Handler) HandleResponse(w http.ResponseWriter, r *http.Request) {
	var resp transport.Response
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.orch.CompleteTask(resp)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case errors.Is(err, domain.ErrTaskNotFound):
		h.log.Warn().Str("task_id", resp.TaskID).Msg("Response for unknown task ignored")
		h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
	default:
		h.writeDomainError(w, err, "Failed to record response")
	}
}

// HandleGetTask handles GET /api/mcu/tasks/{task_id}
func (h *Handler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, ok := h.orch.GetTask(taskID)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"task_id": taskID,
			"status":  string(orchestrator.StatusNotFound),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

// HandleGetResult handles GET /api/mcu/tasks/{task_id}/result?wait=5s
// Terminal results are returned once; 204 means not finished yet.
func (h *Handler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	wait := time.Duration(0)
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			h.writeError(w, http.StatusBadRequest, "wait must be a duration such as 5s")
			return
		}
		wait = d
	}
	if wait > maxResultWait {
		wait = maxResultWait
	}

	if h.orch.GetTaskStatus(taskID) == orchestrator.StatusNotFound {
		h.writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	result, ok := h.orch.GetTaskResult(r.Context(), taskID, wait)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleMarkRunning handles POST /api/mcu/tasks/{task_id}/running
func (h *Handler) HandleMarkRunning(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := h.orch.MarkRunning(taskID); err != nil {
		h.writeDomainError(w, err, "Failed to update task")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(orchestrator.StatusRunning)})
}

// HandleCancelTask handles DELETE /api/mcu/tasks/{task_id}?reason=...
func (h *Handler) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "Cancelled by operator"
	}

	if err := h.orch.CancelTask(r.Context(), taskID, reason); err != nil {
		h.writeDomainError(w, err, "Failed to cancel task")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(orchestrator.StatusCancelled)})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrWorkerNotAvailable):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg(fallback)
		h.writeError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
