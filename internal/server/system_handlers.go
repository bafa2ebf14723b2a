package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/nexus/internal/database"
	"github.com/aristath/nexus/internal/di"
	"github.com/aristath/nexus/internal/orchestrator"
	"github.com/aristath/nexus/internal/scheduler"
)

// SystemHandlers serves system status and operations endpoints
type SystemHandlers struct {
	container *di.Container
	startedAt time.Time
	stats     func() (float64, float64)
	log       zerolog.Logger
}

// NewSystemHandlers creates the system handlers
func NewSystemHandlers(container *di.Container, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		container: container,
		startedAt: time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
	h.stats = h.getSystemStats
	return h
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status         string                      `json:"status"`
	UptimeSeconds  int64                       `json:"uptime_seconds"`
	CPUPercent     float64                     `json:"cpu_percent"`
	MemoryPercent  float64                     `json:"memory_percent"`
	StorageBackend string                      `json:"storage_backend"`
	Transport      string                      `json:"transport"`
	Workers        WorkerSummary               `json:"workers"`
	Tasks          map[orchestrator.Status]int `json:"tasks"`
	TrackedTasks   int                         `json:"tracked_tasks"`
	Jobs           []string                    `json:"jobs"`
	LastUpdated    string                      `json:"last_updated"`
}

// WorkerSummary counts registered workers
type WorkerSummary struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.stats()

	workers := h.container.Orchestrator.Workers()
	summary := WorkerSummary{Total: len(workers)}
	for _, wk := range workers {
		if wk.Status == orchestrator.WorkerActive {
			summary.Active++
		}
	}

	tasks := make(map[orchestrator.Status]int)
	for _, t := range h.container.Orchestrator.Tasks() {
		tasks[t.Status]++
	}

	status := "healthy"
	if summary.Active == 0 {
		status = "degraded"
	}

	resp := SystemStatusResponse{
		Status:         status,
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
		CPUPercent:     cpuPercent,
		MemoryPercent:  memPercent,
		StorageBackend: h.container.Config.StorageBackend,
		Transport:      h.container.Config.Transport.Kind,
		Workers:        summary,
		Tasks:          tasks,
		TrackedTasks:   h.container.Coordinator.TrackedTasks(),
		Jobs:           h.jobs(),
		LastUpdated:    time.Now().Format(time.RFC3339),
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleJobs handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.jobs()})
}

// HandleRunJob handles POST /api/system/jobs/{name}/run
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.container.Scheduler == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Scheduler not running")
		return
	}

	if err := h.container.Scheduler.RunNow(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": name + " completed",
	})
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]*database.Stats)
	for _, db := range h.container.Databases() {
		s, err := db.GetStats()
		if err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			h.writeError(w, http.StatusInternalServerError, "Failed to get database stats")
			return
		}
		stats[db.Name()] = s
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backend":   h.container.Config.StorageBackend,
		"databases": stats,
	})
}

// HandleListBackups handles GET /api/system/backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.container.Backups == nil {
		h.writeError(w, http.StatusNotFound, "Backups are not enabled")
		return
	}
	backups, err := h.container.Backups.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		h.writeError(w, http.StatusBadGateway, "Failed to list backups")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"backups": backups})
}

func (h *SystemHandlers) jobs() []string {
	if h.container.Scheduler == nil {
		return []string{}
	}
	return h.container.Scheduler.Jobs()
}

// getSystemStats returns CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *SystemHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
