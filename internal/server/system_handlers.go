package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/scheduler"
)

// JobRunner runs registered cron jobs on demand
type JobRunner interface {
	RunByName(name string) error
	JobNames() []string
}

// SystemHandlers serves host, database and job endpoints
type SystemHandlers struct {
	databases map[string]*database.DB
	dataDir   string
	jobs      JobRunner
	log       zerolog.Logger
}

// DatabaseHealth reports one database
type DatabaseHealth struct {
	Name          string  `json:"name"`
	Healthy       bool    `json:"healthy"`
	Error         string  `json:"error,omitempty"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	FreelistPages int64   `json:"freelist_pages"`
}

// SystemHealthResponse is returned by GET /api/system/health
type SystemHealthResponse struct {
	Status      string           `json:"status"`
	CPUPercent  float64          `json:"cpu_percent"`
	MemPercent  float64          `json:"mem_percent"`
	DiskFreeGB  float64          `json:"disk_free_gb"`
	DiskPercent float64          `json:"disk_percent"`
	Databases   []DatabaseHealth `json:"databases"`
	CheckedAt   string           `json:"checked_at"`
}

// NewSystemHandlers creates system handlers. jobs may be nil.
func NewSystemHandlers(databases map[string]*database.DB, dataDir string, jobs JobRunner, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases: databases,
		dataDir:   dataDir,
		jobs:      jobs,
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// HandleSystemHealth returns host resource usage and database health.
// The status is "degraded" when any database fails its health check.
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemHealthResponse{
		Status:     "healthy",
		CPUPercent: cpuPercent,
		MemPercent: memPercent,
		Databases:  h.databaseHealth(r.Context()),
		CheckedAt:  time.Now().Format(time.RFC3339),
	}

	if h.dataDir != "" {
		if usage, err := disk.Usage(h.dataDir); err == nil {
			response.DiskFreeGB = float64(usage.Free) / 1e9
			response.DiskPercent = usage.UsedPercent
		} else {
			h.log.Warn().Err(err).Msg("Failed to get disk usage")
		}
	}

	for _, db := range response.Databases {
		if !db.Healthy {
			response.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, response, h.log)
}

// HandleDatabaseStats returns per-database size statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"databases": h.databaseHealth(r.Context()),
	}, h.log)
}

// HandleListJobs returns the registered job names
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.jobs != nil {
		names = h.jobs.JobNames()
		sort.Strings(names)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": names}, h.log)
}

// HandleRunJob runs a job immediately and waits for it
// POST /api/jobs/{name}/run
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "jobs are not available", h.log)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run triggered")
	start := time.Now()

	if err := h.jobs.RunByName(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, err.Error(), h.log)
			return
		}
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"job":    name,
			"status": "failed",
			"error":  err.Error(),
		}, h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"status":      "completed",
		"duration_ms": time.Since(start).Milliseconds(),
	}, h.log)
}

func (h *SystemHandlers) databaseHealth(ctx context.Context) []DatabaseHealth {
	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]DatabaseHealth, 0, len(names))
	for _, name := range names {
		db := h.databases[name]
		entry := DatabaseHealth{Name: name, Healthy: true}

		if err := db.HealthCheck(ctx); err != nil {
			entry.Healthy = false
			entry.Error = err.Error()
		}
		if stats, err := db.GetStats(); err == nil {
			entry.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
			entry.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
			entry.FreelistPages = stats.FreelistCount
		} else if entry.Healthy {
			entry.Healthy = false
			entry.Error = err.Error()
		}

		out = append(out, entry)
	}
	return out
}

// getSystemStats samples CPU over 100ms and reads memory usage
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuAvg := 0.0
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}
