package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/replugio/replug/pkg/metrics"
)

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	status    StatusFunc
	startedAt time.Time
	mux       *http.ServeMux
	server    *http.Server
}

// StatusFunc reports the current worker state for health responses.
type StatusFunc func() (running bool, epoch int64, tasks, workflows int)

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(status StatusFunc) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		status:    status,
		startedAt: time.Now(),
		mux:       mux,
	}

	// Register endpoints
	mux.HandleFunc("/health", hs.healthHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return hs.server.ListenAndServe()
}

// Shutdown stops the health server gracefully.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string       `json:"status"`
	Uptime string       `json:"uptime"`
	Memory MemoryStats  `json:"memory"`
	Worker WorkerHealth `json:"worker"`
}

// MemoryStats reports process memory usage
type MemoryStats struct {
	AllocBytes uint64 `json:"allocBytes"`
	SysBytes   uint64 `json:"sysBytes"`
	NumGC      uint32 `json:"numGC"`
}

// WorkerHealth reports the worker's current state
type WorkerHealth struct {
	IsRunning bool  `json:"isRunning"`
	Epoch     int64 `json:"epoch"`
	Tasks     int   `json:"tasks"`
	Workflows int   `json:"workflows"`
}

// healthHandler implements the /health endpoint: 200 while a worker is
// polling, 503 otherwise.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	running, epoch, tasks, workflows := hs.status()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	response := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(hs.startedAt).Round(time.Second).String(),
		Memory: MemoryStats{
			AllocBytes: mem.Alloc,
			SysBytes:   mem.Sys,
			NumGC:      mem.NumGC,
		},
		Worker: WorkerHealth{
			IsRunning: running,
			Epoch:     epoch,
			Tasks:     tasks,
			Workflows: workflows,
		},
	}

	code := http.StatusOK
	if !running {
		response.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}
