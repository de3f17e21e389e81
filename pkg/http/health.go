package http

import (
	"net/http"
	"runtime"
	"sort"
	"time"

	"crisis-monitor/pkg/protocol"
	"crisis-monitor/pkg/version"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	*protocol.HealthReply
	Uptime  string                 `json:"uptime"`
	Version string                 `json:"version"`
	Checks  map[string]CheckResult `json:"checks"`
	System  SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines       int    `json:"goroutines"`
	MemoryMB         uint64 `json:"memory_mb"`
	CPUCount         int    `json:"cpu_count"`
	WebSocketClients int    `json:"websocket_clients"`
}

// HealthHandler runs a canned evaluation through the engine and reports
// the readiness of every registered dependency.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	health := HealthStatus{
		HealthReply: s.handler.Health(),
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Version:     version.Version,
		Checks:      s.runChecks(),
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	health.System = SystemInfo{
		GoRoutines: runtime.NumGoroutine(),
		MemoryMB:   mem.Alloc / 1024 / 1024,
		CPUCount:   runtime.NumCPU(),
	}
	if s.hub != nil {
		health.System.WebSocketClients = s.hub.ClientCount()
	}

	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}

	s.logger.WithFields(logrus.Fields{
		"status":   health.Status,
		"duration": time.Since(startTime),
	}).Debug("Health check completed")

	writeJSON(w, status, health)
}

// LivenessHandler handles kubernetes liveness probe
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler handles kubernetes readiness probe
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checks := s.runChecks()

	ready := true
	for _, check := range checks {
		if check.Status != "healthy" {
			ready = false
			break
		}
	}

	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}

	failed := make([]string, 0, len(checks))
	for name, check := range checks {
		if check.Status != "healthy" {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	s.logger.WithField("failed_checks", failed).Warn("Readiness check failed")

	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("not ready"))
}

func (s *Server) runChecks() map[string]CheckResult {
	s.checksMu.RLock()
	defer s.checksMu.RUnlock()

	results := make(map[string]CheckResult, len(s.checks)+1)
	results["sessions"] = CheckResult{Status: "healthy"}
	if s.manager == nil {
		results["sessions"] = CheckResult{Status: "unhealthy", Message: "session manager not configured"}
	}

	for name, check := range s.checks {
		if err := check(); err != nil {
			results[name] = CheckResult{Status: "unhealthy", Message: err.Error()}
			continue
		}
		results[name] = CheckResult{Status: "healthy"}
	}
	return results
}
