package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker tracks liveness signals from the periodic sweeps and
// the exchange connection, and serves them as a health endpoint
type HealthChecker struct {
	mu          sync.RWMutex
	lastSweep   time.Time
	lastRiskRun time.Time
	isConnected bool
	errors      []string
}

// HealthStatus is the JSON shape of the health endpoint
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastSweep   time.Time `json:"last_sweep"`
	LastRiskRun time.Time `json:"last_risk_run"`
	IsConnected bool      `json:"is_connected"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates a health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.isConnected || time.Since(h.lastSweep) > 10*time.Minute {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		LastSweep:   h.lastSweep,
		LastRiskRun: h.lastRiskRun,
		IsConnected: h.isConnected,
		Uptime:      time.Since(startTime).String(),
		Errors:      h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}

// SetConnected records the exchange connection state
func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isConnected = connected
}

// MarkSweep records a completed order sweep
func (h *HealthChecker) MarkSweep() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSweep = time.Now()
}

// MarkRiskRun records a completed risk monitor run
func (h *HealthChecker) MarkRiskRun() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastRiskRun = time.Now()
}

// AddError records a persistent error surfaced on the health endpoint
func (h *HealthChecker) AddError(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.errors = append(h.errors, message)
	if len(h.errors) > 20 {
		h.errors = h.errors[len(h.errors)-20:]
	}
}

// ClearErrors resets the persistent error list
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}
