package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// LivenessSource reports whether the terminal answered recently
type LivenessSource interface {
	Connected() bool
}

// HealthChecker aggregates component health for the /health endpoint
type HealthChecker struct {
	mu           sync.RWMutex
	terminal     LivenessSource
	lastBatch    time.Time
	lastDispatch time.Time
	errors       []string
	maxErrors    int
}

// HealthStatus is the JSON body of the health endpoint
type HealthStatus struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Connected    bool      `json:"terminal_connected"`
	LastBatch    time.Time `json:"last_batch,omitempty"`
	LastDispatch time.Time `json:"last_dispatch,omitempty"`
	Uptime       string    `json:"uptime"`
	Errors       []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates a health checker reading liveness from terminal
func NewHealthChecker(terminal LivenessSource) *HealthChecker {
	return &HealthChecker{
		terminal:  terminal,
		errors:    make([]string, 0),
		maxErrors: 10,
	}
}

// MarkBatch records a completed pipeline batch
func (h *HealthChecker) MarkBatch(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastBatch = at
}

// MarkDispatch records a successful order dispatch
func (h *HealthChecker) MarkDispatch(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastDispatch = at
}

// RecordError keeps the most recent errors for the health report
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > h.maxErrors {
		h.errors = h.errors[1:]
	}
}

// ClearErrors resets the recent error list
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}

// Status builds the current health report
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	connected := h.terminal == nil || h.terminal.Connected()
	status := "healthy"
	if !connected {
		status = "degraded"
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
	}

	errs := make([]string, len(h.errors))
	copy(errs, h.errors)

	return HealthStatus{
		Status:       status,
		Timestamp:    time.Now(),
		Connected:    connected,
		LastBatch:    h.lastBatch,
		LastDispatch: h.lastDispatch,
		Uptime:       time.Since(startTime).String(),
		Errors:       errs,
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status()

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case "degraded":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "unhealthy":
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(health)
}
