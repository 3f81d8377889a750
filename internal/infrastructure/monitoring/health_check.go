package monitoring

import (
	"context"
	"sync"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	probe   CheckFunc
	timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker aggregates dependency probes for the health endpoint.
// Probes run on demand; each gets its own timeout so one stuck
// dependency cannot hold the whole report.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []check
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, probe CheckFunc, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, probe: probe, timeout: timeout})
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.probe(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[c.name] = err.Error()
			continue
		}
		status.Checks[c.name] = "healthy"
	}

	return status
}
