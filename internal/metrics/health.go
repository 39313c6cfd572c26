package metrics

import (
	"context"
	"sync"
	"time"
)

// checkTimeout bounds a single health check
const checkTimeout = 10 * time.Second

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one health check
type CheckResult struct {
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthChecker runs named dependency checks, each raced against a fixed
// timeout.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]CheckFunc)}
}

// RegisterCheck adds a named check
func (h *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Run executes all checks and reports per-check results plus an overall flag
func (h *HealthChecker) Run(ctx context.Context) (bool, map[string]CheckResult) {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	healthy := true
	results := make(map[string]CheckResult, len(checks))
	for name, check := range checks {
		result := runCheck(ctx, check)
		if !result.Healthy {
			healthy = false
		}
		results[name] = result
	}
	return healthy, results
}

func runCheck(ctx context.Context, check CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- check(checkCtx)
	}()

	select {
	case err := <-done:
		result := CheckResult{Healthy: err == nil, Duration: time.Since(start)}
		if err != nil {
			result.Error = err.Error()
		}
		return result
	case <-checkCtx.Done():
		return CheckResult{
			Healthy:  false,
			Error:    checkCtx.Err().Error(),
			Duration: time.Since(start),
		}
	}
}
