package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"midilink/internal/core/domain"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) (bool, error)
	Timeout time.Duration
	// Optional checks report their result but never make the service
	// unhealthy.
	Optional bool
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), timeout time.Duration, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Timeout:  timeout,
		Optional: optional,
	})
}

// StateSource reports the connection state of the bridge.
type StateSource interface {
	State() domain.ConnectionState
}

// Availability is implemented by the optional transports.
type Availability interface {
	Available() bool
}

// AddSessionCheck reports the peer session state. A failed session is
// reported but does not make the daemon unhealthy: the host recovers it by
// initializing again.
func (h *HealthChecker) AddSessionCheck(source StateSource) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		state := source.State()
		if state == domain.StateFailed {
			return false, fmt.Errorf("session %s", state)
		}
		return true, nil
	}, time.Second, true)
}

// AddTransportCheck reports whether an optional transport is present.
func (h *HealthChecker) AddTransportCheck(transport domain.Transport, source Availability) {
	h.AddCheck(string(transport), func(ctx context.Context) (bool, error) {
		if !source.Available() {
			return false, fmt.Errorf("%s transport unavailable", transport)
		}
		return true, nil
	}, time.Second, true)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range checks {
		healthy, err := runCheck(ctx, check)
		switch {
		case err == nil && healthy:
			status.Checks[check.Name] = "healthy"
			continue
		case err != nil:
			status.Checks[check.Name] = err.Error()
		default:
			status.Checks[check.Name] = "check failed"
		}
		if !check.Optional {
			status.Status = "unhealthy"
		} else if status.Status == "healthy" {
			status.Status = "degraded"
		}
	}

	return status
}

func runCheck(ctx context.Context, check HealthCheck) (bool, error) {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return check.Check(checkCtx)
}
