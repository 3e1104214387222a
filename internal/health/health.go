// Package health exposes liveness and readiness checks for the service:
// job store connectivity plus which research providers have credentials.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus classifies a single check result.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *CheckStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "healthy":
		*s = StatusHealthy
	case "degraded":
		*s = StatusDegraded
	default:
		*s = StatusUnhealthy
	}
	return nil
}

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Component string                 `json:"component"`
	Status    CheckStatus            `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Critical  bool                   `json:"critical"`
}

// Checker is one registered health probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	// IsCritical marks checks whose failure makes the whole service
	// unhealthy rather than degraded.
	IsCritical() bool
	Timeout() time.Duration
}

// Report is the aggregate health snapshot.
type Report struct {
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Manager runs registered checkers and serves the HTTP surface.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *zap.Logger
}

// NewManager builds an empty health manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers: make(map[string]Checker),
		logger:   logger,
	}
}

// Register adds a checker, replacing any previous one with the same name.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[c.Name()] = c
}

// Check runs every registered checker and aggregates the worst outcome.
// A failing critical check makes the report unhealthy; a failing
// non-critical check only degrades it.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(checkers)),
	}

	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
		result := c.Check(checkCtx)
		cancel()

		report.Checks[c.Name()] = result
		switch {
		case result.Status == StatusUnhealthy && c.IsCritical():
			report.Status = StatusUnhealthy
		case result.Status != StatusHealthy && report.Status != StatusUnhealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

// Handler serves the aggregate report. Unhealthy maps to 503 so load
// balancers stop routing; degraded still serves traffic.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := m.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			m.logger.Error("Failed to encode health report", zap.Error(err))
		}
	})
}

// PingChecker adapts a connectivity probe into a Checker.
type PingChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	ping     func(ctx context.Context) error
}

// NewPingChecker wraps a ping function, typically a store or database pool.
func NewPingChecker(name string, critical bool, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{
		name:     name,
		critical: critical,
		timeout:  5 * time.Second,
		ping:     ping,
	}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: p.name, Critical: p.critical}

	err := p.ping(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}

	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "responding with high latency"
	} else {
		result.Status = StatusHealthy
	}
	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}
	return result
}

// CredentialChecker reports which research providers have API keys. Keys
// are re-read per check so rotation shows up without restart.
type CredentialChecker struct {
	keys func() map[string]bool
}

// NewCredentialChecker takes a function returning provider -> configured.
func NewCredentialChecker(keys func() map[string]bool) *CredentialChecker {
	return &CredentialChecker{keys: keys}
}

func (c *CredentialChecker) Name() string           { return "provider_credentials" }
func (c *CredentialChecker) IsCritical() bool       { return false }
func (c *CredentialChecker) Timeout() time.Duration { return time.Second }

func (c *CredentialChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	configured := c.keys()

	details := make(map[string]interface{}, len(configured))
	missing := 0
	for provider, ok := range configured {
		if ok {
			details[provider] = "configured"
		} else {
			details[provider] = "missing"
			missing++
		}
	}

	result := CheckResult{
		Component: "provider_credentials",
		Details:   details,
		Duration:  time.Since(start),
	}
	switch {
	case missing == 0:
		result.Status = StatusHealthy
	case missing == len(configured):
		result.Status = StatusUnhealthy
		result.Message = "no research provider has credentials"
	default:
		result.Status = StatusDegraded
		result.Message = "some research providers have no credentials"
	}
	return result
}
