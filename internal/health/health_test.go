package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCriticalFailureMakesServiceUnhealthy(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(NewPingChecker("jobstore", true, func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	m.Register(NewPingChecker("history", false, func(ctx context.Context) error {
		return nil
	}))

	report := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["jobstore"].Status)
	assert.Equal(t, StatusHealthy, report.Checks["history"].Status)
}

func TestNonCriticalFailureOnlyDegrades(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(NewPingChecker("jobstore", true, func(ctx context.Context) error {
		return nil
	}))
	m.Register(NewPingChecker("history", false, func(ctx context.Context) error {
		return errors.New("pool exhausted")
	}))

	report := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestCredentialCheckerStates(t *testing.T) {
	tests := []struct {
		name string
		keys map[string]bool
		want CheckStatus
	}{
		{"all configured", map[string]bool{"gemini": true, "openai": true, "perplexity": true}, StatusHealthy},
		{"partially configured", map[string]bool{"gemini": true, "openai": false, "perplexity": true}, StatusDegraded},
		{"none configured", map[string]bool{"gemini": false, "openai": false, "perplexity": false}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCredentialChecker(func() map[string]bool { return tt.keys })
			result := c.Check(context.Background())
			assert.Equal(t, tt.want, result.Status)
		})
	}
}

func TestHandlerStatusCodes(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(NewPingChecker("jobstore", true, func(ctx context.Context) error {
		return nil
	}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 200, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "healthy", report.Checks["jobstore"].Status.String())

	m.Register(NewPingChecker("jobstore", true, func(ctx context.Context) error {
		return errors.New("down")
	}))
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 503, rec.Code)
}
