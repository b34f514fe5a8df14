package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLiveness bool

func (f fakeLiveness) Connected() bool { return bool(f) }

func TestHealthChecker_Healthy(t *testing.T) {
	h := NewHealthChecker(fakeLiveness(true))
	h.MarkBatch(time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.True(t, status.Connected)
}

func TestHealthChecker_DegradedWhenDisconnected(t *testing.T) {
	h := NewHealthChecker(fakeLiveness(false))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", h.Status().Status)
}

func TestHealthChecker_KeepsRecentErrors(t *testing.T) {
	h := NewHealthChecker(nil)
	for i := 0; i < 15; i++ {
		h.RecordError("dispatch failed")
	}

	status := h.Status()
	assert.Equal(t, "unhealthy", status.Status)
	assert.Len(t, status.Errors, 10)

	h.ClearErrors()
	assert.Equal(t, "healthy", h.Status().Status)
}
