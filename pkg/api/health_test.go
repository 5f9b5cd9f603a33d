package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandlerHealthy(t *testing.T) {
	hs := NewHealthServer(func() (bool, int64, int, int) {
		return true, 3, 5, 2
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hs.healthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.Worker.IsRunning)
	assert.Equal(t, int64(3), resp.Worker.Epoch)
	assert.Equal(t, 5, resp.Worker.Tasks)
	assert.Equal(t, 2, resp.Worker.Workflows)
	assert.NotZero(t, resp.Memory.SysBytes)
	assert.NotEmpty(t, resp.Uptime)
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	hs := NewHealthServer(func() (bool, int64, int, int) {
		return false, 0, 0, 0
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hs.healthHandler(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.False(t, resp.Worker.IsRunning)
}

func TestHealthHandlerMethodNotAllowed(t *testing.T) {
	hs := NewHealthServer(func() (bool, int64, int, int) {
		return true, 1, 0, 0
	})

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	hs.healthHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
