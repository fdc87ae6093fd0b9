package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/beacon/internal/orchestrator"
)

type staticStatus orchestrator.Snapshot

func (s staticStatus) Snapshot() orchestrator.Snapshot { return orchestrator.Snapshot(s) }

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler(VersionInfo{Version: "1.4.0", Commit: "abc123"})(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.NotEmpty(t, info.GoVersion)

	rec = httptest.NewRecorder()
	VersionHandler(VersionInfo{})(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "dev", info.Version)
}

func TestStatusHandler(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := httptest.NewRecorder()
	StatusHandler(staticStatus{CycleCount: 3, LastCycleAt: &last, LastSummary: "quiet"})(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.EqualValues(t, 3, body["cycle_count"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["last_cycle_at"])
	assert.Equal(t, "quiet", body["last_summary"])
	assert.Equal(t, []any{}, body["running"])
	assert.NotContains(t, body, "next_heartbeat_at")
}

func TestStatusHandlerWithoutProvider(t *testing.T) {
	rec := httptest.NewRecorder()
	StatusHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
