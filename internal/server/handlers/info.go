package handlers

import (
	"net/http"
	"runtime"

	apperrors "github.com/3leaps/beacon/internal/errors"
	"github.com/3leaps/beacon/internal/orchestrator"
	"github.com/3leaps/beacon/pkg/engine"
)

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
}

// VersionHandler serves build metadata.
func VersionHandler(info VersionInfo) http.HandlerFunc {
	if info.Version == "" {
		info.Version = "dev"
	}
	info.GoVersion = runtime.Version()
	return func(w http.ResponseWriter, _ *http.Request) {
		apperrors.WriteJSON(w, http.StatusOK, info)
	}
}

// StatusProvider exposes the agent's current snapshot.
type StatusProvider interface {
	Snapshot() orchestrator.Snapshot
}

// StatusHandler serves the agent snapshot, or 503 before the agent is wired.
func StatusHandler(p StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			respondWithError(w, r, apperrors.ServiceUnavailable("agent status is not available", nil))
			return
		}
		snap := p.Snapshot()
		if snap.Running == nil {
			snap.Running = []engine.RunningJob{}
		}
		apperrors.WriteJSON(w, http.StatusOK, snap)
	}
}
