package jobregistry

import (
	"time"

	"github.com/3leaps/beacon/pkg/engine"
)

// RunRecord is the persistent record written to run.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type RunRecord struct {
	RunID    string        `json:"run_id"`
	Key      string        `json:"key"`
	Name     string        `json:"name,omitempty"`
	Kind     engine.Kind   `json:"kind"`
	Parent   string        `json:"parent,omitempty"`
	State    engine.Status `json:"state"`
	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	StdoutPath string     `json:"stdout_path,omitempty"`
	StderrPath string     `json:"stderr_path,omitempty"`
}

// Duration returns the elapsed run time, zero while running.
func (r RunRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

func recordFromRun(run engine.RunningJob) *RunRecord {
	rec := &RunRecord{
		RunID:     run.RunID,
		Key:       run.Key,
		Name:      run.Name,
		Kind:      run.Kind,
		Parent:    run.Parent,
		State:     run.Status,
		Error:     run.Error,
		ExitCode:  run.ExitCode,
		StartedAt: run.StartedAt.UTC(),
	}
	if run.CompletedAt != nil {
		t := run.CompletedAt.UTC()
		rec.EndedAt = &t
	}
	return rec
}
