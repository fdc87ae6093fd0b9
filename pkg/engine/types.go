package engine

import (
	"context"
	"strings"
	"time"

	"github.com/3leaps/beacon/pkg/catalog"
)

// Status is the lifecycle state of a run.
//
// NOTE: These values are persisted by the run journal and are part of the
// stable on-disk contract.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Kind distinguishes job runs from pipeline runs.
type Kind string

const (
	KindJob      Kind = "job"
	KindPipeline Kind = "pipeline"
)

// PipelinePrefix is prepended to a pipeline name to form its run key.
const PipelinePrefix = "pipeline:"

// RunningJob is a point-in-time view of a run.
type RunningJob struct {
	RunID       string     `json:"run_id"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Kind        Kind       `json:"kind"`
	Parent      string     `json:"parent,omitempty"` // key of the owning pipeline, empty for top-level runs
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ExitCode    int        `json:"exit_code,omitempty"`
}

// Duration returns the elapsed run time. Running entries report zero.
func (r RunningJob) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// At returns the timestamp of the latest transition.
func (r RunningJob) At() time.Time {
	if r.CompletedAt != nil {
		return *r.CompletedAt
	}
	return r.StartedAt
}

// Event is a lifecycle notification.
type Event struct {
	RunID    string
	Key      string
	Name     string
	Kind     Kind
	Status   Status
	Parent   string
	Step     int // 1-based pipeline step index, 0 for top-level runs
	Error    string
	ExitCode int
	At       time.Time
	Duration time.Duration
}

// Notifier receives lifecycle events. It is invoked synchronously from the run
// goroutine; panics are recovered and ignored.
type Notifier func(Event)

// Recorder persists terminal runs. Failures are logged and otherwise ignored.
type Recorder interface {
	RecordRun(run RunningJob) error
}

// JobKey returns the run key for a job name.
func JobKey(name string) string {
	return catalog.NormalizeName(name)
}

// PipelineKey returns the run key for a pipeline name.
func PipelineKey(name string) string {
	return PipelinePrefix + catalog.NormalizeName(name)
}

// NormalizeKey folds a user supplied key. Keys carrying the pipeline prefix in
// any case are mapped to PipelineKey, everything else to JobKey.
func NormalizeKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if len(trimmed) >= len(PipelinePrefix) && strings.EqualFold(trimmed[:len(PipelinePrefix)], PipelinePrefix) {
		return PipelineKey(trimmed[len(PipelinePrefix):])
	}
	return JobKey(trimmed)
}

type runIDKey struct{}

func withRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the id of the run executing under ctx.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}
