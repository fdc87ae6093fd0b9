package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/beacon/pkg/catalog"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) notify(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) index(key string, status Status) int {
	for i, ev := range l.snapshot() {
		if ev.Key == key && ev.Status == status {
			return i
		}
	}
	return -1
}

func (l *eventLog) terminal(key string) (Event, bool) {
	for _, ev := range l.snapshot() {
		if ev.Key == key && ev.Parent == "" && ev.Status.Terminal() {
			return ev, true
		}
	}
	return Event{}, false
}

type memRecorder struct {
	mu   sync.Mutex
	runs []RunningJob
}

func (m *memRecorder) RecordRun(r RunningJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

// blockingJob returns a job that signals started and then waits for release
// or cancellation.
func blockingJob(name string, started chan<- struct{}, release <-chan struct{}) catalog.JobDefinition {
	return catalog.JobDefinition{
		Name: name,
		Execute: func(ctx context.Context) error {
			if started != nil {
				started <- struct{}{}
			}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func newCatalog(t *testing.T, jobs []catalog.JobDefinition, pipelines ...catalog.PipelineDefinition) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(jobs, pipelines)
	require.NoError(t, err)
	return c
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
}

func receive(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestStartJob_UnknownJob(t *testing.T) {
	e := New(newCatalog(t, nil))

	assert.False(t, e.StartJob(context.Background(), "missing"))
	assert.Empty(t, e.ListRunning())
}

func TestStartJob_SingleFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	log := &eventLog{}
	e := New(newCatalog(t, []catalog.JobDefinition{blockingJob("Fetch", started, release)}), WithNotifier(log.notify))

	require.True(t, e.StartJob(context.Background(), "fetch"))
	assert.False(t, e.StartJob(context.Background(), "FETCH"), "second start must be rejected while running")
	receive(t, started)

	running := e.ListRunning()
	require.Len(t, running, 1)
	assert.Equal(t, "fetch", running[0].Key)
	assert.Equal(t, StatusRunning, running[0].Status)
	assert.True(t, e.IsRunning("Fetch"))

	close(release)
	waitIdle(t, e)

	assert.Empty(t, e.ListRunning())
	ev, ok := log.terminal("fetch")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, ev.Status)

	// Removal on completion re-enables the key.
	require.True(t, e.StartJob(context.Background(), "fetch"))
	receive(t, started)
	waitIdle(t, e)
}

func TestStartJob_Outcomes(t *testing.T) {
	tests := []struct {
		name         string
		run          catalog.JobFunc
		wantStatus   Status
		wantError    string
		wantExitCode int
	}{
		{
			name:       "success",
			run:        func(context.Context) error { return nil },
			wantStatus: StatusCompleted,
		},
		{
			name:         "exit code",
			run:          func(context.Context) error { return &catalog.ExitError{Code: 2} },
			wantStatus:   StatusFailed,
			wantError:    "exit code 2",
			wantExitCode: 2,
		},
		{
			name:       "textual failure",
			run:        func(context.Context) error { return errors.New("feed unavailable") },
			wantStatus: StatusFailed,
			wantError:  "feed unavailable",
		},
		{
			name:       "panic",
			run:        func(context.Context) error { panic("boom") },
			wantStatus: StatusFailed,
			wantError:  "panic: boom",
		},
		{
			name:       "nil entry point",
			run:        nil,
			wantStatus: StatusFailed,
			wantError:  "no entry point",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &eventLog{}
			rec := &memRecorder{}
			e := New(newCatalog(t, []catalog.JobDefinition{{Name: "job", Execute: tt.run}}),
				WithNotifier(log.notify), WithRecorder(rec))

			require.True(t, e.StartJob(context.Background(), "job"))
			waitIdle(t, e)

			ev, ok := log.terminal("job")
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, ev.Status)
			assert.Equal(t, tt.wantExitCode, ev.ExitCode)
			if tt.wantError != "" {
				assert.Contains(t, ev.Error, tt.wantError)
			} else {
				assert.Empty(t, ev.Error)
			}

			require.Len(t, rec.runs, 1)
			assert.Equal(t, tt.wantStatus, rec.runs[0].Status)
			assert.NotNil(t, rec.runs[0].CompletedAt)
		})
	}
}

func TestStartPipeline_FailingStepAbortsRest(t *testing.T) {
	var ranC atomic.Bool
	jobs := []catalog.JobDefinition{
		{Name: "A", Execute: func(context.Context) error { return nil }},
		{Name: "B", Execute: func(context.Context) error { return &catalog.ExitError{Code: 2} }},
		{Name: "C", Execute: func(context.Context) error { ranC.Store(true); return nil }},
	}
	log := &eventLog{}
	e := New(newCatalog(t, jobs, catalog.PipelineDefinition{Name: "P", Steps: []string{"A", "B", "C"}}),
		WithNotifier(log.notify))

	require.True(t, e.StartPipeline(context.Background(), "P"))
	waitIdle(t, e)

	final, ok := log.terminal("pipeline:p")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, `"B"`)
	assert.Equal(t, 2, final.ExitCode)
	assert.False(t, ranC.Load(), "steps after the failure must not run")

	aDone := log.index("a", StatusCompleted)
	bFailed := log.index("b", StatusFailed)
	pFailed := log.index("pipeline:p", StatusFailed)
	require.GreaterOrEqual(t, aDone, 0)
	require.GreaterOrEqual(t, bFailed, 0)
	assert.Less(t, aDone, bFailed)
	assert.Less(t, bFailed, pFailed)

	for _, ev := range log.snapshot() {
		if ev.Key == "b" {
			assert.Equal(t, "pipeline:p", ev.Parent)
			assert.Equal(t, 2, ev.Step)
		}
	}
}

func TestStartPipeline_UnknownStepFails(t *testing.T) {
	log := &eventLog{}
	jobs := []catalog.JobDefinition{{Name: "a", Execute: func(context.Context) error { return nil }}}
	e := New(newCatalog(t, jobs, catalog.PipelineDefinition{Name: "p", Steps: []string{"a", "ghost"}}),
		WithNotifier(log.notify))

	require.True(t, e.StartPipeline(context.Background(), "p"))
	waitIdle(t, e)

	final, ok := log.terminal("pipeline:p")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "ghost")
	assert.Contains(t, final.Error, catalog.ErrUnknownJob.Error())
}

func TestStartPipeline_UnknownPipeline(t *testing.T) {
	e := New(newCatalog(t, nil))
	assert.False(t, e.StartPipeline(context.Background(), "nope"))
}

func TestParentCancelCancelsEverything(t *testing.T) {
	started := make(chan struct{}, 3)
	release := make(chan struct{})
	jobs := []catalog.JobDefinition{
		blockingJob("one", started, release),
		blockingJob("two", started, release),
		blockingJob("three", started, release),
	}
	log := &eventLog{}
	e := New(newCatalog(t, jobs, catalog.PipelineDefinition{Name: "p", Steps: []string{"three", "one"}}),
		WithNotifier(log.notify))

	parent, cancel := context.WithCancel(context.Background())
	require.True(t, e.StartJob(parent, "one"))
	require.True(t, e.StartJob(parent, "two"))
	require.True(t, e.StartPipeline(parent, "p"))
	for i := 0; i < 3; i++ {
		receive(t, started)
	}

	cancel()
	waitIdle(t, e)

	for _, key := range []string{"one", "two", "pipeline:p"} {
		ev, ok := log.terminal(key)
		require.True(t, ok, key)
		assert.Equal(t, StatusCancelled, ev.Status, key)
		assert.Empty(t, ev.Error, key)
	}
	assert.Equal(t, -1, log.index("pipeline:p", StatusFailed))
}

func TestCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	log := &eventLog{}
	jobs := []catalog.JobDefinition{blockingJob("slow", started, release)}
	e := New(newCatalog(t, jobs, catalog.PipelineDefinition{Name: "Nightly", Steps: []string{"slow"}}),
		WithNotifier(log.notify))

	assert.False(t, e.Cancel("slow"), "nothing running yet")

	require.True(t, e.StartPipeline(context.Background(), "nightly"))
	receive(t, started)

	assert.False(t, e.Cancel("nightly"), "pipeline runs live under the pipeline key")
	assert.True(t, e.Cancel("Pipeline:NIGHTLY"))
	waitIdle(t, e)

	ev, ok := log.terminal("pipeline:nightly")
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, ev.Status)
}

func TestRunPipelineAndAwait_AttachesToInFlightRun(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	log := &eventLog{}
	jobs := []catalog.JobDefinition{blockingJob("fetch", started, release)}
	e := New(newCatalog(t, jobs, catalog.PipelineDefinition{Name: "default", Steps: []string{"fetch"}}),
		WithNotifier(log.notify))

	require.True(t, e.StartPipeline(context.Background(), "default"))
	receive(t, started)

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := e.RunPipelineAndAwait(context.Background(), "default")
		done <- result{ok, err}
	}()

	select {
	case <-done:
		t.Fatal("await returned before the pipeline finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.True(t, res.ok)
	case <-time.After(5 * time.Second):
		t.Fatal("await did not return")
	}
	waitIdle(t, e)

	starts := 0
	for _, ev := range log.snapshot() {
		if ev.Key == "pipeline:default" && ev.Status == StatusRunning {
			starts++
		}
	}
	assert.Equal(t, 1, starts, "attach must not start a second run")
}

func TestRunPipelineAndAwait_ReportsFailure(t *testing.T) {
	jobs := []catalog.JobDefinition{{Name: "bad", Execute: func(context.Context) error { return errors.New("nope") }}}
	e := New(newCatalog(t, jobs, catalog.PipelineDefinition{Name: "p", Steps: []string{"bad"}}))

	ok, err := e.RunPipelineAndAwait(context.Background(), "p")
	require.NoError(t, err)
	assert.False(t, ok)
	waitIdle(t, e)
}

func TestRunPipelineAndAwait_Unknown(t *testing.T) {
	e := New(newCatalog(t, nil))
	ok, err := e.RunPipelineAndAwait(context.Background(), "missing")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, catalog.ErrUnknownPipeline))
}

func TestRunPipelineAndAwait_ContextEndsWaitNotAttachedRun(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	jobs := []catalog.JobDefinition{blockingJob("fetch", started, release)}
	e := New(newCatalog(t, jobs, catalog.PipelineDefinition{Name: "p", Steps: []string{"fetch"}}))

	require.True(t, e.StartPipeline(context.Background(), "p"))
	receive(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := e.RunPipelineAndAwait(ctx, "p")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, e.IsRunning("pipeline:p"), "the attached run keeps going")

	close(release)
	waitIdle(t, e)
}

func TestNotifierPanicIsSwallowed(t *testing.T) {
	var calls atomic.Int32
	e := New(newCatalog(t, []catalog.JobDefinition{{Name: "job", Execute: func(context.Context) error { return nil }}}),
		WithNotifier(func(Event) {
			calls.Add(1)
			panic("notifier down")
		}))

	require.True(t, e.StartJob(context.Background(), "job"))
	waitIdle(t, e)
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, e.ListRunning())
}

func TestRunIDFromContext(t *testing.T) {
	ids := make(chan string, 1)
	log := &eventLog{}
	e := New(newCatalog(t, []catalog.JobDefinition{{Name: "job", Execute: func(ctx context.Context) error {
		id, _ := RunIDFromContext(ctx)
		ids <- id
		return nil
	}}}), WithNotifier(log.notify))

	require.True(t, e.StartJob(context.Background(), "job"))
	waitIdle(t, e)

	id := <-ids
	assert.NotEmpty(t, id)
	ev, ok := log.terminal("job")
	require.True(t, ok)
	assert.Equal(t, id, ev.RunID)

	_, ok = RunIDFromContext(context.Background())
	assert.False(t, ok)
}

func TestListRunning_SortedSnapshot(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{}, 2)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	clock := func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }

	jobs := []catalog.JobDefinition{blockingJob("b", started, release), blockingJob("a", started, release)}
	e := New(newCatalog(t, jobs), WithClock(clock))

	require.True(t, e.StartJob(context.Background(), "b"))
	require.True(t, e.StartJob(context.Background(), "a"))
	receive(t, started)
	receive(t, started)

	snap := e.ListRunning()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Key)
	assert.Equal(t, "a", snap[1].Key)

	snap[0].Status = StatusFailed
	assert.Equal(t, StatusRunning, e.ListRunning()[0].Status)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "fetch", NormalizeKey("  Fetch "))
	assert.Equal(t, "pipeline:default", NormalizeKey("PIPELINE:Default"))
	assert.Equal(t, "pipeline:default", PipelineKey("default"))
	assert.True(t, strings.HasPrefix(PipelineKey("x"), PipelinePrefix))
}
