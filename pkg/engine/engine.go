// Package engine runs catalog jobs and pipelines in the background.
//
// At most one run exists per key at a time. Job keys are the lower-cased job
// name; pipeline keys are "pipeline:<name>". Every run gets a child context
// of the caller's context, so cancelling the parent cancels every outstanding
// run, while Cancel affects a single run only.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/beacon/pkg/catalog"
)

// Engine executes jobs and pipelines from a catalog.
type Engine struct {
	catalog  *catalog.Catalog
	notify   Notifier
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

type run struct {
	key    string
	runID  string
	info   RunningJob
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the lifecycle callback.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

// WithRecorder sets the terminal run recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine over cat.
func New(cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog: cat,
		logger:  zap.NewNop(),
		now:     time.Now,
		runs:    make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartJob starts the named job in the background.
//
// Returns false if the job is unknown or a run with the same key is already
// in flight. Neither case is an error.
func (e *Engine) StartJob(ctx context.Context, name string) bool {
	job, ok := e.catalog.Job(name)
	if !ok {
		e.logger.Debug("start rejected: unknown job", zap.String("job", name))
		return false
	}
	r, created := e.register(ctx, JobKey(job.Name), job.Name, KindJob)
	if !created {
		e.logger.Debug("start rejected: already running", zap.String("key", r.key))
		return false
	}
	go e.runJob(r, job)
	return true
}

// StartPipeline starts the named pipeline in the background. It follows the
// same rules as StartJob under the key "pipeline:<name>".
func (e *Engine) StartPipeline(ctx context.Context, name string) bool {
	p, ok := e.catalog.Pipeline(name)
	if !ok {
		e.logger.Debug("start rejected: unknown pipeline", zap.String("pipeline", name))
		return false
	}
	r, created := e.register(ctx, PipelineKey(p.Name), p.Name, KindPipeline)
	if !created {
		e.logger.Debug("start rejected: already running", zap.String("key", r.key))
		return false
	}
	go e.runPipeline(r, p)
	return true
}

// RunPipelineAndAwait starts the named pipeline, or attaches to the run
// already in flight under the same key, and blocks until it finishes or ctx
// is done.
//
// The boolean reports whether the run completed successfully. The error is
// non-nil only when the pipeline is unknown or ctx ended the wait; an attached
// run keeps going when ctx is cancelled.
func (e *Engine) RunPipelineAndAwait(ctx context.Context, name string) (bool, error) {
	p, ok := e.catalog.Pipeline(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", catalog.ErrUnknownPipeline, name)
	}
	r, created := e.register(ctx, PipelineKey(p.Name), p.Name, KindPipeline)
	if created {
		go e.runPipeline(r, p)
	} else {
		e.logger.Debug("attached to in-flight pipeline", zap.String("key", r.key), zap.String("run_id", r.runID))
	}

	select {
	case <-r.done:
		e.mu.Lock()
		status := r.info.Status
		e.mu.Unlock()
		return status == StatusCompleted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Cancel signals cancellation to the run registered under key. Pipeline keys
// may be given as "pipeline:<name>". Returns whether a run was found.
//
// Cancellation is cooperative: the job must observe its context.
func (e *Engine) Cancel(key string) bool {
	k := NormalizeKey(key)
	e.mu.Lock()
	r, ok := e.runs[k]
	e.mu.Unlock()
	if !ok {
		return false
	}
	e.logger.Info("cancelling run", zap.String("key", k), zap.String("run_id", r.runID))
	r.cancel()
	return true
}

// IsRunning reports whether a run is registered under key.
func (e *Engine) IsRunning(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[NormalizeKey(key)]
	return ok
}

// ListRunning returns copies of the in-flight runs ordered by start time.
func (e *Engine) ListRunning() []RunningJob {
	e.mu.Lock()
	out := make([]RunningJob, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, r.info)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Wait blocks until every run has finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register inserts a new run under key unless one exists. It returns the
// existing run with created=false in that case.
func (e *Engine) register(parent context.Context, key, name string, kind Kind) (*run, bool) {
	if parent == nil {
		parent = context.Background()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.runs[key]; ok {
		return existing, false
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	r := &run{
		key:   key,
		runID: runID,
		info: RunningJob{
			RunID:     runID,
			Key:       key,
			Name:      name,
			Kind:      kind,
			Status:    StatusRunning,
			StartedAt: e.now(),
		},
		ctx:    withRunID(ctx, runID),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.runs[key] = r
	e.wg.Add(1)
	return r, true
}

// finish removes r from the live set and releases its scope.
func (e *Engine) finish(r *run) {
	e.mu.Lock()
	if current, ok := e.runs[r.key]; ok && current == r {
		delete(e.runs, r.key)
	}
	e.mu.Unlock()

	r.cancel()
	close(r.done)
	e.wg.Done()
}

// complete records the outcome of r and emits its terminal event.
func (e *Engine) complete(r *run, err error) {
	e.mu.Lock()
	r.info = e.settle(r.ctx, r.info, err)
	final := r.info
	e.mu.Unlock()

	e.logOutcome(final)
	e.emit(eventFor(final, 0, final.At()))
	e.record(final)
}

func (e *Engine) emit(ev Event) {
	if e.notify == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			e.logger.Warn("notifier panicked", zap.String("key", ev.Key), zap.Any("panic", p))
		}
	}()
	e.notify(ev)
}

func (e *Engine) record(info RunningJob) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordRun(info); err != nil {
		e.logger.Warn("failed to record run", zap.String("run_id", info.RunID), zap.Error(err))
	}
}

func (e *Engine) logOutcome(info RunningJob) {
	fields := []zap.Field{
		zap.String("key", info.Key),
		zap.String("run_id", info.RunID),
		zap.Duration("duration", info.Duration()),
	}
	if info.Parent != "" {
		fields = append(fields, zap.String("parent", info.Parent))
	}
	switch info.Status {
	case StatusFailed:
		fields = append(fields, zap.String("error", info.Error))
		if info.ExitCode != 0 {
			fields = append(fields, zap.Int("exit_code", info.ExitCode))
		}
		e.logger.Error("run failed", fields...)
	case StatusCancelled:
		e.logger.Info("run cancelled", fields...)
	default:
		e.logger.Info("run completed", fields...)
	}
}

func eventFor(info RunningJob, step int, at time.Time) Event {
	return Event{
		RunID:    info.RunID,
		Key:      info.Key,
		Name:     info.Name,
		Kind:     info.Kind,
		Status:   info.Status,
		Parent:   info.Parent,
		Step:     step,
		Error:    info.Error,
		ExitCode: info.ExitCode,
		At:       at,
		Duration: info.Duration(),
	}
}

// panicError carries a value recovered from a job.
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// classify maps a job result onto a terminal status.
//
// Any error returned while the run's own context is done counts as
// cancellation, since cooperative jobs surface cancellation in many shapes
// (context.Canceled, a killed child process, a closed reader).
func classify(ctx context.Context, err error) (Status, string, int) {
	if err == nil {
		return StatusCompleted, "", 0
	}
	var pe *panicError
	if errors.As(err, &pe) {
		return StatusFailed, err.Error(), 0
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return StatusCancelled, "", 0
	}
	var exitErr *catalog.ExitError
	if errors.As(err, &exitErr) {
		return StatusFailed, err.Error(), exitErr.Code
	}
	return StatusFailed, err.Error(), 0
}

func (e *Engine) settle(ctx context.Context, info RunningJob, err error) RunningJob {
	now := e.now()
	info.Status, info.Error, info.ExitCode = classify(ctx, err)
	info.CompletedAt = &now
	return info
}
