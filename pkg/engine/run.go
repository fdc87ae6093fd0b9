package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/beacon/pkg/catalog"
)

func (e *Engine) runJob(r *run, job catalog.JobDefinition) {
	defer e.finish(r)

	e.logger.Info("run started", zap.String("key", r.key), zap.String("run_id", r.runID))
	e.emit(eventFor(r.info, 0, r.info.StartedAt))

	err := e.execute(r.ctx, job)
	e.complete(r, err)
}

func (e *Engine) runPipeline(r *run, p catalog.PipelineDefinition) {
	defer e.finish(r)

	e.logger.Info("run started",
		zap.String("key", r.key),
		zap.String("run_id", r.runID),
		zap.Strings("steps", p.Steps),
	)
	e.emit(eventFor(r.info, 0, r.info.StartedAt))

	err := e.runSteps(r, p)
	e.complete(r, err)
}

// runSteps executes the pipeline steps in order and stops at the first
// failure. Unknown steps fail the pipeline rather than being skipped.
func (e *Engine) runSteps(r *run, p catalog.PipelineDefinition) error {
	for i, step := range p.Steps {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		job, ok := e.catalog.Job(step)
		if !ok {
			return fmt.Errorf("step %d (%s): %w", i+1, step, catalog.ErrUnknownJob)
		}
		if err := e.runStep(r, i+1, job); err != nil {
			return fmt.Errorf("step %q failed: %w", job.Name, err)
		}
	}
	return nil
}

// runStep executes one pipeline step inline. Steps get their own run id and
// lifecycle events but are not registered in the live set.
func (e *Engine) runStep(parent *run, index int, job catalog.JobDefinition) error {
	info := RunningJob{
		RunID:     uuid.NewString(),
		Key:       JobKey(job.Name),
		Name:      job.Name,
		Kind:      KindJob,
		Parent:    parent.key,
		Status:    StatusRunning,
		StartedAt: e.now(),
	}
	ctx := withRunID(parent.ctx, info.RunID)

	e.logger.Debug("step started",
		zap.String("key", info.Key),
		zap.String("parent", parent.key),
		zap.Int("step", index),
	)
	e.emit(eventFor(info, index, info.StartedAt))

	err := e.execute(ctx, job)

	info = e.settle(ctx, info, err)
	e.logOutcome(info)
	e.emit(eventFor(info, index, info.At()))
	e.record(info)
	return err
}

// execute invokes the job entry point, converting panics into errors.
func (e *Engine) execute(ctx context.Context, job catalog.JobDefinition) (err error) {
	if job.Execute == nil {
		return fmt.Errorf("job %q has no entry point", job.Name)
	}
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p}
		}
	}()
	return job.Execute(ctx)
}
