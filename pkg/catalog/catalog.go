// Package catalog defines the immutable registry of jobs and pipelines the
// agent can run.
//
// A Catalog is built once at startup and passed explicitly to the job engine
// and the orchestrator. Names are matched case-insensitively. Pipeline steps
// are not resolved when the catalog is built: a step naming a job that does
// not exist is reported when the pipeline runs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for catalog lookups.
var (
	// ErrUnknownJob indicates no job is registered under the requested name.
	ErrUnknownJob = errors.New("unknown job")

	// ErrUnknownPipeline indicates no pipeline is registered under the requested name.
	ErrUnknownPipeline = errors.New("unknown pipeline")

	// ErrDuplicateName indicates two definitions share a name.
	ErrDuplicateName = errors.New("duplicate name")
)

// JobFunc is the entry point of a job.
//
// A nil return is success. Return an *ExitError to report a numeric failure
// code; any other error is a textual failure. Long-running work must watch
// ctx and return promptly once it is done.
type JobFunc func(ctx context.Context) error

// JobDefinition describes a named unit of background work.
type JobDefinition struct {
	Name        string
	Description string
	Execute     JobFunc
}

// PipelineDefinition is an ordered list of job names run as one logical run.
type PipelineDefinition struct {
	Name        string
	Description string
	Steps       []string
}

// ExitError reports a job failure with a numeric exit code.
type ExitError struct {
	Code int
	Err  error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit code %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// Catalog is an immutable registry of job and pipeline definitions.
type Catalog struct {
	jobs      map[string]JobDefinition
	pipelines map[string]PipelineDefinition

	// Registration order, used for listing.
	jobOrder      []string
	pipelineOrder []string
}

// New builds a Catalog from the given definitions.
//
// Returns an error if a definition has an empty name or if two jobs (or two
// pipelines) share a name after case folding. A job and a pipeline may share
// a name; they live in separate namespaces.
func New(jobs []JobDefinition, pipelines []PipelineDefinition) (*Catalog, error) {
	c := &Catalog{
		jobs:      make(map[string]JobDefinition, len(jobs)),
		pipelines: make(map[string]PipelineDefinition, len(pipelines)),
	}

	for _, job := range jobs {
		key := NormalizeName(job.Name)
		if key == "" {
			return nil, fmt.Errorf("catalog: job missing name")
		}
		if _, exists := c.jobs[key]; exists {
			return nil, fmt.Errorf("catalog: job %q: %w", job.Name, ErrDuplicateName)
		}
		job.Name = strings.TrimSpace(job.Name)
		c.jobs[key] = job
		c.jobOrder = append(c.jobOrder, key)
	}

	for _, p := range pipelines {
		key := NormalizeName(p.Name)
		if key == "" {
			return nil, fmt.Errorf("catalog: pipeline missing name")
		}
		if _, exists := c.pipelines[key]; exists {
			return nil, fmt.Errorf("catalog: pipeline %q: %w", p.Name, ErrDuplicateName)
		}
		p.Name = strings.TrimSpace(p.Name)
		p.Steps = cloneStrings(p.Steps)
		c.pipelines[key] = p
		c.pipelineOrder = append(c.pipelineOrder, key)
	}

	return c, nil
}

// Job looks up a job by name.
func (c *Catalog) Job(name string) (JobDefinition, bool) {
	if c == nil {
		return JobDefinition{}, false
	}
	job, ok := c.jobs[NormalizeName(name)]
	return job, ok
}

// Pipeline looks up a pipeline by name. The returned Steps slice is a copy.
func (c *Catalog) Pipeline(name string) (PipelineDefinition, bool) {
	if c == nil {
		return PipelineDefinition{}, false
	}
	p, ok := c.pipelines[NormalizeName(name)]
	if !ok {
		return PipelineDefinition{}, false
	}
	p.Steps = cloneStrings(p.Steps)
	return p, true
}

// Jobs returns all job definitions in registration order.
func (c *Catalog) Jobs() []JobDefinition {
	if c == nil {
		return nil
	}
	out := make([]JobDefinition, 0, len(c.jobOrder))
	for _, key := range c.jobOrder {
		out = append(out, c.jobs[key])
	}
	return out
}

// Pipelines returns all pipeline definitions in registration order.
func (c *Catalog) Pipelines() []PipelineDefinition {
	if c == nil {
		return nil
	}
	out := make([]PipelineDefinition, 0, len(c.pipelineOrder))
	for _, key := range c.pipelineOrder {
		p := c.pipelines[key]
		p.Steps = cloneStrings(p.Steps)
		out = append(out, p)
	}
	return out
}

// NormalizeName folds a job or pipeline name into its lookup key.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
