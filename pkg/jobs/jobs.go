// Package jobs turns catalog file entries into runnable job definitions.
package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/beacon/pkg/catalog"
	"github.com/3leaps/beacon/pkg/jobregistry"
	"github.com/3leaps/beacon/pkg/jobs/objectfeed"
	"github.com/3leaps/beacon/pkg/provider"
	"github.com/3leaps/beacon/pkg/provider/file"
	"github.com/3leaps/beacon/pkg/provider/s3"
)

// ProviderOpener builds the object store an objectfeed job reads from.
type ProviderOpener func(ctx context.Context, spec catalog.ObjectFeedSpec) (provider.Provider, error)

// Factory builds job definitions for every kind the catalog file supports.
type Factory struct {
	Executor *jobregistry.Executor
	Logger   *zap.Logger

	// OpenProvider defaults to OpenProvider.
	OpenProvider ProviderOpener
}

func (f *Factory) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// Catalog builds the job catalog described by file.
func (f *Factory) Catalog(file *catalog.File) (*catalog.Catalog, error) {
	if file == nil {
		return catalog.New(nil, nil)
	}
	defs := make([]catalog.JobDefinition, 0, len(file.Jobs))
	for _, spec := range file.Jobs {
		def, err := f.Job(spec)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	pipelines := make([]catalog.PipelineDefinition, 0, len(file.Pipelines))
	for _, p := range file.Pipelines {
		pipelines = append(pipelines, catalog.PipelineDefinition{
			Name:        p.Name,
			Description: p.Description,
			Steps:       p.Steps,
		})
	}
	return catalog.New(defs, pipelines)
}

// Job builds one job definition. Patterns and required fields are checked
// here so a bad entry fails at startup rather than on first run.
func (f *Factory) Job(spec catalog.JobSpec) (catalog.JobDefinition, error) {
	switch spec.Kind {
	case catalog.KindCommand, "":
		if f.Executor == nil {
			return catalog.JobDefinition{}, fmt.Errorf("job %q: no command executor configured", spec.Name)
		}
		return f.Executor.Job(spec.Name, spec.Description, jobregistry.Command{
			Name:    spec.Name,
			Path:    spec.Command,
			Args:    spec.Args,
			Dir:     spec.Dir,
			Env:     spec.Env,
			Timeout: spec.Timeout,
		}), nil
	case catalog.KindObjectFeed:
		return f.objectFeedJob(spec)
	default:
		return catalog.JobDefinition{}, fmt.Errorf("job %q: unsupported kind %q", spec.Name, spec.Kind)
	}
}

func (f *Factory) objectFeedJob(spec catalog.JobSpec) (catalog.JobDefinition, error) {
	if spec.ObjectFeed == nil {
		return catalog.JobDefinition{}, fmt.Errorf("job %q: objectfeed block is required", spec.Name)
	}
	feedSpec := *spec.ObjectFeed
	feed, err := objectfeed.New(objectfeed.Config{
		Name:       spec.Name,
		Prefix:     feedSpec.Prefix,
		Include:    feedSpec.Include,
		Exclude:    feedSpec.Exclude,
		Output:     feedSpec.Output,
		MaxObjects: feedSpec.MaxObjects,
		MaxBytes:   feedSpec.MaxBytes,
		Logger:     f.logger(),
	})
	if err != nil {
		return catalog.JobDefinition{}, err
	}

	open := f.OpenProvider
	if open == nil {
		open = OpenProvider
	}
	timeout := spec.Timeout

	return catalog.JobDefinition{
		Name:        spec.Name,
		Description: spec.Description,
		Execute: func(ctx context.Context) error {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			p, err := open(ctx, feedSpec)
			if err != nil {
				return fmt.Errorf("open %s provider: %w", feedSpec.Provider, err)
			}
			defer func() { _ = p.Close() }()
			_, err = feed.Run(ctx, p)
			return err
		},
	}, nil
}

// OpenProvider builds the s3 or file provider named by spec.
func OpenProvider(ctx context.Context, spec catalog.ObjectFeedSpec) (provider.Provider, error) {
	switch provider.ProviderType(spec.Provider) {
	case provider.ProviderS3, "":
		return s3.New(ctx, s3.Config{
			Bucket:         spec.Bucket,
			Region:         spec.Region,
			Endpoint:       spec.Endpoint,
			Profile:        spec.Profile,
			ForcePathStyle: spec.Endpoint != "",
		})
	case provider.ProviderFile:
		return file.New(file.Config{BaseDir: spec.BaseDir})
	default:
		return nil, fmt.Errorf("unsupported provider %q", spec.Provider)
	}
}
