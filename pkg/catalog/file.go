package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Job kinds understood by the catalog file.
const (
	KindCommand    = "command"
	KindObjectFeed = "objectfeed"
)

// File is the on-disk catalog description.
//
// Example:
//
//	jobs:
//	  - name: fetch-news
//	    kind: command
//	    command: ./scripts/fetch_news.sh
//	pipelines:
//	  - name: default
//	    steps: [fetch-news]
type File struct {
	Jobs      []JobSpec      `yaml:"jobs"`
	Pipelines []PipelineSpec `yaml:"pipelines"`
}

// JobSpec declares one job. Exactly one kind-specific block applies.
type JobSpec struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Kind        string        `yaml:"kind"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`

	// command
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`
	Env     []string `yaml:"env,omitempty"`

	// objectfeed
	ObjectFeed *ObjectFeedSpec `yaml:"objectfeed,omitempty"`
}

// ObjectFeedSpec configures a job that copies new storage objects into a
// document source.
type ObjectFeedSpec struct {
	Provider   string   `yaml:"provider"`
	Bucket     string   `yaml:"bucket,omitempty"`
	Region     string   `yaml:"region,omitempty"`
	Endpoint   string   `yaml:"endpoint,omitempty"`
	Profile    string   `yaml:"profile,omitempty"`
	BaseDir    string   `yaml:"base_dir,omitempty"`
	Prefix     string   `yaml:"prefix,omitempty"`
	Include    []string `yaml:"include,omitempty"`
	Exclude    []string `yaml:"exclude,omitempty"`
	Output     string   `yaml:"output"`
	MaxObjects int      `yaml:"max_objects,omitempty"`
	MaxBytes   int64    `yaml:"max_bytes,omitempty"`
}

// PipelineSpec declares one pipeline.
type PipelineSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Steps       []string `yaml:"steps"`
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading catalog: %s", path)
		}
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromReader reads and validates a catalog description from r.
func LoadFromReader(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates a catalog description. JSON input is
// accepted as a subset of YAML. Unknown fields are rejected.
func LoadFromBytes(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("catalog file is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ApplyDefaults fills optional fields.
func (f *File) ApplyDefaults() {
	for i := range f.Jobs {
		j := &f.Jobs[i]
		j.Kind = strings.ToLower(strings.TrimSpace(j.Kind))
		if j.Kind == "" {
			j.Kind = KindCommand
		}
		if j.ObjectFeed != nil {
			if j.ObjectFeed.Provider == "" {
				j.ObjectFeed.Provider = "s3"
			}
			if j.ObjectFeed.MaxObjects <= 0 {
				j.ObjectFeed.MaxObjects = 100
			}
			if j.ObjectFeed.MaxBytes <= 0 {
				j.ObjectFeed.MaxBytes = 64 * 1024
			}
		}
	}
}

// Validate checks structural rules that do not depend on other jobs existing.
// Step names are deliberately left unresolved.
func (f *File) Validate() error {
	var errs []error
	for i, j := range f.Jobs {
		label := fmt.Sprintf("jobs[%d]", i)
		if strings.TrimSpace(j.Name) == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
			continue
		}
		label = fmt.Sprintf("job %q", j.Name)
		switch j.Kind {
		case KindCommand:
			if strings.TrimSpace(j.Command) == "" {
				errs = append(errs, fmt.Errorf("%s: command is required", label))
			}
		case KindObjectFeed:
			if j.ObjectFeed == nil {
				errs = append(errs, fmt.Errorf("%s: objectfeed block is required", label))
				continue
			}
			if strings.TrimSpace(j.ObjectFeed.Output) == "" {
				errs = append(errs, fmt.Errorf("%s: objectfeed.output is required", label))
			}
			switch j.ObjectFeed.Provider {
			case "s3":
				if strings.TrimSpace(j.ObjectFeed.Bucket) == "" {
					errs = append(errs, fmt.Errorf("%s: objectfeed.bucket is required for s3", label))
				}
			case "file":
				if strings.TrimSpace(j.ObjectFeed.BaseDir) == "" {
					errs = append(errs, fmt.Errorf("%s: objectfeed.base_dir is required for file", label))
				}
			default:
				errs = append(errs, fmt.Errorf("%s: unsupported objectfeed provider %q", label, j.ObjectFeed.Provider))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unsupported kind %q", label, j.Kind))
		}
		if j.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s: timeout must be >= 0", label))
		}
	}
	for i, p := range f.Pipelines {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("pipelines[%d]: name is required", i))
			continue
		}
		if len(p.Steps) == 0 {
			errs = append(errs, fmt.Errorf("pipeline %q: at least one step is required", p.Name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid catalog: %w", errors.Join(errs...))
	}
	return nil
}
