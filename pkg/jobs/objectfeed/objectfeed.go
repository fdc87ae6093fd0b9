// Package objectfeed copies new objects from an object store into a document
// source so the agent can surface them.
//
// An object is identified by key@etag: rewriting an object produces a new
// document, re-listing an unchanged one does not.
package objectfeed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/beacon/pkg/docsource"
	"github.com/3leaps/beacon/pkg/provider"
)

const (
	DefaultMaxObjects = 100
	DefaultMaxBytes   = 64 * 1024
)

// Header names set on produced documents.
const (
	HeaderKey          = "key"
	HeaderETag         = "etag"
	HeaderSize         = "size"
	HeaderLastModified = "last_modified"
	HeaderTruncated    = "truncated"
)

type Config struct {
	Name       string
	Prefix     string
	Include    []string
	Exclude    []string
	Output     string
	MaxObjects int
	MaxBytes   int64
	Logger     *zap.Logger
}

// Result counts what one run did.
type Result struct {
	Listed   int
	Matched  int
	Known    int
	Missing  int
	Appended int
}

type Feed struct {
	cfg    Config
	filter *Filter
	logger *zap.Logger
}

func New(cfg Config) (*Feed, error) {
	if strings.TrimSpace(cfg.Output) == "" {
		return nil, fmt.Errorf("objectfeed %s: output is required", cfg.Name)
	}
	filter, err := NewFilter(cfg.Include, cfg.Exclude)
	if err != nil {
		return nil, fmt.Errorf("objectfeed %s: %w", cfg.Name, err)
	}
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = DefaultMaxObjects
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{cfg: cfg, filter: filter, logger: logger}, nil
}

// DocumentID is the document id used for an object version.
func DocumentID(obj provider.ObjectSummary) string {
	if obj.ETag == "" {
		return obj.Key
	}
	return obj.Key + "@" + obj.ETag
}

// Run lists the store, reads up to MaxObjects objects not yet in the output
// source and appends them. Objects that vanish between listing and reading
// are skipped. Documents read before a failure or cancellation are still
// appended.
func (f *Feed) Run(ctx context.Context, p provider.Provider) (Result, error) {
	var res Result

	existing, err := docsource.Read(f.cfg.Output)
	if err != nil {
		return res, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		known[d.ID] = struct{}{}
	}

	var docs []docsource.Document
	walkErr := provider.Walk(ctx, p, f.cfg.Prefix, func(obj provider.ObjectSummary) error {
		res.Listed++
		if !f.filter.Match(obj.Key) {
			return nil
		}
		res.Matched++

		id := DocumentID(obj)
		if _, ok := known[id]; ok {
			res.Known++
			return nil
		}

		body, err := p.Read(ctx, obj.Key, f.cfg.MaxBytes)
		if err != nil {
			if provider.IsNotFound(err) {
				res.Missing++
				return nil
			}
			return err
		}
		known[id] = struct{}{}
		docs = append(docs, document(id, obj, body, f.cfg.MaxBytes))
		if len(docs) >= f.cfg.MaxObjects {
			return provider.ErrStopWalk
		}
		return nil
	})

	if len(docs) > 0 {
		if err := docsource.Append(f.cfg.Output, docs...); err != nil {
			return res, err
		}
		res.Appended = len(docs)
	}

	f.logger.Info("object feed pass",
		zap.String("job", f.cfg.Name),
		zap.Int("listed", res.Listed),
		zap.Int("matched", res.Matched),
		zap.Int("appended", res.Appended),
	)
	if walkErr != nil {
		return res, fmt.Errorf("objectfeed %s: %w", f.cfg.Name, walkErr)
	}
	return res, nil
}

func document(id string, obj provider.ObjectSummary, body []byte, maxBytes int64) docsource.Document {
	headers := map[string]string{
		HeaderKey:  obj.Key,
		HeaderSize: strconv.FormatInt(obj.Size, 10),
	}
	if obj.ETag != "" {
		headers[HeaderETag] = obj.ETag
	}
	if !obj.LastModified.IsZero() {
		headers[HeaderLastModified] = obj.LastModified.UTC().Format(time.RFC3339)
	}
	if obj.Size > maxBytes {
		headers[HeaderTruncated] = "true"
	}
	return docsource.Document{ID: id, Headers: headers, Body: string(body)}
}
