// Package provider abstracts the object stores that feed documents into the
// agent. Only listing and bounded reads are needed; credentials come from
// the SDK default chains.
package provider

import (
	"context"
	"errors"
	"time"
)

// Provider lists and reads objects from one bucket or directory tree.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// List returns one page of objects under opts.Prefix.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Read returns at most limit bytes from the start of the object.
	// A non-positive limit reads the whole object.
	Read(ctx context.Context, key string, limit int64) ([]byte, error)

	Close() error
}

type ListOptions struct {
	Prefix string

	// ContinuationToken resumes from a previous ListResult; empty starts over.
	ContinuationToken string

	// MaxKeys caps the page size; zero uses the provider default.
	MaxKeys int
}

type ListResult struct {
	Objects           []ObjectSummary
	ContinuationToken string
	IsTruncated       bool
}

// ObjectSummary is the listing view of one object.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ProviderType identifies an object store implementation.
type ProviderType string

const (
	ProviderS3   ProviderType = "s3"
	ProviderFile ProviderType = "file"
)

func (p ProviderType) String() string {
	return string(p)
}

// ErrStopWalk ends Walk early without reporting an error.
var ErrStopWalk = errors.New("stop walk")

// Walk pages through every object under prefix and calls fn for each, in
// listing order. Returning ErrStopWalk from fn stops the walk cleanly.
func Walk(ctx context.Context, p Provider, prefix string, fn func(ObjectSummary) error) error {
	opts := ListOptions{Prefix: prefix}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := p.List(ctx, opts)
		if err != nil {
			return err
		}
		for _, obj := range page.Objects {
			if err := fn(obj); err != nil {
				if errors.Is(err, ErrStopWalk) {
					return nil
				}
				return err
			}
		}
		if !page.IsTruncated || page.ContinuationToken == "" {
			return nil
		}
		opts.ContinuationToken = page.ContinuationToken
	}
}
