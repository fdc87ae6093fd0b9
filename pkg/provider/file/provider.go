// Package file serves object feeds from a local directory tree. Keys are
// slash-separated paths relative to the base directory.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/3leaps/beacon/pkg/provider"
)

const defaultMaxKeys = 1000

type Provider struct {
	baseDir string
}

var _ provider.Provider = (*Provider)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (p *Provider) Close() error { return nil }

// List pages through regular files in key order. The continuation token is
// the last key of the previous page.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}

	keys, err := p.collectKeys(ctx, opts.Prefix)
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}

	start := 0
	if opts.ContinuationToken != "" {
		start = sort.Search(len(keys), func(i int) bool { return keys[i] > opts.ContinuationToken })
	}
	end := min(start+maxKeys, len(keys))

	objects := make([]provider.ObjectSummary, 0, end-start)
	for _, k := range keys[start:end] {
		st, err := os.Stat(p.fullPath(k))
		if err != nil || st.IsDir() {
			continue
		}
		objects = append(objects, provider.ObjectSummary{
			Key:          k,
			Size:         st.Size(),
			ETag:         etag(st),
			LastModified: st.ModTime(),
		})
	}

	res := &provider.ListResult{Objects: objects}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

func (p *Provider) Read(ctx context.Context, key string, limit int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, p.wrapError("Read", key, fmt.Errorf("key is required"))
	}
	f, err := os.Open(p.fullPath(key))
	if err != nil {
		return nil, p.wrapError("Read", key, err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, p.wrapError("Read", key, err)
	}
	return b, nil
}

// fullPath cleans key as a rooted path first, so ".." segments cannot
// escape the base directory.
func (p *Provider) fullPath(key string) string {
	clean := path.Clean("/" + strings.TrimSpace(key))
	return filepath.Join(p.baseDir, filepath.FromSlash(clean))
}

// collectKeys walks the base directory and returns the sorted keys starting
// with prefix. The walk is rooted at the deepest directory the prefix names.
func (p *Provider) collectKeys(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	root := p.baseDir
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		root = p.fullPath(prefix[:i])
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, name)
		if err != nil {
			return nil
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: err}
	switch {
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}

// etag stands in for a content hash: it changes whenever the file is
// rewritten or resized.
func etag(st fs.FileInfo) string {
	return strconv.FormatInt(st.ModTime().UnixNano(), 16) + "-" + strconv.FormatInt(st.Size(), 16)
}
