package objectfeed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/beacon/pkg/docsource"
	"github.com/3leaps/beacon/pkg/provider"
	"github.com/3leaps/beacon/pkg/provider/file"
)

// memProvider serves a fixed listing; keys absent from bodies read as
// not found.
type memProvider struct {
	objects []provider.ObjectSummary
	bodies  map[string]string
	reads   []string
	readErr error
}

func (m *memProvider) List(_ context.Context, _ provider.ListOptions) (*provider.ListResult, error) {
	return &provider.ListResult{Objects: m.objects}, nil
}

func (m *memProvider) Read(_ context.Context, key string, limit int64) ([]byte, error) {
	m.reads = append(m.reads, key)
	if m.readErr != nil {
		return nil, m.readErr
	}
	body, ok := m.bodies[key]
	if !ok {
		return nil, &provider.ProviderError{Op: "Read", Key: key, Err: provider.ErrNotFound}
	}
	if limit > 0 && int64(len(body)) > limit {
		body = body[:limit]
	}
	return []byte(body), nil
}

func (m *memProvider) Close() error { return nil }

func TestFilter(t *testing.T) {
	f, err := NewFilter([]string{"reports/**/*.md"}, []string{"**/draft-*"})
	require.NoError(t, err)

	assert.True(t, f.Match("reports/2026/q1.md"))
	assert.False(t, f.Match("reports/2026/draft-q2.md"))
	assert.False(t, f.Match("reports/2026/q1.txt"))
	assert.False(t, f.Match("reports/.cache/q1.md"))
	assert.False(t, f.Match("reports/2026/"))

	all, err := NewFilter(nil, nil)
	require.NoError(t, err)
	assert.True(t, all.Match("anything"))

	_, err = NewFilter([]string{"[unclosed"}, nil)
	assert.True(t, errors.Is(err, ErrInvalidPattern))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Name: "x"})
	require.Error(t, err)

	_, err = New(Config{Name: "x", Output: "out.jsonl", Exclude: []string{"{a,"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "objectfeed x")
}

func TestRun_AppendsNewObjectsOnce(t *testing.T) {
	base := t.TempDir()
	writeObject(t, base, "reports/a.md", "# A")
	writeObject(t, base, "reports/b.txt", "ignored")
	writeObject(t, base, "reports/c.md", "# C")

	p, err := file.New(file.Config{BaseDir: base})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "reports.jsonl")
	feed, err := New(Config{Name: "reports", Prefix: "reports/", Include: []string{"**/*.md"}, Output: out})
	require.NoError(t, err)

	res, err := feed.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Result{Listed: 3, Matched: 2, Appended: 2}, res)

	docs, err := docsource.Read(out)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "reports/a.md", docs[0].Header(HeaderKey))
	assert.Equal(t, "# A", docs[0].Body)
	assert.Contains(t, docs[0].ID, "reports/a.md@")
	assert.NotEmpty(t, docs[0].Header(HeaderLastModified))

	again, err := feed.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Appended)
	assert.Equal(t, 2, again.Known)
}

func TestRun_LimitsAndTruncation(t *testing.T) {
	m := &memProvider{
		objects: []provider.ObjectSummary{
			{Key: "a", ETag: "1", Size: 10},
			{Key: "b", ETag: "1", Size: 3},
			{Key: "c", ETag: "1", Size: 3},
		},
		bodies: map[string]string{"a": "0123456789", "b": "bbb", "c": "ccc"},
	}
	out := filepath.Join(t.TempDir(), "out.jsonl")
	feed, err := New(Config{Name: "feed", Output: out, MaxObjects: 2, MaxBytes: 4})
	require.NoError(t, err)

	res, err := feed.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Appended)
	assert.Equal(t, []string{"a", "b"}, m.reads)

	docs, err := docsource.Read(out)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "0123", docs[0].Body)
	assert.Equal(t, "true", docs[0].Header(HeaderTruncated))
	assert.Equal(t, "", docs[1].Header(HeaderTruncated))
	assert.Equal(t, "a@1", docs[0].ID)
}

func TestRun_SkipsVanishedObjects(t *testing.T) {
	m := &memProvider{
		objects: []provider.ObjectSummary{
			{Key: "gone", ETag: "1", LastModified: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
			{Key: "here", ETag: "2"},
		},
		bodies: map[string]string{"here": "body"},
	}
	out := filepath.Join(t.TempDir(), "out.jsonl")
	feed, err := New(Config{Name: "feed", Output: out})
	require.NoError(t, err)

	res, err := feed.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, 1, res.Appended)
}

func TestRun_ReadFailure(t *testing.T) {
	m := &memProvider{
		objects: []provider.ObjectSummary{{Key: "a", ETag: "1"}},
		readErr: &provider.ProviderError{Op: "Read", Key: "a", Err: provider.ErrAccessDenied},
	}
	feed, err := New(Config{Name: "feed", Output: filepath.Join(t.TempDir(), "out.jsonl")})
	require.NoError(t, err)

	_, err = feed.Run(context.Background(), m)
	require.Error(t, err)
	assert.True(t, provider.IsAccessDenied(err))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	feed, err := New(Config{Name: "feed", Output: filepath.Join(t.TempDir(), "out.jsonl")})
	require.NoError(t, err)

	_, err = feed.Run(ctx, &memProvider{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func writeObject(t *testing.T, base, key, body string) {
	t.Helper()
	path := filepath.Join(base, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}
