package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/beacon/pkg/provider"
)

func writeFile(t *testing.T, base, key, body string) {
	t.Helper()
	path := filepath.Join(base, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{BaseDir: " "})
	require.Error(t, err)
}

func TestList_PrefixAndPaging(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "reports/a.md", "a")
	writeFile(t, base, "reports/b.md", "bb")
	writeFile(t, base, "reports/2026/c.md", "ccc")
	writeFile(t, base, "other/d.md", "d")

	p, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	first, err := p.List(context.Background(), provider.ListOptions{Prefix: "reports/", MaxKeys: 2})
	require.NoError(t, err)
	require.Len(t, first.Objects, 2)
	assert.Equal(t, "reports/2026/c.md", first.Objects[0].Key)
	assert.Equal(t, "reports/a.md", first.Objects[1].Key)
	assert.True(t, first.IsTruncated)
	assert.NotEmpty(t, first.Objects[0].ETag)

	second, err := p.List(context.Background(), provider.ListOptions{
		Prefix:            "reports/",
		MaxKeys:           2,
		ContinuationToken: first.ContinuationToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Objects, 1)
	assert.Equal(t, "reports/b.md", second.Objects[0].Key)
	assert.Equal(t, int64(2), second.Objects[0].Size)
	assert.False(t, second.IsTruncated)
}

func TestList_MissingPrefix(t *testing.T) {
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	res, err := p.List(context.Background(), provider.ListOptions{Prefix: "nope/"})
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
}

func TestWalk(t *testing.T) {
	base := t.TempDir()
	for _, k := range []string{"a", "b", "c"} {
		writeFile(t, base, k, k)
	}
	p, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	var seen []string
	err = provider.Walk(context.Background(), p, "", func(o provider.ObjectSummary) error {
		seen = append(seen, o.Key)
		if len(seen) == 2 {
			return provider.ErrStopWalk
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestRead(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "doc.txt", "hello world")
	p, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	b, err := p.Read(context.Background(), "doc.txt", 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	b, err = p.Read(context.Background(), "doc.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))

	_, err = p.Read(context.Background(), "missing.txt", 0)
	assert.True(t, provider.IsNotFound(err))

	writeFile(t, filepath.Dir(base), "outside.txt", "secret")
	_, err = p.Read(context.Background(), "../outside.txt", 0)
	assert.True(t, provider.IsNotFound(err))

	_, err = p.Read(context.Background(), " ", 0)
	require.Error(t, err)
}
