package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
jobs:
  - name: fetch-news
    description: Pull RSS feeds
    command: ./scripts/fetch_news.sh
    args: ["--since", "1h"]
    timeout: 10m
  - name: reports
    kind: objectfeed
    objectfeed:
      provider: file
      base_dir: /srv/reports
      include: ["**/*.md"]
      output: data/reports.jsonl
pipelines:
  - name: default
    steps: [fetch-news, reports]
`

func TestLoadFromBytes(t *testing.T) {
	f, err := LoadFromBytes([]byte(sampleCatalog))
	require.NoError(t, err)

	require.Len(t, f.Jobs, 2)
	assert.Equal(t, KindCommand, f.Jobs[0].Kind, "kind defaults to command")
	assert.Equal(t, 10*time.Minute, f.Jobs[0].Timeout)
	assert.Equal(t, []string{"--since", "1h"}, f.Jobs[0].Args)

	feed := f.Jobs[1].ObjectFeed
	require.NotNil(t, feed)
	assert.Equal(t, "file", feed.Provider)
	assert.Equal(t, 100, feed.MaxObjects)
	assert.Equal(t, int64(64*1024), feed.MaxBytes)

	require.Len(t, f.Pipelines, 1)
	assert.Equal(t, []string{"fetch-news", "reports"}, f.Pipelines[0].Steps)
}

func TestLoadFromBytes_JSON(t *testing.T) {
	f, err := LoadFromBytes([]byte(`{"jobs":[{"name":"a","command":"true"}],"pipelines":[{"name":"p","steps":["a"]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "a", f.Jobs[0].Name)
}

func TestLoadFromBytes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "empty", input: "  \n", wantErr: "empty"},
		{name: "unknown field", input: "jobs:\n  - name: a\n    command: x\n    bogus: 1\n", wantErr: "bogus"},
		{name: "missing command", input: "jobs:\n  - name: a\n", wantErr: "command is required"},
		{name: "unsupported kind", input: "jobs:\n  - name: a\n    kind: lambda\n", wantErr: "unsupported kind"},
		{name: "feed without output", input: "jobs:\n  - name: a\n    kind: objectfeed\n    objectfeed:\n      bucket: b\n", wantErr: "output is required"},
		{name: "s3 feed without bucket", input: "jobs:\n  - name: a\n    kind: objectfeed\n    objectfeed:\n      output: o.jsonl\n", wantErr: "bucket is required"},
		{name: "pipeline without steps", input: "pipelines:\n  - name: p\n", wantErr: "at least one step"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Jobs, 2)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadFromReader(t *testing.T) {
	f, err := LoadFromReader(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	assert.Len(t, f.Pipelines, 1)
}
