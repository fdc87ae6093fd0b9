//go:build cloudintegration

package jobs_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/beacon/pkg/catalog"
	"github.com/3leaps/beacon/pkg/docsource"
	"github.com/3leaps/beacon/pkg/jobs"
	"github.com/3leaps/beacon/test/cloudtest"
)

func TestObjectFeedJob_S3(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObject(t, ctx, bucket, "news/a.md", []byte("first story"))
	cloudtest.PutObject(t, ctx, bucket, "news/b.md", []byte("second story"))
	cloudtest.PutObject(t, ctx, bucket, "news/skip.bin", []byte{0x00, 0x01})

	output := filepath.Join(t.TempDir(), "news.jsonl")
	spec := cloudtest.FeedSpec(t, bucket, output)
	spec.Prefix = "news/"
	spec.Include = []string{"**/*.md"}

	factory := &jobs.Factory{}
	def, err := factory.Job(catalog.JobSpec{Name: "news", Kind: catalog.KindObjectFeed, ObjectFeed: &spec})
	require.NoError(t, err)

	require.NoError(t, def.Execute(ctx))
	docs, err := docsource.Read(output)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "first story", docs[0].Body)

	// A second pass finds nothing new.
	require.NoError(t, def.Execute(ctx))
	docs, err = docsource.Read(output)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}
