//go:build cloudintegration

package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goharvest/pkg/jobregistry"
	s3store "github.com/3leaps/goharvest/pkg/objectstore/s3"
	"github.com/3leaps/goharvest/test/cloudtest"
)

func TestScan_UploadsManifestToObjectStore(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()
	bucket := cloudtest.CreateBucket(t, ctx)

	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "b.txt", "beta")

	e := newEngine(t, Config{ScratchDir: t.TempDir()},
		WithUploaders(s3store.NewFactory(cloudtest.StoreConfig(""))))

	dest := "s3://" + bucket + "/manifests/docs.csv"
	snap, err := e.Submit(ctx, JobConfig{
		Kind:                jobregistry.KindDirectoryScan,
		SourcePath:          root,
		Destination:         dest,
		SupportedExtensions: []string{"txt"},
	})
	require.NoError(t, err)

	final := waitDone(t, e, snap.ID)
	require.Equal(t, jobregistry.StatusCompleted, final.Status, "errors: %v", final.Errors)
	assert.Equal(t, dest, final.OutputLocation)

	obj := cloudtest.GetObject(t, ctx, bucket, "manifests/docs.csv")
	body := string(obj.Body)
	assert.True(t, strings.HasPrefix(body, "path,file_name,"))
	assert.Contains(t, body, "alpha")
	assert.Contains(t, body, "beta")
}
