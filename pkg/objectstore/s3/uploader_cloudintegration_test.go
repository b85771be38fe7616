//go:build cloudintegration

package s3_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goharvest/pkg/objectstore"
	s3store "github.com/3leaps/goharvest/pkg/objectstore/s3"
	"github.com/3leaps/goharvest/test/cloudtest"
)

func TestUploader_UploadToMoto(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()
	bucket := cloudtest.CreateBucket(t, ctx)

	local := filepath.Join(t.TempDir(), "manifest.jsonl")
	require.NoError(t, os.WriteFile(local, []byte(`{"path":"a.txt","text":"hello"}`+"\n"), 0o644))

	up, err := s3store.New(ctx, cloudtest.StoreConfig(bucket))
	require.NoError(t, err)
	require.NoError(t, up.Upload(ctx, "runs/manifest.jsonl", local))

	obj := cloudtest.GetObject(t, ctx, bucket, "runs/manifest.jsonl")
	assert.Equal(t, "application/x-ndjson", obj.ContentType)
	assert.Contains(t, string(obj.Body), `"text":"hello"`)
}

func TestUploader_MissingBucket(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "manifest.csv")
	require.NoError(t, os.WriteFile(local, []byte("path,text\n"), 0o644))

	up, err := s3store.New(ctx, cloudtest.StoreConfig("goharvest-no-such-bucket"))
	require.NoError(t, err)
	err = up.Upload(ctx, "m.csv", local)
	require.Error(t, err)

	var storeErr *objectstore.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.ErrorIs(t, err, objectstore.ErrBucketNotFound)
}
