package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goharvest/pkg/objectstore"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	var ce *ConfigError
	require.True(t, errors.As(cfg.Validate(), &ce))
	assert.Equal(t, "Bucket", ce.Field)

	cfg = Config{Bucket: "b", AccessKeyID: "AKIA"}
	assert.Error(t, cfg.Validate())

	cfg = Config{Bucket: "b", AccessKeyID: "AKIA", SecretAccessKey: "s"}
	assert.NoError(t, cfg.Validate())
}

func TestResolveRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", resolveRegion("", "eu-west-1"))
	assert.Equal(t, DefaultAWSRegion, resolveRegion("", ""))
	assert.Equal(t, "", resolveRegion("http://localhost:9000", ""))
}

func TestUploader_Upload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.csv")
	require.NoError(t, os.WriteFile(path, []byte("path,text\n"), 0o644))

	fake := &fakePutter{}
	u := &Uploader{client: fake, bucket: "harvest"}
	require.NoError(t, u.Upload(context.Background(), "scans/m.csv", path))

	assert.Equal(t, "harvest", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "scans/m.csv", aws.ToString(fake.input.Key))
	assert.Equal(t, int64(10), aws.ToInt64(fake.input.ContentLength))
	assert.Contains(t, aws.ToString(fake.input.ContentType), "csv")
	assert.Equal(t, "path,text\n", string(fake.body))
}

func TestUploader_MissingFile(t *testing.T) {
	u := &Uploader{client: &fakePutter{}, bucket: "b"}
	err := u.Upload(context.Background(), "k", filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUploader_ClassifiesAPIErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	tests := []struct {
		code string
		want error
	}{
		{"AccessDenied", objectstore.ErrAccessDenied},
		{"NoSuchBucket", objectstore.ErrBucketNotFound},
		{"InvalidAccessKeyId", objectstore.ErrInvalidCredentials},
		{"SlowDown", objectstore.ErrThrottled},
		{"ServiceUnavailable", objectstore.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			u := &Uploader{client: &fakePutter{err: &smithy.GenericAPIError{Code: tt.code}}, bucket: "b"}
			err := u.Upload(context.Background(), "k", path)

			var se *objectstore.StoreError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "Upload", se.Op)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUploader_JSONLContentType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	fake := &fakePutter{}
	u := &Uploader{client: fake, bucket: "b"}
	require.NoError(t, u.Upload(context.Background(), "k", path))
	assert.Equal(t, "application/x-ndjson", aws.ToString(fake.input.ContentType))
}

func TestCredentials_Static(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	creds, err := Credentials(context.Background(), Config{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "StaticCredentials", creds.Source)
}
