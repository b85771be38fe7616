package s3

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/goharvest/pkg/objectstore"
)

const providerName = "s3"

// putObjectAPI is the subset of the S3 client used by Uploader.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader puts local files into one bucket.
type Uploader struct {
	client putObjectAPI
	bucket string
}

var _ objectstore.Uploader = (*Uploader)(nil)

// New creates an Uploader using the SDK default credential chain unless
// explicit credentials are configured.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &objectstore.StoreError{Op: "New", Provider: providerName, Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// NewFactory returns an objectstore.Factory that builds uploaders from base,
// overriding the bucket per call.
func NewFactory(base Config) objectstore.Factory {
	return func(ctx context.Context, bucket string) (objectstore.Uploader, error) {
		cfg := base
		cfg.Bucket = bucket
		return New(ctx, cfg)
	}
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Upload puts the file at localPath under key.
func (u *Uploader) Upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	size := info.Size()

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if strings.EqualFold(filepath.Ext(localPath), ".jsonl") {
		contentType = "application/x-ndjson"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: &size,
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return u.wrapError("Upload", key, err)
	}
	return nil
}

// wrapError converts S3 errors to store errors with sentinel causes.
func (u *Uploader) wrapError(op, key string, err error) error {
	wrapped := &objectstore.StoreError{Op: op, Provider: providerName, Bucket: u.bucket, Key: key, Err: err}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		wrapped.Err = objectstore.ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = objectstore.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = objectstore.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = objectstore.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = objectstore.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = objectstore.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = objectstore.ErrProviderUnavailable
		}
	}
	return wrapped
}

// Credentials resolves credentials through the same chain New uses,
// without touching a bucket.
func Credentials(ctx context.Context, cfg Config) (aws.Credentials, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return aws.Credentials{}, err
	}
	return awsCfg.Credentials.Retrieve(ctx)
}
