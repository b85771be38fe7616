// Package objectstore publishes scan manifests to object storage.
//
// A scan whose destination is an object URI (s3://bucket/key) writes its
// manifest locally and then uploads it through an Uploader.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for object store operations.
var (
	ErrNotFound            = errors.New("object not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrThrottled           = errors.New("request throttled")
	ErrInvalidURI          = errors.New("invalid object uri")
)

// StoreError wraps provider-specific errors with context.
type StoreError struct {
	// Op is the operation that failed (e.g., "Upload").
	Op string

	// Provider is the provider scheme (e.g., "s3").
	Provider string

	Bucket string
	Key    string

	// Err is the underlying error.
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Uploader copies a local file to a key in one bucket.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string) error
}

// Factory builds an Uploader for bucket.
type Factory func(ctx context.Context, bucket string) (Uploader, error)

// URI is a parsed object location.
type URI struct {
	Scheme string
	Bucket string
	Key    string
}

func (u URI) String() string {
	return u.Scheme + "://" + u.Bucket + "/" + u.Key
}

// IsObjectURI reports whether s looks like scheme://bucket/key.
func IsObjectURI(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "s3://")
}

// ParseURI parses "s3://bucket/key". The key must be non-empty and must
// not end with a slash.
func ParseURI(s string) (URI, error) {
	s = strings.TrimSpace(s)
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme != "s3" {
		return URI{}, fmt.Errorf("%w: %q (expected s3://bucket/key)", ErrInvalidURI, s)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return URI{}, fmt.Errorf("%w: %q (expected s3://bucket/key)", ErrInvalidURI, s)
	}
	return URI{Scheme: scheme, Bucket: bucket, Key: key}, nil
}
