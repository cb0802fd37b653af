// Package minio implements the fast-tier backend adapter on a MinIO (or any
// S3-compatible) object store using the MinIO Go SDK.
package minio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tierstore/tierstore/internal/backend"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

const component = "backend.minio"

// Adapter serves a tier from a MinIO bucket.
type Adapter struct {
	client        *minio.Client
	tier          types.TierID
	bucket        string
	publicBaseURL string
	timeout       time.Duration
	logger        *slog.Logger
}

// New creates a MinIO-backed adapter and verifies the bucket exists,
// creating it when missing.
func New(ctx context.Context, tier types.TierID, cfg config.MinioConfig, timeout time.Duration, logger *slog.Logger) (*Adapter, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindBackendUnavailable, err, "create minio client").
			WithComponent(component)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackendUnavailable, err, "check bucket").
			WithComponent(component).WithDetail("bucket", cfg.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(errors.KindBackendUnavailable, err, "create bucket").
				WithComponent(component).WithDetail("bucket", cfg.Bucket)
		}
		logger.Info("created bucket", "bucket", cfg.Bucket, "tier", tier)
	}

	return &Adapter{
		client:        client,
		tier:          tier,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		timeout:       timeout,
		logger:        logger.With("component", component, "tier", tier),
	}, nil
}

// Tier reports the tier this adapter serves.
func (a *Adapter) Tier() types.TierID { return a.tier }

// Put uploads an object.
func (a *Adapter) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err := a.client.PutObject(ctx, a.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return a.translate(err, "put", key)
	}
	return nil
}

// Get opens an object for reading. A stat precedes the read so missing
// objects fail here instead of on the first Read call. The timeout covers
// the stat, the call, and the read phase; the returned body releases the
// deadline on Close.
func (a *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)

	if _, err := a.client.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{}); err != nil {
		cancel()
		return nil, a.translate(err, "get", key)
	}

	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		cancel()
		return nil, a.translate(err, "get", key)
	}
	return backend.BoundedBody(ctx, obj, cancel), nil
}

// Delete removes an object. Missing objects are ignored.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		translated := a.translate(err, "delete", key)
		if errors.IsKind(translated, errors.KindNotFound) {
			return nil
		}
		return translated
	}
	return nil
}

// Presign returns a time-limited GET URL for the object.
func (a *Adapter) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	u, err := a.client.PresignedGetObject(ctx, a.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", a.translate(err, "presign", key)
	}
	return u.String(), nil
}

// PublicURL returns the unauthenticated URL for an object, built from the
// configured public base URL.
func (a *Adapter) PublicURL(key string) (string, error) {
	if a.publicBaseURL == "" {
		return "", errors.New(errors.KindInvalidInput, "no public base url configured").
			WithComponent(component).WithOperation("public_url")
	}
	return fmt.Sprintf("%s/%s/%s", a.publicBaseURL, a.bucket, key), nil
}

// List returns one page of objects under prefix. The cursor is the last key
// of the previous page.
func (a *Adapter) List(ctx context.Context, prefix string, pageSize int, cursor string) (*backend.ListPage, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	page := &backend.ListPage{}
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		Recursive:  true,
		StartAfter: cursor,
	}) {
		if obj.Err != nil {
			return nil, a.translate(obj.Err, "list", prefix)
		}
		if len(page.Objects) == pageSize {
			page.Truncated = true
			page.NextCursor = page.Objects[len(page.Objects)-1].Key
			break
		}
		page.Objects = append(page.Objects, backend.ObjectInfo{
			Key:          obj.Key,
			SizeBytes:    obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return page, nil
}

// translate maps MinIO errors onto the structured error kinds.
func (a *Adapter) translate(err error, op, key string) error {
	resp := minio.ToErrorResponse(err)
	kind := errors.KindBackendUnavailable
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		kind = errors.KindNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		kind = errors.KindInvalidInput
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = errors.KindTimeout
	}
	return errors.Wrap(kind, err, "minio "+op+" failed").
		WithComponent(component).WithOperation(op).WithDetail("key", key)
}
