// Package s3 implements the bulk-tier backend adapter on Amazon S3 (or any
// S3-compatible endpoint) using the AWS SDK for Go v2.
package s3

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tierstore/tierstore/internal/backend"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

const component = "backend.s3"

// Adapter serves a tier from an S3 bucket.
type Adapter struct {
	client  *s3.Client
	presign *s3.PresignClient
	tier    types.TierID
	bucket  string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an S3-backed adapter.
func New(ctx context.Context, tier types.TierID, cfg config.S3Config, timeout time.Duration, logger *slog.Logger) (*Adapter, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackendUnavailable, err, "load aws config").
			WithComponent(component)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Adapter{
		client:  client,
		presign: s3.NewPresignClient(client),
		tier:    tier,
		bucket:  cfg.Bucket,
		timeout: timeout,
		logger:  logger.With("component", component, "tier", tier),
	}, nil
}

// Tier reports the tier this adapter serves.
func (a *Adapter) Tier() types.TierID { return a.tier }

// Put uploads an object.
func (a *Adapter) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return a.translate(err, "put", key)
	}
	return nil
}

// Get opens an object for reading. The timeout covers the call and the read
// phase; the returned body releases the deadline on Close.
func (a *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, a.translate(err, "get", key)
	}
	return backend.BoundedBody(ctx, out.Body, cancel), nil
}

// Delete removes an object. S3 delete is idempotent so missing objects
// succeed naturally.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return a.translate(err, "delete", key)
	}
	return nil
}

// Presign returns a time-limited GET URL for the object.
func (a *Adapter) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", a.translate(err, "presign", key)
	}
	return req.URL, nil
}

// PublicURL is unsupported: the bulk tier has no unauthenticated surface.
func (a *Adapter) PublicURL(key string) (string, error) {
	return "", errors.New(errors.KindInvalidInput, "tier has no public url surface").
		WithComponent(component).WithOperation("public_url")
}

// List returns one page of objects under prefix using S3 continuation
// tokens as the cursor.
func (a *Adapter) List(ctx context.Context, prefix string, pageSize int, cursor string) (*backend.ListPage, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		MaxKeys: aws.Int32(int32(pageSize)),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}

	out, err := a.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, a.translate(err, "list", prefix)
	}

	page := &backend.ListPage{
		Truncated: aws.ToBool(out.IsTruncated),
	}
	if out.NextContinuationToken != nil {
		page.NextCursor = *out.NextContinuationToken
	}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, backend.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			SizeBytes:    aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return page, nil
}

// translate maps SDK errors onto the structured error kinds.
func (a *Adapter) translate(err error, op, key string) error {
	kind := errors.KindBackendUnavailable

	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	var noSuchBucket *s3types.NoSuchBucket
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound), errors.As(err, &noSuchBucket):
		kind = errors.KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		kind = errors.KindTimeout
	}

	return errors.Wrap(kind, err, "s3 "+op+" failed").
		WithComponent(component).WithOperation(op).WithDetail("key", key)
}
