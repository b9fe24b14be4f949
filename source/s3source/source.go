// Package s3source loads a resource from an S3 object. S3 exposes
// ETag and Last-Modified natively, so change detection is a HEAD probe
// followed by a GET only when the validator differs.
package s3source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/gitter-badger/ressor/source"
	"github.com/gitter-badger/ressor/telemetry"
)

// API is the S3 operation subset the source needs; satisfied by
// *s3.Client and test fakes.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config controls one S3 source.
type Config struct {
	// Client performs the S3 calls. Required; build one with NewClient
	// or inject a fake in tests.
	Client API

	Bucket string
	Key    string

	Logger  *zap.Logger
	Metrics telemetry.Metrics
}

// Source reads one S3 object. Safe for concurrent use.
type Source struct {
	client  API
	bucket  string
	key     string
	id      string
	logger  *zap.Logger
	metrics telemetry.Metrics
}

func New(cfg Config) (*Source, error) {
	var errs []string
	if cfg.Client == nil {
		errs = append(errs, "client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		errs = append(errs, "bucket is required")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		errs = append(errs, "key is required")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid s3 source config: %s", strings.Join(errs, "; "))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	key := strings.TrimSpace(cfg.Key)
	return &Source{
		client:  cfg.Client,
		bucket:  bucket,
		key:     key,
		id:      fmt.Sprintf("s3://%s/%s", bucket, key),
		logger:  logger.Named("s3source"),
		metrics: metrics,
	}, nil
}

func (s *Source) ResourceID() string {
	return s.id
}

// Load fetches the object unconditionally. The version comes from the
// response ETag, falling back to Last-Modified when the store omits it.
func (s *Source) Load(ctx context.Context) (*source.LoadedResource, error) {
	s.metrics.AddFetch(s.id, "GetObject")
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, source.NewFetchError(s.id, "load", 0, mapNotFound(err))
	}

	return &source.LoadedResource{
		Body:       out.Body,
		Version:    versionFrom(out.ETag, out.LastModified),
		ResourceID: s.id,
	}, nil
}

// LoadIfModified probes with HeadObject and only pays for the body
// when the validator differs from prior. A prior version the object
// metadata cannot confirm, including the empty version, degrades to an
// unconditional fetch reporting modified.
func (s *Source) LoadIfModified(ctx context.Context, prior source.Version) (*source.LoadedResource, bool, error) {
	if prior.IsEmpty() {
		res, err := s.Load(ctx)
		if err != nil {
			return nil, false, err
		}
		return res, true, nil
	}

	s.metrics.AddFetch(s.id, "HeadObject")
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, false, source.NewFetchError(s.id, "probe", 0, mapNotFound(err))
	}

	if remote := probeVersion(prior.Kind(), head.ETag, head.LastModified); remote.Equal(prior) {
		s.logger.Debug("object unchanged",
			zap.String("resource", s.id),
			zap.String("version", prior.String()),
		)
		return nil, false, nil
	}

	res, err := s.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// versionFrom prefers the etag validator; buckets whose encryption
// setup suppresses it still get last-modified versioning.
func versionFrom(etag *string, lastModified *time.Time) source.Version {
	if tag := aws.ToString(etag); tag != "" {
		return source.ETag(tag)
	}
	if lastModified != nil {
		return source.LastModified(*lastModified)
	}
	return source.Version{}
}

// probeVersion reads the validator of the prior's kind, so a probe
// never compares an etag against a timestamp.
func probeVersion(kind source.VersionKind, etag *string, lastModified *time.Time) source.Version {
	switch kind {
	case source.KindETag:
		if tag := aws.ToString(etag); tag != "" {
			return source.ETag(tag)
		}
	case source.KindLastModified:
		if lastModified != nil {
			return source.LastModified(*lastModified)
		}
	}
	return source.Version{}
}

func mapNotFound(err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", source.ErrNotFound, err)
	}
	return err
}

var _ source.Source = (*Source)(nil)
