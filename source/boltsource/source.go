// Package boltsource loads a resource from a bbolt bucket/key pair.
// Embedded stores cannot validate revisions server-side, so versions
// are content etags (sha256 of the value).
package boltsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/gitter-badger/ressor/internal/hashutil"
	"github.com/gitter-badger/ressor/source"
)

// Config controls one bbolt source.
type Config struct {
	// DB is an injected open database. When nil, Path is opened instead
	// and Close releases it.
	DB *bolt.DB

	// Path locates the database file; used only when DB is nil.
	Path string

	Bucket string
	Key    string

	Logger *zap.Logger
}

// Source reads one key from a bbolt bucket. Safe for concurrent use.
type Source struct {
	db     *bolt.DB
	ownsDB bool
	bucket string
	key    string
	id     string
	logger *zap.Logger
}

func New(cfg Config) (*Source, error) {
	var errs []string
	if cfg.DB == nil && strings.TrimSpace(cfg.Path) == "" {
		errs = append(errs, "db handle or path is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		errs = append(errs, "bucket is required")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		errs = append(errs, "key is required")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid bolt source config: %s", strings.Join(errs, "; "))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db := cfg.DB
	ownsDB := false
	if db == nil {
		opened, err := bolt.Open(strings.TrimSpace(cfg.Path), 0o600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("open bolt db: %w", err)
		}
		db = opened
		ownsDB = true
	}

	return &Source{
		db:     db,
		ownsDB: ownsDB,
		bucket: strings.TrimSpace(cfg.Bucket),
		key:    strings.TrimSpace(cfg.Key),
		id:     fmt.Sprintf("bolt://%s#%s/%s", db.Path(), strings.TrimSpace(cfg.Bucket), strings.TrimSpace(cfg.Key)),
		logger: logger.Named("boltsource"),
	}, nil
}

// Close releases the database when this source opened it; injected
// handles stay with their owner.
func (s *Source) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *Source) ResourceID() string {
	return s.id
}

func (s *Source) Load(ctx context.Context) (*source.LoadedResource, error) {
	data, version, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return &source.LoadedResource{
		Body:       io.NopCloser(bytes.NewReader(data)),
		Version:    version,
		ResourceID: s.id,
	}, nil
}

// LoadIfModified reads the value and compares content hashes; the
// store cannot validate revisions itself. An equal hash reports
// unchanged without producing a resource.
func (s *Source) LoadIfModified(ctx context.Context, prior source.Version) (*source.LoadedResource, bool, error) {
	data, version, err := s.read(ctx)
	if err != nil {
		return nil, false, err
	}
	if version.Equal(prior) {
		s.logger.Debug("value unchanged", zap.String("resource", s.id), zap.String("version", version.String()))
		return nil, false, nil
	}
	return &source.LoadedResource{
		Body:       io.NopCloser(bytes.NewReader(data)),
		Version:    version,
		ResourceID: s.id,
	}, true, nil
}

func (s *Source) read(ctx context.Context) ([]byte, source.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, source.Version{}, source.NewFetchError(s.id, "load", 0, err)
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(s.bucket))
		if bucket == nil {
			return fmt.Errorf("%w: bucket %s", source.ErrNotFound, s.bucket)
		}
		value := bucket.Get([]byte(s.key))
		if value == nil {
			return fmt.Errorf("%w: key %s", source.ErrNotFound, s.key)
		}
		// The slice is only valid inside the transaction.
		data = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return nil, source.Version{}, source.NewFetchError(s.id, "load", 0, err)
	}
	return data, source.ETag(hashutil.ContentETag(data)), nil
}

var _ source.Source = (*Source)(nil)
