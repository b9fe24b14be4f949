// Package redissource loads a resource from a Redis key. Redis cannot
// validate revisions server-side, so versions are content etags
// (sha256 of the value).
package redissource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gitter-badger/ressor/internal/hashutil"
	"github.com/gitter-badger/ressor/source"
)

// Client is the command subset the source needs. *redis.Client,
// *redis.ClusterClient and test fakes all satisfy it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Config controls one Redis source.
type Config struct {
	// Client is an injected command client. When nil, one is built from
	// Addr/Password/DB and Close releases it.
	Client Client

	Addr     string
	Password string
	DB       int

	// Key holds the resource bytes. Required.
	Key string

	Logger *zap.Logger
}

// Source reads one Redis key. Safe for concurrent use.
type Source struct {
	client     Client
	ownsClient bool
	key        string
	id         string
	logger     *zap.Logger
}

func New(cfg Config) (*Source, error) {
	var errs []string
	if strings.TrimSpace(cfg.Key) == "" {
		errs = append(errs, "key is required")
	}
	if cfg.Client == nil && strings.TrimSpace(cfg.Addr) == "" {
		errs = append(errs, "client or addr is required")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid redis source config: %s", strings.Join(errs, "; "))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	key := strings.TrimSpace(cfg.Key)
	client := cfg.Client
	ownsClient := false
	id := "redis://#" + key
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		ownsClient = true
		id = fmt.Sprintf("redis://%s/%d#%s", addr, cfg.DB, key)
	}

	return &Source{
		client:     client,
		ownsClient: ownsClient,
		key:        key,
		id:         id,
		logger:     logger.Named("redissource"),
	}, nil
}

// Close releases the client when this source built it; injected
// clients stay with their owner.
func (s *Source) Close() error {
	if !s.ownsClient {
		return nil
	}
	if closer, ok := s.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
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

// LoadIfModified reads the value and compares content hashes; Redis
// cannot validate revisions itself. An equal hash reports unchanged
// without producing a resource.
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
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			err = fmt.Errorf("%w: key %s", source.ErrNotFound, s.key)
		}
		return nil, source.Version{}, source.NewFetchError(s.id, "load", 0, err)
	}
	return data, source.ETag(hashutil.ContentETag(data)), nil
}

var _ source.Source = (*Source)(nil)
