package httpsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/gitter-badger/ressor/source"
	"github.com/gitter-badger/ressor/telemetry"
)

const defaultUserAgent = "ressor"

// ErrQueueFull marks a fetch rejected because the connection pool and
// its wait queue are both saturated.
var ErrQueueFull = errors.New("request queue full")

// Source fetches a resource over HTTP, negotiating changes per the
// configured CacheControlStrategy. Safe for concurrent use.
type Source struct {
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	metrics telemetry.Metrics
	tracer  trace.Tracer

	// gate admits PoolSize running plus QueueSize waiting requests;
	// the slot is held until the response body is closed.
	gate   *semaphore.Weighted
	probes singleflight.Group
}

type probeOutcome struct {
	version   source.Version
	unchanged bool
}

func New(cfg Config) (*Source, error) {
	cfg = cfg.normalize()
	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid http source config: %s", strings.Join(errs, "; "))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("httpsource")
	}

	client := cfg.Client
	if client == nil {
		dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
		client = &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				MaxConnsPerHost:       cfg.PoolSize,
				MaxIdleConnsPerHost:   cfg.PoolSize,
				ResponseHeaderTimeout: cfg.ReadTimeout,
				ReadBufferSize:        cfg.ReceiveBufferSize,
			},
		}
	}

	return &Source{
		cfg:     cfg,
		client:  client,
		logger:  logger.Named("httpsource"),
		metrics: metrics,
		tracer:  tracer,
		gate:    semaphore.NewWeighted(int64(cfg.PoolSize + cfg.QueueSize)),
	}, nil
}

func (s *Source) ResourceID() string {
	return s.cfg.URL
}

// Load performs an unconditional fetch. The version is read from the
// response validator header for the configured strategy; a missing
// header yields the empty version.
func (s *Source) Load(ctx context.Context) (*source.LoadedResource, error) {
	ctx, span := s.startSpan(ctx, "httpsource.load")
	defer span.End()

	res, _, err := s.get(ctx, source.Version{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("version", res.Version.String()))
	return res, nil
}

// LoadIfModified performs a conditional fetch against prior. A prior
// version the strategy cannot validate, including the empty version,
// degrades to an unconditional fetch reporting modified.
func (s *Source) LoadIfModified(ctx context.Context, prior source.Version) (*source.LoadedResource, bool, error) {
	ctx, span := s.startSpan(ctx, "httpsource.load_if_modified")
	defer span.End()

	res, modified, err := s.loadIfModified(ctx, prior)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conditional load failed")
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("modified", modified))
	return res, modified, nil
}

func (s *Source) loadIfModified(ctx context.Context, prior source.Version) (*source.LoadedResource, bool, error) {
	strategy := s.cfg.Strategy
	if strategy == source.StrategyNone || prior.IsEmpty() || prior.Kind() != strategy.TracksKind() {
		res, _, err := s.get(ctx, source.Version{})
		if err != nil {
			return nil, false, err
		}
		return res, true, nil
	}

	if strategy.ViaProbe() {
		remote, unchanged, err := s.probe(ctx, prior)
		if err != nil {
			return nil, false, err
		}
		if unchanged || remote.Equal(prior) {
			s.logger.Debug("probe reported no change",
				zap.String("resource", s.cfg.URL),
				zap.String("version", prior.String()),
			)
			return nil, false, nil
		}
		res, _, err := s.get(ctx, source.Version{})
		if err != nil {
			return nil, false, err
		}
		return res, true, nil
	}

	res, notModified, err := s.get(ctx, prior)
	if err != nil {
		return nil, false, err
	}
	if notModified {
		s.logger.Debug("source reported not modified",
			zap.String("resource", s.cfg.URL),
			zap.String("version", prior.String()),
		)
		return nil, false, nil
	}
	return res, true, nil
}

// get issues a GET, conditional when cond is non-empty. The returned
// body keeps an admission slot until closed.
func (s *Source) get(ctx context.Context, cond source.Version) (*source.LoadedResource, bool, error) {
	release, err := s.acquireSlot(ctx)
	if err != nil {
		return nil, false, err
	}

	req, err := s.newRequest(ctx, http.MethodGet, cond)
	if err != nil {
		release()
		return nil, false, source.NewFetchError(s.cfg.URL, "load", 0, err)
	}

	s.metrics.AddFetch(s.cfg.URL, http.MethodGet)
	resp, err := s.client.Do(req)
	if err != nil {
		release()
		return nil, false, source.NewFetchError(s.cfg.URL, "load", 0, err)
	}

	if resp.StatusCode == http.StatusNotModified {
		discardBody(resp)
		release()
		return nil, true, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		discardBody(resp)
		release()
		return nil, false, source.NewFetchError(s.cfg.URL, "load", resp.StatusCode, nil)
	}

	version, err := s.versionFrom(resp.Header)
	if err != nil {
		discardBody(resp)
		release()
		return nil, false, source.NewFetchError(s.cfg.URL, "load", resp.StatusCode, err)
	}

	return &source.LoadedResource{
		Body:       &gatedBody{ReadCloser: resp.Body, release: release},
		Version:    version,
		ResourceID: s.cfg.URL,
	}, false, nil
}

// probe issues a HEAD carrying the conditional header. Concurrent
// probes against the same prior version share one request.
func (s *Source) probe(ctx context.Context, prior source.Version) (source.Version, bool, error) {
	value, err, _ := s.probes.Do(prior.String(), func() (any, error) {
		return s.head(ctx, prior)
	})
	if err != nil {
		return source.Version{}, false, err
	}
	outcome := value.(probeOutcome)
	return outcome.version, outcome.unchanged, nil
}

func (s *Source) head(ctx context.Context, prior source.Version) (probeOutcome, error) {
	release, err := s.acquireSlot(ctx)
	if err != nil {
		return probeOutcome{}, err
	}
	defer release()

	req, err := s.newRequest(ctx, http.MethodHead, prior)
	if err != nil {
		return probeOutcome{}, source.NewFetchError(s.cfg.URL, "probe", 0, err)
	}

	s.metrics.AddFetch(s.cfg.URL, http.MethodHead)
	resp, err := s.client.Do(req)
	if err != nil {
		return probeOutcome{}, source.NewFetchError(s.cfg.URL, "probe", 0, err)
	}
	defer discardBody(resp)

	if resp.StatusCode == http.StatusNotModified {
		return probeOutcome{unchanged: true}, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return probeOutcome{}, source.NewFetchError(s.cfg.URL, "probe", resp.StatusCode, nil)
	}

	version, err := s.versionFrom(resp.Header)
	if err != nil {
		return probeOutcome{}, source.NewFetchError(s.cfg.URL, "probe", resp.StatusCode, err)
	}
	return probeOutcome{version: version}, nil
}

func (s *Source) newRequest(ctx context.Context, method string, cond source.Version) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	if name, value, ok := conditionalHeader(s.cfg.Strategy, cond); ok {
		req.Header.Set(name, value)
	}
	return req, nil
}

// versionFrom reads the validator header the strategy tracks. Absent
// headers yield the empty version; malformed ones are an error.
func (s *Source) versionFrom(header http.Header) (source.Version, error) {
	switch s.cfg.Strategy.TracksKind() {
	case source.KindETag:
		if tag := header.Get("ETag"); tag != "" {
			return source.ETag(tag), nil
		}
	case source.KindLastModified:
		if raw := header.Get("Last-Modified"); raw != "" {
			t, err := http.ParseTime(raw)
			if err != nil {
				return source.Version{}, fmt.Errorf("parse Last-Modified %q: %w", raw, err)
			}
			return source.LastModified(t), nil
		}
	}
	return source.Version{}, nil
}

func (s *Source) acquireSlot(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, source.NewFetchError(s.cfg.URL, "load", 0, err)
	}
	if !s.gate.TryAcquire(1) {
		return nil, source.NewFetchError(s.cfg.URL, "load", 0, ErrQueueFull)
	}
	return func() { s.gate.Release(1) }, nil
}

func (s *Source) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("resource", s.cfg.URL),
		attribute.String("strategy", string(s.cfg.Strategy)),
	))
}

func conditionalHeader(strategy source.CacheControlStrategy, cond source.Version) (string, string, bool) {
	if cond.IsEmpty() || cond.Kind() != strategy.TracksKind() {
		return "", "", false
	}
	switch cond.Kind() {
	case source.KindLastModified:
		return "If-Modified-Since", cond.Time().UTC().Format(http.TimeFormat), true
	case source.KindETag:
		return "If-None-Match", cond.Tag(), true
	default:
		return "", "", false
	}
}

func discardBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// gatedBody releases its admission slot exactly once on Close.
type gatedBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *gatedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

var _ source.Source = (*Source)(nil)
