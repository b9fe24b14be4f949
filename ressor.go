// Package ressor keeps service instances in sync with the external
// resources they are built from. A Service fetches through a
// conditional source, translates the content into a typed instance,
// and swaps it into a handle that readers hit lock-free. Drivers
// trigger the passes: a poll driver on a ticker, a watch driver on
// source notifications, or the caller directly through Reload.
package ressor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gitter-badger/ressor/service"
	"github.com/gitter-badger/ressor/source"
	"github.com/gitter-badger/ressor/telemetry"
)

// Service keeps one handle in sync with one resource. All methods are
// safe for concurrent use.
type Service[T any] struct {
	cfg     Config[T]
	src     source.Source
	handle  *service.Handle[T]
	logger  *zap.Logger
	metrics telemetry.Metrics
	tracer  trace.Tracer

	// reloads collapses concurrent manual passes into one fetch.
	reloads singleflight.Group
	// gate drops driver triggers that arrive while a pass is running.
	gate *reloadGate

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// New validates the config and builds a stopped service. Nothing is
// fetched until a driver starts or the caller invokes Reload.
func New[T any](cfg Config[T]) (*Service[T], error) {
	cfg = cfg.normalize()
	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid service config: %s", strings.Join(errs, "; "))
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
		tracer = noop.NewTracerProvider().Tracer("ressor")
	}

	opts := []service.HandleOption[T]{
		service.WithName[T](cfg.Name),
		service.WithLogger[T](logger),
	}
	if cfg.ReadyTimeout > 0 {
		opts = append(opts, service.WithReadyTimeout[T](cfg.ReadyTimeout))
	}
	if cfg.Bootstrap != nil {
		opts = append(opts, service.WithBootstrap[T](*cfg.Bootstrap))
	}
	handle := service.NewHandle[T](opts...)

	s := &Service[T]{
		cfg:     cfg,
		src:     cfg.Source,
		handle:  handle,
		logger:  logger.Named("ressor"),
		metrics: metrics,
		tracer:  tracer,
		gate:    newReloadGate(),
	}
	s.metrics.SetServiceReady(cfg.Name, handle.IsReady())
	return s, nil
}

// Name returns the service name used in logs and metrics.
func (s *Service[T]) Name() string {
	return s.cfg.Name
}

// Handle exposes the hot-swappable handle readers consume from.
func (s *Service[T]) Handle() *service.Handle[T] {
	return s.handle
}

// Instance returns the current instance, blocking until the first
// reload when the service started without a bootstrap.
func (s *Service[T]) Instance(ctx context.Context) (T, error) {
	return s.handle.CurrentContext(ctx)
}

// Reload runs one conditional fetch-translate-swap pass and reports
// whether a new instance was installed. Concurrent calls share a
// single pass and its outcome.
func (s *Service[T]) Reload(ctx context.Context) (bool, error) {
	v, err, _ := s.reloads.Do("reload", func() (any, error) {
		return s.reloadOnce(ctx, false)
	})
	swapped, _ := v.(bool)
	return swapped, err
}

// ForceReload fetches unconditionally and swaps the result in, even
// when the source would have reported the version unchanged.
func (s *Service[T]) ForceReload(ctx context.Context) error {
	_, err, _ := s.reloads.Do("force", func() (any, error) {
		return s.reloadOnce(ctx, true)
	})
	return err
}

// Close stops the running driver, waits for it to exit, and closes the
// source when it holds closeable state. Safe to call more than once.
func (s *Service[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ticker, stop, done := s.ticker, s.stop, s.done
	s.ticker, s.stop, s.done = nil, nil, nil
	s.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if stop != nil {
		close(stop)
	}
	if done != nil {
		<-done
	}

	s.metrics.SetServiceReady(s.cfg.Name, false)
	if closer, ok := s.src.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (s *Service[T]) reloadOnce(ctx context.Context, force bool) (bool, error) {
	started := time.Now()
	attempt := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "ressor.reload", trace.WithAttributes(
		attribute.String("service", s.cfg.Name),
		attribute.String("resource", s.src.ResourceID()),
		attribute.Bool("force", force),
	))
	defer span.End()

	var (
		res      *source.LoadedResource
		modified bool
		err      error
	)
	if force {
		res, err = s.src.Load(ctx)
		modified = true
	} else {
		res, modified, err = s.src.LoadIfModified(ctx, s.handle.Version())
	}
	if err != nil {
		s.failed(span, telemetry.ReloadStatusFetchError, started, attempt, err)
		return false, err
	}
	if !modified {
		s.metrics.ObserveReload(s.cfg.Name, telemetry.ReloadStatusUnchanged, time.Since(started))
		s.logger.Debug("resource unchanged",
			zap.String("attempt", attempt),
			zap.String("resource", s.src.ResourceID()),
		)
		return false, nil
	}

	instance, err := s.cfg.Translator.Translate(ctx, res)
	if err != nil {
		s.failed(span, telemetry.ReloadStatusTranslateError, started, attempt, err)
		return false, err
	}

	s.handle.Reload(instance, res.Version)
	s.metrics.ObserveReload(s.cfg.Name, telemetry.ReloadStatusSwapped, time.Since(started))
	s.metrics.SetResourceVersion(s.src.ResourceID(), res.Version.String())
	s.metrics.SetServiceReady(s.cfg.Name, true)
	s.logger.Info("service reloaded",
		zap.String("attempt", attempt),
		zap.String("resource", s.src.ResourceID()),
		zap.Stringer("version", res.Version),
		zap.Uint64("seq", s.handle.Seq()),
		zap.Duration("latency", time.Since(started)),
	)
	return true, nil
}

// failed records a reload attempt that did not install an instance.
// The current instance stays in place; readers never see the failure.
func (s *Service[T]) failed(span trace.Span, status telemetry.ReloadStatus, started time.Time, attempt string, err error) {
	s.metrics.ObserveReload(s.cfg.Name, status, time.Since(started))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(status))
	s.logger.Warn("reload failed",
		zap.String("attempt", attempt),
		zap.String("resource", s.src.ResourceID()),
		zap.String("status", string(status)),
		zap.Error(err),
	)
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}
