package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gitter-badger/ressor"
	"github.com/gitter-badger/ressor/service"
	"github.com/gitter-badger/ressor/source"
	"github.com/gitter-badger/ressor/telemetry"
	"github.com/gitter-badger/ressor/translator"
)

func run(ctx context.Context, uri string, opts *watchOptions) error {
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(registry)

	src, err := buildSource(ctx, uri, opts, metrics)
	if err != nil {
		return err
	}

	svc, err := ressor.New(ressor.Config[[]byte]{
		Name:       "ressorwatch",
		Source:     src,
		Translator: translator.Bytes(),
		Logger:     opts.logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	if opts.metricsListen != "" {
		go func() {
			err := telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
				Addr:          opts.metricsListen,
				EnableMetrics: true,
				EnableHealthz: true,
				Ready:         svc.Handle().IsReady,
				Registry:      registry,
			}, opts.logger)
			if err != nil {
				opts.logger.Error("telemetry server failed", zap.Error(err))
			}
		}()
	}

	// The first pass must succeed so uri typos and missing resources
	// surface immediately instead of as an idle watch.
	if _, err := svc.Reload(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	out := &eventWriter{w: os.Stdout, resource: src.ResourceID(), json: opts.jsonOutput}
	snap, err := svc.Handle().Snapshot(ctx)
	if err != nil {
		return err
	}
	out.emit(snap)

	if watcher, ok := src.(source.Watcher); ok {
		return runWatch(ctx, svc, watcher, out)
	}
	return runPoll(ctx, svc, out, opts.interval)
}

func runPoll(ctx context.Context, svc *ressor.Service[[]byte], out *eventWriter, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			emitIfSwapped(ctx, svc, out)
		}
	}
}

func runWatch(ctx context.Context, svc *ressor.Service[[]byte], watcher source.Watcher, out *eventWriter) error {
	events, err := watcher.Watch(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
			emitIfSwapped(ctx, svc, out)
		}
	}
}

// emitIfSwapped runs one pass and prints only real changes. Failed
// passes are already logged by the service and keep the last state.
func emitIfSwapped(ctx context.Context, svc *ressor.Service[[]byte], out *eventWriter) {
	swapped, err := svc.Reload(ctx)
	if err != nil || !swapped {
		return
	}
	if snap, err := svc.Handle().Snapshot(ctx); err == nil {
		out.emit(snap)
	}
}

type changeEvent struct {
	Time     time.Time `json:"time"`
	Resource string    `json:"resource"`
	Seq      uint64    `json:"seq"`
	Version  string    `json:"version"`
	Bytes    int       `json:"bytes"`
}

type eventWriter struct {
	w        io.Writer
	resource string
	json     bool
}

func (e *eventWriter) emit(snap service.Snapshot[[]byte]) {
	event := changeEvent{
		Time:     snap.InstalledAt.UTC(),
		Resource: e.resource,
		Seq:      snap.Seq,
		Version:  snap.Version.String(),
		Bytes:    len(snap.Instance),
	}
	if e.json {
		_ = json.NewEncoder(e.w).Encode(event)
		return
	}
	fmt.Fprintf(e.w, "%s  seq=%d  version=%s  bytes=%d  %s\n",
		event.Time.Format(time.RFC3339), event.Seq, event.Version, event.Bytes, event.Resource)
}
