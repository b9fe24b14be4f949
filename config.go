package ressor

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gitter-badger/ressor/source"
	"github.com/gitter-badger/ressor/telemetry"
	"github.com/gitter-badger/ressor/translator"
)

// DefaultPollInterval is used by StartPolling when the config does not
// set one.
const DefaultPollInterval = 30 * time.Second

// Config binds a source and a translator into a managed service.
type Config[T any] struct {
	// Name identifies the service in logs and metrics. Defaults to the
	// source's resource ID.
	Name string

	// Source supplies versioned content. Required.
	Source source.Source

	// Translator turns fetched content into a service instance.
	// Required.
	Translator translator.Translator[T]

	// PollInterval is the period StartPolling uses when called without
	// an explicit interval.
	PollInterval time.Duration

	// ReadyTimeout bounds how long readers block before the first
	// instance lands. Zero keeps the handle default.
	ReadyTimeout time.Duration

	// Bootstrap, when non-nil, is served as sequence zero until the
	// first reload succeeds.
	Bootstrap *T

	Logger  *zap.Logger
	Metrics telemetry.Metrics
	Tracer  trace.Tracer

	// OnError receives every failed reload attempt, fetch and
	// translation alike. Called from whichever goroutine ran the
	// attempt, so it must be safe for concurrent use.
	OnError func(error)
}

func (c Config[T]) normalize() Config[T] {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" && c.Source != nil {
		c.Name = c.Source.ResourceID()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

func (c Config[T]) validate() []string {
	var errs []string
	if c.Source == nil {
		errs = append(errs, "source is required")
	}
	if c.Translator == nil {
		errs = append(errs, "translator is required")
	}
	return errs
}
