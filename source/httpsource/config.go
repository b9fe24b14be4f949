package httpsource

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gitter-badger/ressor/source"
	"github.com/gitter-badger/ressor/telemetry"
)

const (
	DefaultPoolSize       = 4
	DefaultQueueSize      = 16
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// Config controls one HTTP source. The zero value plus a URL is a
// working etag-negotiating source.
type Config struct {
	// URL locates the resource. Required, absolute, http or https.
	URL string

	// Strategy selects the conditional-request shape. Empty means etag.
	Strategy source.CacheControlStrategy

	// Headers are applied to every request.
	Headers map[string]string

	// PoolSize bounds concurrent connections to the host. QueueSize
	// bounds requests waiting beyond that; once both are saturated a
	// fetch fails instead of queueing without bound. Values below one
	// fall back to the defaults.
	PoolSize  int
	QueueSize int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// ReceiveBufferSize sets the transport read buffer in bytes, zero
	// keeps the transport default.
	ReceiveBufferSize int

	// Client overrides the built transport entirely; pool and timeout
	// settings are then the caller's concern.
	Client *http.Client

	Logger  *zap.Logger
	Metrics telemetry.Metrics
	Tracer  trace.Tracer
}

func (c Config) normalize() Config {
	c.URL = strings.TrimSpace(c.URL)
	c.Strategy = source.NormalizeStrategy(c.Strategy)
	if c.PoolSize < 1 {
		c.PoolSize = DefaultPoolSize
	}
	if c.QueueSize < 1 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

func (c Config) validate() []string {
	var errs []string
	if c.URL == "" {
		errs = append(errs, "url is required")
	} else if parsed, err := url.Parse(c.URL); err != nil {
		errs = append(errs, fmt.Sprintf("url is not parseable: %v", err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, fmt.Sprintf("url scheme %q must be http or https", parsed.Scheme))
	}
	if !source.IsSupportedStrategy(c.Strategy) {
		errs = append(errs, fmt.Sprintf("strategy %q is not supported", c.Strategy))
	}
	return errs
}
