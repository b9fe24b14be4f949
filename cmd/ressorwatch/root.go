package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/gitter-badger/ressor/source"
)

type watchOptions struct {
	interval time.Duration
	strategy source.CacheControlStrategy
	headers  []string

	connectTimeout time.Duration
	readTimeout    time.Duration
	debounce       time.Duration

	awsRegion    string
	awsEndpoint  string
	awsAccessKey string
	awsSecretKey string
	awsPathStyle bool

	redisAddr     string
	redisPassword string
	redisDB       int

	metricsListen string
	jsonOutput    bool
	verbose       bool

	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := watchOptions{
		interval: 10 * time.Second,
		strategy: source.StrategyETag,
		logger:   zap.NewNop(),
	}

	root := &cobra.Command{
		Use:   "ressorwatch <uri>",
		Short: "Watch a versioned resource and stream its changes",
		Long: `ressorwatch keeps one resource loaded through conditional fetches and
prints a line to stdout every time a new version lands. Supported URIs:

  file:///etc/app/rates.yaml        modification time, fsnotify push
  https://example.com/rates.json    ETag / Last-Modified negotiation
  s3://bucket/key                   ETag via HeadObject probe
  redis://localhost:6379/0#rates    content hash
  bolt:///var/data/app.db#cfg/rates content hash`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg := zap.NewProductionConfig()
			if opts.verbose {
				cfg = zap.NewDevelopmentConfig()
			} else {
				cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
			}
			logger, err := cfg.Build()
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()
			return run(ctx, args[0], &opts)
		},
	}

	flags := root.Flags()
	flags.DurationVar(&opts.interval, "interval", opts.interval, "poll interval for sources without change notifications")
	flags.Var(&strategyValue{target: &opts.strategy}, "strategy", "conditional fetch strategy for http sources (none, if-modified-since, etag, last-modified-head, etag-head)")
	flags.StringArrayVar(&opts.headers, "header", nil, "extra http header as 'Name: value' (repeatable)")
	flags.DurationVar(&opts.connectTimeout, "connect-timeout", 10*time.Second, "connection timeout for http sources")
	flags.DurationVar(&opts.readTimeout, "read-timeout", 30*time.Second, "response header timeout for http sources")
	flags.DurationVar(&opts.debounce, "debounce", 0, "coalesce window for file change events (0 keeps the default)")
	flags.StringVar(&opts.awsRegion, "aws-region", "", "region for s3 sources")
	flags.StringVar(&opts.awsEndpoint, "aws-endpoint", "", "custom s3 endpoint (minio and friends)")
	flags.StringVar(&opts.awsAccessKey, "aws-access-key-id", "", "static s3 credential; the default chain applies when empty")
	flags.StringVar(&opts.awsSecretKey, "aws-secret-access-key", "", "static s3 credential; the default chain applies when empty")
	flags.BoolVar(&opts.awsPathStyle, "aws-path-style", false, "use path-style s3 addressing")
	flags.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "redis address when the uri does not carry one")
	flags.StringVar(&opts.redisPassword, "redis-password", "", "redis password")
	flags.IntVar(&opts.redisDB, "redis-db", 0, "redis database when the uri does not carry one")
	flags.StringVar(&opts.metricsListen, "metrics-listen", "", "serve prometheus metrics and healthz on this address (empty disables)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "emit change events as JSON lines")
	flags.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")

	return root
}

// strategyValue rejects unknown strategies at parse time instead of
// deep inside the first fetch.
type strategyValue struct {
	target *source.CacheControlStrategy
}

var _ pflag.Value = (*strategyValue)(nil)

func (v *strategyValue) String() string { return string(*v.target) }

func (v *strategyValue) Type() string { return "strategy" }

func (v *strategyValue) Set(raw string) error {
	normalized := source.NormalizeStrategy(source.CacheControlStrategy(raw))
	if !source.IsSupportedStrategy(normalized) {
		return fmt.Errorf("unsupported strategy %q", raw)
	}
	*v.target = normalized
	return nil
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
