package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gitter-badger/ressor/source"
	"github.com/gitter-badger/ressor/source/boltsource"
	"github.com/gitter-badger/ressor/source/filesource"
	"github.com/gitter-badger/ressor/source/httpsource"
	"github.com/gitter-badger/ressor/source/redissource"
	"github.com/gitter-badger/ressor/source/s3source"
	"github.com/gitter-badger/ressor/telemetry"
)

// buildSource maps a resource URI onto the matching source package. A
// bare path with no scheme is treated as a local file.
func buildSource(ctx context.Context, raw string, opts *watchOptions, metrics telemetry.Metrics) (source.Source, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse resource uri: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		headers, err := parseHeaders(opts.headers)
		if err != nil {
			return nil, err
		}
		return httpsource.New(httpsource.Config{
			URL:            raw,
			Strategy:       opts.strategy,
			Headers:        headers,
			ConnectTimeout: opts.connectTimeout,
			ReadTimeout:    opts.readTimeout,
			Logger:         opts.logger,
			Metrics:        metrics,
		})

	case "file", "":
		path := raw
		if parsed.Scheme == "file" {
			path = strings.TrimPrefix(raw, "file://")
		}
		return filesource.New(filesource.Config{
			Path:     path,
			Debounce: opts.debounce,
			Logger:   opts.logger,
		})

	case "s3":
		bucket := parsed.Host
		key := strings.TrimPrefix(parsed.Path, "/")
		client, err := s3source.NewClient(ctx, s3source.ClientConfig{
			Region:          opts.awsRegion,
			Endpoint:        opts.awsEndpoint,
			AccessKeyID:     opts.awsAccessKey,
			SecretAccessKey: opts.awsSecretKey,
			UsePathStyle:    opts.awsPathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3source.New(s3source.Config{
			Client:  client,
			Bucket:  bucket,
			Key:     key,
			Logger:  opts.logger,
			Metrics: metrics,
		})

	case "redis":
		addr := parsed.Host
		if addr == "" {
			addr = opts.redisAddr
		}
		db := opts.redisDB
		if p := strings.TrimPrefix(parsed.Path, "/"); p != "" {
			db, err = strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("redis uri database %q: %w", p, err)
			}
		}
		return redissource.New(redissource.Config{
			Addr:     addr,
			Password: opts.redisPassword,
			DB:       db,
			Key:      parsed.Fragment,
			Logger:   opts.logger,
		})

	case "bolt":
		bucket, key, ok := strings.Cut(parsed.Fragment, "/")
		if !ok {
			return nil, fmt.Errorf("bolt uri %q needs a #bucket/key fragment", raw)
		}
		return boltsource.New(boltsource.Config{
			Path:   parsed.Path,
			Bucket: bucket,
			Key:    key,
			Logger: opts.logger,
		})

	default:
		return nil, fmt.Errorf("unsupported resource scheme %q", parsed.Scheme)
	}
}

func parseHeaders(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(entries))
	for _, entry := range entries {
		name, value, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("header %q must look like 'Name: value'", entry)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}
