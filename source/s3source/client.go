package s3source

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig builds a real S3 client. Empty fields defer to the
// default AWS resolution chain (environment, shared config, IAM role).
type ClientConfig struct {
	Region string

	// Endpoint targets S3-compatible stores (MinIO, R2, …).
	Endpoint string

	// Static credentials; leave empty to use the default chain.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle addresses buckets as a path segment instead of a
	// virtual host, required by most self-hosted stores.
	UsePathStyle bool
}

func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}
