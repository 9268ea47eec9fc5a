// Package s3 keeps each domain as one CSV object, <key_prefix><domain>.csv.
//
// S3 has no append, so Append downloads, extends and re-uploads the object.
// That is only safe because the domain lock serializes every call in this
// process; two servers sharing a bucket would race.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/pkg/store"
	storecsv "github.com/marmos91/stockd/pkg/store/csv"
)

// Config configures the S3 backend.
type Config struct {
	Region          string `mapstructure:"region" validate:"required"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// API is the subset of the S3 client the backend calls.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type backend struct {
	client    API
	bucket    string
	keyPrefix string
}

// New builds an S3 client from cfg and returns the store.
func New(ctx context.Context, cfg Config) (*store.LockedStore, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("S3 record store initialized: bucket=%s, region=%s, prefix=%s",
		cfg.Bucket, cfg.Region, cfg.KeyPrefix)

	return NewWithClient(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewWithClient returns a store over an existing client.
func NewWithClient(client API, bucket, keyPrefix string) *store.LockedStore {
	return store.NewLocked(&backend{client: client, bucket: bucket, keyPrefix: keyPrefix})
}

// NewClient loads AWS configuration. A custom endpoint (MinIO, Localstack)
// switches to path-style addressing.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 record store: bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("S3 record store: region is required")
	}

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (b *backend) key(d store.Domain) string {
	return b.keyPrefix + string(d) + ".csv"
}

func (b *backend) Load(ctx context.Context, d store.Domain) ([]store.Row, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(d)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", b.key(d), err)
	}
	defer func() { _ = out.Body.Close() }()

	return storecsv.Decode(out.Body)
}

func (b *backend) Save(ctx context.Context, d store.Domain, rows []store.Row) error {
	var buf bytes.Buffer
	if err := storecsv.Encode(&buf, rows); err != nil {
		return err
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(d)),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", b.key(d), err)
	}
	return nil
}

func (b *backend) AppendRow(ctx context.Context, d store.Domain, row store.Row) error {
	rows, err := b.Load(ctx, d)
	if err != nil {
		return err
	}
	return b.Save(ctx, d, append(rows, row))
}

func (b *backend) Close() error { return nil }
