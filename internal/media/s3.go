/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string // MinIO, Spaces, B2...
	UsePathStyle    bool
	// MaxAttempts overrides the SDK retry budget when > 0.
	MaxAttempts int
}

// S3Fetcher reads tracks from a bucket; locators are object keys.
type S3Fetcher struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger
}

// NewS3Fetcher builds an S3 client. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func NewS3Fetcher(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Fetcher, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	} else {
		logger.Warn().Msg("S3 credentials not configured, using default credential chain")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.MaxAttempts > 0 {
			o.RetryMaxAttempts = cfg.MaxAttempts
		}
	})

	return &S3Fetcher{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// FetchBytes downloads the object named by locator.
func (f *S3Fetcher) FetchBytes(ctx context.Context, locator string) ([]byte, error) {
	key := strings.TrimPrefix(locator, "/")
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read s3 object %s: %w", ErrTransient, key, err)
	}
	f.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("downloaded media object")
	return data, nil
}

// CheckAccess verifies the bucket is reachable.
func (f *S3Fetcher) CheckAccess(ctx context.Context) error {
	if _, err := f.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(f.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", f.bucket, err)
	}
	return nil
}

func classifyS3Error(key string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: s3 key %s", ErrNotFound, key)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%w: s3 key %s", ErrNotFound, key)
		case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("get s3 object %s: %w", key, err)
		}
	}
	return fmt.Errorf("%w: get s3 object %s: %w", ErrTransient, key, err)
}
