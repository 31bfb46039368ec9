// Package s3 exports processed images to an S3 bucket.
//
// This package wraps the AWS SDK v2 and implements download.Sink, so the
// process command can write exports to a bucket instead of a directory.
//
// # Features
//
//   - Retries with exponential backoff on transient failures
//   - Key validation (path traversal prevention)
//   - Optional key prefix and custom endpoint for S3-compatible stores
//
// # Authentication
//
// The client uses the AWS SDK default credential chain:
//  1. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  2. Shared credentials file (~/.aws/credentials)
//  3. IAM role (if running on EC2)
//
// Set Config.Anonymous to send unsigned requests, e.g. to a local
// S3-compatible store that accepts them.
//
// # Usage Example
//
//	client, err := s3.New(ctx, s3.Config{
//		Region: "us-east-1",
//		Bucket: "imagepress-exports",
//		Prefix: "2024/batch-1",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	loc, err := client.Put(ctx, "holiday_webp.webp", body, size)
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// maxObjectSize bounds a single export. Bodies are buffered so a failed
// attempt can be retried.
const maxObjectSize = 64 << 20

// putter is the subset of the SDK client used here.
type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client uploads exports to one bucket.
type Client struct {
	s3Client   putter
	bucket     string
	prefix     string
	maxRetries uint64
	logger     *logrus.Logger
}

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (optional, defaults to us-east-1)
	Region string

	// Bucket receives the exports.
	Bucket string

	// Prefix is prepended to every key.
	Prefix string

	// Endpoint overrides the service endpoint, for S3-compatible stores.
	// Path-style addressing is used when it is set.
	Endpoint string

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64

	// Anonymous skips the credential chain and sends unsigned requests.
	Anonymous bool
}

// DefaultConfig returns a default S3 configuration.
func DefaultConfig() Config {
	return Config{
		Region:     "us-east-1",
		Bucket:     "imagepress-exports",
		MaxRetries: 4,
	}
}

// New creates a new S3 client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}
	if cfg.Prefix != "" {
		if err := validateS3Key(cfg.Prefix); err != nil {
			return nil, fmt.Errorf("invalid key prefix: %w", err)
		}
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Client{
		s3Client:   s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		maxRetries: cfg.MaxRetries,
		logger:     logrus.New(),
	}, nil
}

// loadAWSConfig resolves region and credentials through the SDK's default
// chain unless cfg asks for anonymous access.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Anonymous {
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// SetLogger sets a custom logger for the client.
func (c *Client) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// SuppressLogs disables all log output from the S3 client.
// This is useful when running in TUI mode where logs would interfere with the display.
func (c *Client) SuppressLogs() {
	c.logger.SetOutput(io.Discard)
}

// Key returns the object key used for name.
func (c *Client) Key(name string) string {
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

// Put uploads body as name and returns its s3:// location. Transient
// failures are retried with exponential backoff; the body is buffered for
// that purpose and must not exceed 64 MiB.
func (c *Client) Put(ctx context.Context, name string, body io.Reader, size int64) (string, error) {
	key := c.Key(name)
	if err := validateS3Key(key); err != nil {
		return "", fmt.Errorf("invalid S3 key: %w", err)
	}
	if size > maxObjectSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", size, maxObjectSize)
	}

	data, err := io.ReadAll(io.LimitReader(body, maxObjectSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read export body: %w", err)
	}
	if len(data) > maxObjectSize {
		return "", fmt.Errorf("file too large: more than %d bytes", maxObjectSize)
	}

	logger := c.logger.WithFields(logrus.Fields{
		"bucket": c.bucket,
		"key":    key,
		"size":   len(data),
	})

	attempt := 0
	put := func() error {
		attempt++
		_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType(name)),
		})
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("S3 upload failed, retrying")
	}
	if err := backoff.RetryNotify(put, policy, notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return "", fmt.Errorf("failed to upload %s after %d attempt(s): %w", key, attempt, err)
	}

	loc := fmt.Sprintf("s3://%s/%s", c.bucket, key)
	logger.WithField("attempts", attempt).Info("export uploaded")
	return loc, nil
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".webp":
		return "image/webp"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// validateS3Key validates an S3 key for security.
func validateS3Key(key string) error {
	// Check for empty key
	if key == "" {
		return fmt.Errorf("S3 key cannot be empty")
	}

	// Check length (max 1024 characters)
	if len(key) > 1024 {
		return fmt.Errorf("S3 key too long: %d characters (max 1024)", len(key))
	}

	// Check for path traversal attempts
	if strings.Contains(key, "..") {
		return fmt.Errorf("S3 key contains path traversal: %s", key)
	}

	// Check for absolute paths (should be relative)
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("S3 key should not start with /: %s", key)
	}

	// Check for null bytes
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("S3 key contains null byte")
	}

	return nil
}
