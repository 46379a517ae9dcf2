// Package s3 fetches PKCS#12 containers from an S3 compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// MaxContainerSize bounds how much of an object is read.
const MaxContainerSize = 1 << 20

// Config locates the bucket. Endpoint and static keys are optional; without
// keys the default AWS credential chain is used.
type Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// API is the part of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store implements the certificate object fetcher on S3.
type Store struct {
	client API
	bucket string
	prefix string
	log    *slog.Logger
}

func NewStore(client API, bucket, prefix string, log *slog.Logger) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix, log: log}
}

// NewClient builds an S3 client from cfg.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("certificate bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Fetch reads the object at key under the configured prefix.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	objectKey := strings.TrimPrefix(path.Join(s.prefix, key), "/")

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ierr.WithError(err).
				WithHintf("signing certificate object %s not found", objectKey).
				Mark(ierr.ErrCertificateNotConfigured)
		}
		return nil, ierr.WithError(err).
			WithHint("certificate storage unavailable, retry later").
			Mark(ierr.ErrPersistence)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, MaxContainerSize+1))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("certificate storage unavailable, retry later").
			Mark(ierr.ErrPersistence)
	}
	if len(data) > MaxContainerSize {
		return nil, ierr.Newf("certificate object %s exceeds %d bytes", objectKey, MaxContainerSize).
			WithHint("the signing certificate file is too large").
			Mark(ierr.ErrMalformedContainer)
	}

	if s.log != nil {
		s.log.Debug("Certificate object fetched", "bucket", s.bucket, "key", objectKey, "size_bytes", len(data))
	}
	return data, nil
}
