package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3-compatible bucket (AWS, MinIO)
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// s3API is the subset of the S3 client used by S3Store
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store keeps uploads in a bucket. References look like s3://bucket/key.
type S3Store struct {
	client s3API
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Store creates an S3 client from static credentials, or the default
// credential chain when none are configured
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Path-style addressing is required for MinIO
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 document store initialized",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket),
		slog.String("region", region),
	)

	return newS3Store(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Store(client s3API, bucket, prefix string, logger *slog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

func (s *S3Store) Save(ctx context.Context, filename string, r io.Reader, size int64) (string, error) {
	key := path.Join(s.prefix, UploadName(filename))

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if filename != "" {
		input.Metadata = map[string]string{"original-filename": SanitizeFilename(filename)}
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logger.Error("Failed to upload document",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("upload failed: %w", err)
	}

	ref := s3Scheme + s.bucket + "/" + key
	s.logger.Debug("Document uploaded",
		slog.String("ref", ref),
		slog.Int64("size", size),
	)
	return ref, nil
}

func (s *S3Store) Exists(ctx context.Context, ref string) (bool, error) {
	bucket, key, err := ParseS3Reference(ref)
	if err != nil {
		return false, nil
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object failed: %w", err)
	}
	return true, nil
}

// Fetch downloads the object into a temporary file
func (s *S3Store) Fetch(ctx context.Context, ref string) (string, func(), error) {
	noop := func() {}

	bucket, key, err := ParseS3Reference(ref)
	if err != nil {
		return "", noop, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", noop, fmt.Errorf("file not found: %s", ref)
		}
		return "", noop, fmt.Errorf("download failed: %w", err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp("", "doc-*"+filepath.Ext(key))
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to remove staged document",
				slog.String("path", f.Name()),
				slog.Any("error", err),
			)
		}
	}

	_, err = io.Copy(f, out.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to stage %s: %w", ref, err)
	}

	return f.Name(), cleanup, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}
