package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nhle/email-mcp/internal/model"
)

const s3Scheme = "s3://"

// Storage reads and writes export files.
type Storage interface {
	// Put writes data under name and returns the location it was
	// written to.
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
}

// IsRemote reports whether location names an S3 object.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, s3Scheme)
}

// LocalStorage keeps export files on disk. Relative names resolve
// against Dir.
type LocalStorage struct {
	Dir string
}

func (l *LocalStorage) path(name string) string {
	if filepath.IsAbs(name) || l.Dir == "" {
		return name
	}
	return filepath.Join(l.Dir, name)
}

func (l *LocalStorage) Put(_ context.Context, name string, data []byte) (string, error) {
	path := l.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing export %s: %w", path, err)
	}
	return path, nil
}

func (l *LocalStorage) Get(_ context.Context, location string) ([]byte, error) {
	path := l.path(location)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export %s: %w", path, err)
	}
	return data, nil
}

// S3Storage keeps export files in an S3 (or S3 compatible) bucket.
// Locations are s3://bucket/key; a bare key uses the configured bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
}

// NewS3Storage builds an S3 client with static credentials.
func NewS3Storage(cfg model.S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 export: bucket is required")
	}

	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Storage{client: s3.New(opts), bucket: cfg.Bucket}, nil
}

// splitLocation returns the bucket and key of location.
func (s *S3Storage) splitLocation(location string) (bucket, key string, err error) {
	if !IsRemote(location) {
		return s.bucket, strings.TrimPrefix(location, "/"), nil
	}
	rest := strings.TrimPrefix(location, s3Scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 location %q", location)
	}
	return bucket, key, nil
}

func (s *S3Storage) Put(ctx context.Context, name string, data []byte) (string, error) {
	bucket, key, err := s.splitLocation(name)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("uploading export to s3://%s/%s: %w", bucket, key, err)
	}
	return s3Scheme + bucket + "/" + key, nil
}

func (s *S3Storage) Get(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := s.splitLocation(location)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
