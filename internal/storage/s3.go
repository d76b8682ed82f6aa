package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/dr"
)

// S3Storage implements dr.BackupStorage against S3-compatible storage
type S3Storage struct {
	bucket string
	logger *zap.Logger
	client *s3.Client
}

// S3Config holds S3 connection settings
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// NewS3Storage creates an S3-backed backup storage
func NewS3Storage(cfg S3Config, logger *zap.Logger) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Storage{
		bucket: cfg.Bucket,
		logger: logger,
		client: client,
	}, nil
}

// Write stores a blob under the given key
func (s *S3Storage) Write(ctx context.Context, path string, data io.Reader) (*dr.WriteResult, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("read backup data: %w", err)
	}
	sum := sha256.Sum256(body)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s/%s: %w", s.bucket, path, err)
	}

	return &dr.WriteResult{
		SizeBytes: int64(len(body)),
		Checksum:  hex.EncodeToString(sum[:]),
		Location:  fmt.Sprintf("s3://%s/%s", s.bucket, path),
	}, nil
}

// Read retrieves a blob by location
func (s *S3Storage) Read(ctx context.Context, location string) (io.ReadCloser, error) {
	key, err := s.keyFromLocation(location)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", s.bucket, key, err)
	}
	return result.Body, nil
}

// Delete removes a blob by location
func (s *S3Storage) Delete(ctx context.Context, location string) error {
	key, err := s.keyFromLocation(location)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Checksum recomputes the checksum of a stored blob
func (s *S3Storage) Checksum(ctx context.Context, location string) (string, error) {
	rc, err := s.Read(ctx, location)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("checksum object: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *S3Storage) keyFromLocation(location string) (string, error) {
	prefix := fmt.Sprintf("s3://%s/", s.bucket)
	if len(location) <= len(prefix) || location[:len(prefix)] != prefix {
		return "", fmt.Errorf("location %q not in bucket %s", location, s.bucket)
	}
	return location[len(prefix):], nil
}
