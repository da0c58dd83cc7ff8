package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
)

// PutObjectAPI is the part of the S3 client used for uploads
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds bucket settings
type S3Config struct {
	Bucket string
	Region string
	Prefix string
	// PublicURL replaces the bucket URL in returned links, e.g. a CDN
	PublicURL string
}

// S3Storage stores uploads in an S3 bucket
type S3Storage struct {
	client PutObjectAPI
	cfg    S3Config
	logger *zap.Logger
	now    func() time.Time
}

// LoadAWSConfig loads the default AWS configuration. When AWS_ENDPOINT_URL
// is set every service resolves to it, e.g. a LocalStack container.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, string, error) {
	endpoint := os.Getenv("AWS_ENDPOINT_URL")
	if endpoint == "" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		return cfg, "", err
	}
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, r string, _ ...any) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               endpoint,
			HostnameImmutable: true,
			PartitionID:       "aws",
		}, nil
	})
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	return cfg, endpoint, err
}

// NewS3Client builds a client, switching to path-style addressing for custom endpoints
func NewS3Client(ctx context.Context, region string) (*s3.Client, string, error) {
	cfg, endpoint, err := LoadAWSConfig(ctx, region)
	if err != nil {
		return nil, "", fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.UsePathStyle = true
		}
	})
	return client, endpoint, nil
}

// NewS3Storage creates an S3Storage. When cfg.PublicURL is empty and
// endpoint is set, links point at the endpoint in path style.
func NewS3Storage(client PutObjectAPI, cfg S3Config, endpoint string, logger *zap.Logger) *S3Storage {
	if cfg.PublicURL == "" {
		if endpoint != "" {
			cfg.PublicURL = strings.TrimRight(endpoint, "/") + "/" + cfg.Bucket
		} else {
			cfg.PublicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	return &S3Storage{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Upload puts data under a fresh key and returns its URL
func (s *S3Storage) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := ObjectKey(s.now(), name)
	if s.cfg.Prefix != "" {
		key = s.cfg.Prefix + "/" + key
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.cfg.Bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String(contentType),
		ContentLength:        aws.Int64(int64(len(data))),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		s.logger.Error("Failed to upload document",
			zap.String("bucket", s.cfg.Bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	s.logger.Info("Document stored",
		zap.String("bucket", s.cfg.Bucket),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)
	return s.cfg.PublicURL + "/" + key, nil
}

var _ port.UploadService = (*S3Storage)(nil)
