package archive

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/caarlos0/env/v11"

	"vaultedge/internal/pathguard"
)

// Uploader is the part of manager.Uploader S3Sink needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Config locates the export bucket. InstanceID namespaces keys so several
// installations can share one bucket.
type S3Config struct {
	Bucket     string
	Prefix     string
	Region     string
	Endpoint   string // S3-compatible services such as MinIO
	InstanceID string
}

// s3Credentials are read from the environment so secrets stay out of the
// config file. When unset the default AWS credential chain applies.
type s3Credentials struct {
	AccessKeyID     string `env:"VAULTEDGE_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"VAULTEDGE_S3_SECRET_ACCESS_KEY"`
}

// S3Sink uploads exports with the multipart upload manager.
type S3Sink struct {
	uploader   Uploader
	bucket     string
	prefix     string
	instanceID string
}

// NewS3Sink loads the AWS configuration and builds an uploader for cfg.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 export requires s3_bucket to be set")
	}

	var creds s3Credentials
	if err := env.Parse(&creds); err != nil {
		return nil, fmt.Errorf("reading s3 credentials: %w", err)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SinkWithUploader(manager.NewUploader(client), cfg), nil
}

// NewS3SinkWithUploader creates a sink around an existing uploader.
func NewS3SinkWithUploader(u Uploader, cfg S3Config) *S3Sink {
	return &S3Sink{uploader: u, bucket: cfg.Bucket, prefix: cfg.Prefix, instanceID: cfg.InstanceID}
}

// Key returns the object key an export called name is stored under.
func (s *S3Sink) Key(name string) string {
	return path.Join(s.prefix, s.instanceID, name)
}

// Put uploads r as <prefix>/<instanceID>/<name> and returns its s3:// URL.
func (s *S3Sink) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := pathguard.ValidateName(name); err != nil {
		return "", fmt.Errorf("export name: %w", err)
	}
	key := s.Key(name)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func contentType(name string) string {
	if path.Ext(name) == AgeSuffix {
		return "application/octet-stream"
	}
	return "application/zip"
}

var _ Sink = (*S3Sink)(nil)
