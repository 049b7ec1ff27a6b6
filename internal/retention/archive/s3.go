// Package archive writes the entries stamped by a retention run to object
// storage before they can be purged.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"chronicle/internal/audit"
)

// ObjectPutter is the part of the S3 client the sink needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config configures an S3 compatible endpoint.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("archive bucket is required")
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.New("archive credentials are required")
	}
	return nil
}

// NewS3Client builds a path-style client so MinIO and R2 endpoints work.
func NewS3Client(cfg Config) (*s3.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts), nil
}

// Bundle is the object body written per organization and run.
type Bundle struct {
	OrganizationID   string         `json:"organization_id"`
	ArchiveReference string         `json:"archive_reference"`
	Entries          []*audit.Entry `json:"entries"`
}

// S3Sink stores one JSON bundle per run under <prefix><org>/<reference>.json.
type S3Sink struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewS3Sink(client ObjectPutter, bucket, prefix string) *S3Sink {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key of the bundle for org and reference.
func (s *S3Sink) Key(org, reference string) string {
	return s.prefix + org + "/" + reference + ".json"
}

func (s *S3Sink) Put(ctx context.Context, org, reference string, entries []*audit.Entry) error {
	body, err := json.Marshal(Bundle{
		OrganizationID:   org,
		ArchiveReference: reference,
		Entries:          entries,
	})
	if err != nil {
		return fmt.Errorf("marshal archive bundle: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(org, reference)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put archive bundle: %w", err)
	}
	return nil
}
