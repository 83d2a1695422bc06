// Package s3 mirrors artifacts to an S3-compatible bucket (AWS S3, Cloudflare
// R2, MinIO).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	s3api "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pitchreel/internal/ports"
)

type Options struct {
	// Endpoint overrides the AWS endpoint, e.g.
	// https://<account>.r2.cloudflarestorage.com. Empty means AWS.
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// Prefix is prepended to every object key.
	Prefix       string
	UsePathStyle bool
}

// Bucket implements ports.StorageProvider on one bucket.
type Bucket struct {
	client   *s3api.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func New(ctx context.Context, o Options) (*Bucket, error) {
	if o.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if o.Region == "" {
		o.Region = "auto"
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			o.AccessKeyID, o.SecretAccessKey, "",
		)),
		config.WithRegion(o.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3api.NewFromConfig(cfg, func(so *s3api.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.UsePathStyle
		// R2 and MinIO reject the default trailing checksums on streamed bodies.
		so.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		so.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Bucket{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   o.Bucket,
		prefix:   o.Prefix,
	}, nil
}

func (b *Bucket) Provider() string { return "s3" }

func (b *Bucket) key(objectKey string) string {
	if b.prefix == "" || strings.HasPrefix(objectKey, b.prefix) {
		return objectKey
	}
	return b.prefix + objectKey
}

func (b *Bucket) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object key is required")
	}
	key := b.key(in.ObjectKey)

	input := &s3api.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   in.Reader,
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("failed to upload %q: %w", key, err)
	}
	return ports.PutObjectOutput{ObjectKey: key, Size: in.Size}, nil
}

func (b *Bucket) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	key := b.key(objectKey)
	out, err := b.client.GetObject(ctx, &s3api.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", 0, fmt.Errorf("object %q not found: %w", key, err)
		}
		return nil, "", 0, fmt.Errorf("failed to download %q: %w", key, err)
	}
	return out.Body, aws.ToString(out.ContentType), aws.ToInt64(out.ContentLength), nil
}

func (b *Bucket) DeleteObject(ctx context.Context, objectKey string) error {
	key := b.key(objectKey)
	if _, err := b.client.DeleteObject(ctx, &s3api.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}
