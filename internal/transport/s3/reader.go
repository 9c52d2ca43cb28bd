// Package s3 reads corpus image bytes from S3-compatible object storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/imagebuf"
)

// Client abstracts the S3 API operations used by Reader. *awss3.Client satisfies it.
type Client interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// Config describes the bucket holding image objects.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient builds an S3 client for AWS or a compatible store (MinIO, R2).
// Static keys are used when given, otherwise requests are anonymous.
func NewClient(cfg Config) *awss3.Client {
	opts := awss3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Source:          "imgdex-config",
		}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil },
		))
	}
	return awss3.New(opts)
}

// Reader fetches image bytes by image ID. Objects live at <prefix>/<image_id>.
type Reader struct {
	client Client
	bucket string
	prefix string
}

// NewReader creates a Reader. Pass "" for no prefix.
func NewReader(client Client, bucket, prefix string) *Reader {
	return &Reader{client: client, bucket: bucket, prefix: prefix}
}

// Bytes returns the object for imageID. A missing object is domain.ErrNotFound,
// an object above imagebuf.MaxSize is domain.ErrInvalidInput.
func (r *Reader) Bytes(ctx context.Context, imageID string) ([]byte, error) {
	key := r.key(imageID)
	out, err := r.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(out.Body, imagebuf.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	if len(raw) > imagebuf.MaxSize {
		return nil, fmt.Errorf("%w: object %s exceeds %d bytes", domain.ErrInvalidInput, key, imagebuf.MaxSize)
	}
	return raw, nil
}

func (r *Reader) key(imageID string) string {
	if r.prefix == "" {
		return imageID
	}
	return r.prefix + "/" + imageID
}

// isNotFound reports whether err indicates the object does not exist.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
