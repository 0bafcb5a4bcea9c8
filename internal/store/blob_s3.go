package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// S3BlobStore implements BlobStore on AWS S3 with server-side encryption.
// Logical buckets (content, artifacts, traces) map to real bucket names via
// the Buckets table; unmapped logical names fall back to a shared bucket with
// the logical name as key prefix.
type S3BlobStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	buckets  map[string]string
	fallback string
}

// NewS3BlobStore builds an S3-backed blob store from the default AWS config
// chain.
func NewS3BlobStore(ctx context.Context, region string, buckets map[string]string, fallbackBucket string) (*S3BlobStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3BlobStore{
		client:   client,
		uploader: manager.NewUploader(client),
		buckets:  buckets,
		fallback: fallbackBucket,
	}, nil
}

func (s *S3BlobStore) resolve(bucket, key string) (string, string) {
	if real, ok := s.buckets[bucket]; ok {
		return real, key
	}
	return s.fallback, bucket + "/" + key
}

func (s *S3BlobStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	realBucket, realKey := s.resolve(bucket, key)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(realBucket),
		Key:                  aws.String(realKey),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3BlobStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	realBucket, realKey := s.resolve(bucket, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(realBucket),
		Key:    aws.String(realKey),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") {
			return nil, fmt.Errorf("%w: blob %s/%s", core.ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to get blob %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body %s/%s: %w", bucket, key, err)
	}
	return data, nil
}
