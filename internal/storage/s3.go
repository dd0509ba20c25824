package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Objects implements ObjectGetter with the AWS SDK.
type S3Objects struct {
	client *s3.Client
}

// NewS3Objects loads the default AWS config for region.
func NewS3Objects(ctx context.Context, region string) (*S3Objects, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &S3Objects{client: s3.NewFromConfig(cfg)}, nil
}

func (s *S3Objects) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", err
	}
	return out.Body, aws.ToString(out.ContentType), nil
}
