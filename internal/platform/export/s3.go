package export

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Sink receives a finished export document.
type Sink interface {
	Put(ctx context.Context, key string, body io.Reader) error
}

// S3Sink uploads export documents with the s3manager concurrent uploader.
type S3Sink struct {
	uploader *s3manager.Uploader
	bucket   string
}

func NewS3Sink(region, bucket string) (*S3Sink, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &S3Sink{uploader: s3manager.NewUploader(sess), bucket: bucket}, nil
}

func (s *S3Sink) Put(ctx context.Context, key string, body io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("upload %s to %s: %w", key, s.bucket, err)
	}
	return nil
}
