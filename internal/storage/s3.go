package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Service presigns uploads against Amazon S3 or any compatible API (R2, MinIO).
type S3Service struct {
	presign    *s3.PresignClient
	bucket     string
	publicBase string
}

func NewS3Service(client *s3.Client, bucket, publicBaseURL string) *S3Service {
	return &S3Service{
		presign:    s3.NewPresignClient(client),
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *S3Service) PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (Grant, error) {
	if s.bucket == "" {
		return Grant{}, fmt.Errorf("storage bucket is required")
	}
	if strings.TrimSpace(key) == "" {
		return Grant{}, fmt.Errorf("object key is required")
	}

	// The presigner does not sign Content-Type, so a PUT with another type
	// is accepted. The publisher sends the type the grant was requested for.
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return Grant{}, fmt.Errorf("presign put %s: %w", key, err)
	}

	return Grant{
		UploadURL: req.URL,
		PublicURL: s.PublicURL(key),
		Key:       key,
		ExpiresAt: time.Now().Add(expires),
	}, nil
}

func (s *S3Service) PublicURL(key string) string {
	return s.publicBase + "/" + key
}

var _ Presigner = (*S3Service)(nil)
