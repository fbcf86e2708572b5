package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *S3Service {
	t.Helper()
	client := s3.New(s3.Options{
		Region:       "auto",
		BaseEndpoint: aws.String("https://account.r2.example"),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	})
	return NewS3Service(client, "photos", "https://cdn.example/")
}

func TestPresignPut(t *testing.T) {
	svc := newTestService(t)

	grant, err := svc.PresignPut(context.Background(), "1700000000000-abc123-dog.jpg", "image/jpeg", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/1700000000000-abc123-dog.jpg", grant.PublicURL)
	require.Equal(t, "1700000000000-abc123-dog.jpg", grant.Key)

	u, err := url.Parse(grant.UploadURL)
	require.NoError(t, err)
	require.Equal(t, "https", u.Scheme)
	require.True(t, strings.HasSuffix(u.Path, "/photos/1700000000000-abc123-dog.jpg"), u.Path)
	require.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	require.Equal(t, "host", u.Query().Get("X-Amz-SignedHeaders"))
	require.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	require.True(t, strings.HasPrefix(u.Query().Get("X-Amz-Credential"), "AKID/"))
}

func TestPresignPutRequiresKey(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.PresignPut(context.Background(), " ", "image/jpeg", time.Hour)
	require.Error(t, err)
}
