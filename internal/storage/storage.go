package storage

import (
	"context"
	"time"
)

// Grant is a single-use write credential plus the stable read location of
// the object it writes.
type Grant struct {
	UploadURL string
	PublicURL string
	Key       string
	ExpiresAt time.Time
}

// Presigner mints time-limited write URLs into object storage.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (Grant, error)
	PublicURL(key string) string
}
