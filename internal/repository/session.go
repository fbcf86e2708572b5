package repository

import (
	"context"
	"errors"

	"atpark/internal/domain"
)

// ErrSessionNotFound is returned when no session is stored for a service.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository persists the network session between process restarts.
type SessionRepository interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, session *domain.Session) error
	Load(ctx context.Context, service string) (*domain.Session, error)
	Delete(ctx context.Context, service string) error
}
