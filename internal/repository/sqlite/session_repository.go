package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"atpark/internal/domain"
	"atpark/internal/repository"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
	service TEXT PRIMARY KEY,
	did TEXT NOT NULL,
	handle TEXT NOT NULL,
	access_jwt TEXT NOT NULL,
	refresh_jwt TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) repository.SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSessionsTable); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO sessions (service, did, handle, access_jwt, refresh_jwt, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(service) DO UPDATE SET
	did = excluded.did,
	handle = excluded.handle,
	access_jwt = excluded.access_jwt,
	refresh_jwt = excluded.refresh_jwt,
	updated_at = excluded.updated_at`,
		session.Service,
		session.DID,
		session.Handle,
		session.AccessJWT,
		session.RefreshJWT,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Load(ctx context.Context, service string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT service, did, handle, access_jwt, refresh_jwt, created_at, updated_at
FROM sessions
WHERE service = ?`,
		service,
	)

	var s domain.Session
	if err := row.Scan(
		&s.Service,
		&s.DID,
		&s.Handle,
		&s.AccessJWT,
		&s.RefreshJWT,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) Delete(ctx context.Context, service string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE service = ?`, service); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
