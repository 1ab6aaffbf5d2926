package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/annavaram/storefront/internal/model"
	"github.com/google/uuid"
)

// SessionRepo defines the interface for refresh session repository operations
type SessionRepo interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (model.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (model.Session, error)
	Rotate(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time, userAgent, ip string) (model.Session, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, user_id, refresh_token_hash, expires_at, revoked_at, user_agent, ip, created_at, updated_at`

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshTokenHash,
		&s.ExpiresAt,
		&s.RevokedAt,
		&s.UserAgent,
		&s.IP,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, fmt.Errorf("session: %w", ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

// Create inserts a new session
func (r *sessionRepo) Create(ctx context.Context, s *model.Session) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, refresh_token_hash, expires_at, user_agent, ip)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, s.UserID, s.RefreshTokenHash, s.ExpiresAt, s.UserAgent, s.IP).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID returns the session regardless of its state
func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetByTokenHash returns the session holding the hash regardless of its state
func (r *sessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (model.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, tokenHash))
}

// Rotate swaps the stored hash only if the session still holds oldHash and is usable.
// Concurrent rotations of the same token race here; the loser gets ErrNotFound.
func (r *sessionRepo) Rotate(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time, userAgent, ip string) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $3, expires_at = $4, user_agent = $5, ip = $6, updated_at = now()
		WHERE id = $1 AND refresh_token_hash = $2 AND revoked_at IS NULL AND expires_at > now()
		RETURNING `+sessionColumns,
		id, oldHash, newHash, expiresAt, userAgent, ip)
	s, err := scanSession(row)
	if err != nil {
		return model.Session{}, fmt.Errorf("rotate session: %w", err)
	}
	return s, nil
}

// Revoke stamps revoked_at once; revoking an already revoked session keeps the first stamp
func (r *sessionRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = COALESCE(revoked_at, now()), updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("revoke session: %w", ErrNotFound)
	}
	return nil
}

func (r *sessionRepo) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = COALESCE(revoked_at, now()), updated_at = now() WHERE refresh_token_hash = $1
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session by token: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("revoke session by token: %w", ErrNotFound)
	}
	return nil
}

// RevokeAllForUser revokes every active session of the user
func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now(), updated_at = now() WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke all sessions for user: %w", err)
	}
	return nil
}

// DeleteExpired garbage-collects sessions that expired or were revoked before the cutoff
func (r *sessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at < $1 OR revoked_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
