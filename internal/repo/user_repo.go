package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/annavaram/storefront/internal/model"
	"github.com/google/uuid"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SaveOTPState(ctx context.Context, id uuid.UUID, bucket model.OTPBucket, state model.OTPState) error
	IncrementOTPAttempts(ctx context.Context, id uuid.UUID, bucket model.OTPBucket) (int, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, full_name, email, password_hash, phone, role, is_active, email_verified,
	email_verified_at, last_login_at, email_verification, password_reset, created_at, updated_at`

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	var role string
	var phone sql.NullString
	var emailOTP, resetOTP []byte
	err := row.Scan(
		&u.ID,
		&u.FullName,
		&u.Email,
		&u.PasswordHash,
		&phone,
		&role,
		&u.IsActive,
		&u.EmailVerified,
		&u.EmailVerifiedAt,
		&u.LastLoginAt,
		&emailOTP,
		&resetOTP,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user: %w", ErrNotFound)
		}
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.Role = model.Role(role)
	if phone.Valid {
		u.Phone = &phone.String
	}
	if err := json.Unmarshal(emailOTP, &u.EmailVerification); err != nil {
		return model.User{}, fmt.Errorf("decode email_verification: %w", err)
	}
	if err := json.Unmarshal(resetOTP, &u.PasswordReset); err != nil {
		return model.User{}, fmt.Errorf("decode password_reset: %w", err)
	}
	return u, nil
}

// Create inserts a user; email is stored lowercased. Returns ErrConflict on duplicate email.
func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	emailOTP, err := json.Marshal(u.EmailVerification)
	if err != nil {
		return fmt.Errorf("encode email_verification: %w", err)
	}
	resetOTP, err := json.Marshal(u.PasswordReset)
	if err != nil {
		return fmt.Errorf("encode password_reset: %w", err)
	}
	if u.Role == "" {
		u.Role = model.RoleCustomer
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO users (full_name, email, password_hash, phone, role, is_active, email_verification, password_reset)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, u.FullName, u.Email, u.PasswordHash, u.Phone, string(u.Role), u.IsActive, string(emailOTP), string(resetOTP),
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail retrieves a user by case-insensitive email
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (r *userRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.execOne(ctx, "mark email verified", `
		UPDATE users SET email_verified = TRUE, email_verified_at = $2, updated_at = now() WHERE id = $1
	`, id, at)
}

func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.execOne(ctx, "update password", `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, passwordHash)
}

func (r *userRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.execOne(ctx, "touch last login", `
		UPDATE users SET last_login_at = $2 WHERE id = $1
	`, id, at)
}

// otpColumn maps a bucket to its column. Only these two literals ever reach SQL.
func otpColumn(bucket model.OTPBucket) (string, error) {
	switch bucket {
	case model.EmailVerification:
		return "email_verification", nil
	case model.PasswordReset:
		return "password_reset", nil
	default:
		return "", fmt.Errorf("unknown otp bucket %d", bucket)
	}
}

// SaveOTPState overwrites one OTP bucket of the user
func (r *userRepo) SaveOTPState(ctx context.Context, id uuid.UUID, bucket model.OTPBucket, state model.OTPState) error {
	col, err := otpColumn(bucket)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode %s: %w", col, err)
	}
	return r.execOne(ctx, "save "+col, `UPDATE users SET `+col+` = $2, updated_at = now() WHERE id = $1`, id, string(payload))
}

// IncrementOTPAttempts bumps the bucket's failed-attempt counter in one statement and returns the new value
func (r *userRepo) IncrementOTPAttempts(ctx context.Context, id uuid.UUID, bucket model.OTPBucket) (int, error) {
	col, err := otpColumn(bucket)
	if err != nil {
		return 0, err
	}
	var attempts int
	err = r.db.QueryRowContext(ctx, `
		UPDATE users
		SET `+col+` = jsonb_set(`+col+`, '{attempts}', to_jsonb(COALESCE((`+col+`->>'attempts')::int, 0) + 1)),
		    updated_at = now()
		WHERE id = $1
		RETURNING (`+col+`->>'attempts')::int
	`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("increment %s attempts: %w", col, ErrNotFound)
		}
		return 0, fmt.Errorf("increment %s attempts: %w", col, err)
	}
	return attempts, nil
}

func (r *userRepo) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
