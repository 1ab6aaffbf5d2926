package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/annavaram/storefront/internal/model"
	"github.com/google/uuid"
)

const (
	defaultOTPLength      = 6
	defaultOTPTTL         = 10 * time.Minute
	defaultOTPMaxAttempts = 5
	defaultOTPMaxPerDay   = 3
	otpSendWindow         = 24 * time.Hour
)

// OTPStore persists a user's OTP buckets
type OTPStore interface {
	SaveOTPState(ctx context.Context, id uuid.UUID, bucket model.OTPBucket, state model.OTPState) error
	IncrementOTPAttempts(ctx context.Context, id uuid.UUID, bucket model.OTPBucket) (int, error)
}

// OTPConfig tunes code length and limits; zero values fall back to defaults
type OTPConfig struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
	MaxPerDay   int
}

func (c OTPConfig) withDefaults() OTPConfig {
	if c.Length <= 0 {
		c.Length = defaultOTPLength
	}
	if c.TTL <= 0 {
		c.TTL = defaultOTPTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultOTPMaxAttempts
	}
	if c.MaxPerDay <= 0 {
		c.MaxPerDay = defaultOTPMaxPerDay
	}
	return c
}

// IssuedOTP is the plaintext code handed to the mailer. It is never stored.
type IssuedOTP struct {
	Code      string
	ExpiresAt time.Time
}

// OTPManager issues and verifies per-purpose one-time codes
type OTPManager struct {
	store OTPStore
	salt  string
	cfg   OTPConfig
	now   func() time.Time
}

// NewOTPManager creates an OTP manager
func NewOTPManager(store OTPStore, salt string, cfg OTPConfig) *OTPManager {
	return &OTPManager{
		store: store,
		salt:  salt,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// Issue generates a new code for the bucket, replacing any previous one.
// At most MaxPerDay codes are issued per bucket in any trailing 24h.
func (m *OTPManager) Issue(ctx context.Context, user *model.User, bucket model.OTPBucket) (IssuedOTP, error) {
	state := user.OTP(bucket)
	if state == nil {
		return IssuedOTP{}, fmt.Errorf("unknown otp bucket %d", bucket)
	}

	now := m.now()
	history := pruneHistory(state.History, now)
	state.History = history
	if len(history) >= m.cfg.MaxPerDay {
		return IssuedOTP{}, ErrOTPRateLimited
	}

	code, err := generateOTPCode(m.cfg.Length)
	if err != nil {
		return IssuedOTP{}, err
	}
	hash := hashOTPHex(otpSubject(user.ID, bucket), code, m.salt)
	expiresAt := now.Add(m.cfg.TTL)

	next := model.OTPState{
		CodeHash:  &hash,
		ExpiresAt: &expiresAt,
		Attempts:  0,
		History:   append(history, now),
	}
	if err := m.store.SaveOTPState(ctx, user.ID, bucket, next); err != nil {
		return IssuedOTP{}, fmt.Errorf("save %s code: %w", bucket, err)
	}
	*state = next

	return IssuedOTP{Code: code, ExpiresAt: expiresAt}, nil
}

// Verify checks candidate against the bucket's active code. A wrong code
// consumes an attempt even though verification fails.
func (m *OTPManager) Verify(ctx context.Context, user *model.User, bucket model.OTPBucket, candidate string) error {
	state := user.OTP(bucket)
	if state == nil {
		return fmt.Errorf("unknown otp bucket %d", bucket)
	}
	if state.CodeHash == nil || *state.CodeHash == "" {
		return ErrOTPNotRequested
	}
	if state.Attempts >= m.cfg.MaxAttempts {
		return ErrOTPAttemptsExceeded
	}
	now := m.now()
	if state.ExpiresAt == nil || now.After(*state.ExpiresAt) {
		return ErrOTPExpired
	}

	provided := hashOTPHex(otpSubject(user.ID, bucket), candidate, m.salt)
	if !equalHex(provided, *state.CodeHash) {
		attempts, err := m.store.IncrementOTPAttempts(ctx, user.ID, bucket)
		if err != nil {
			return fmt.Errorf("record %s attempt: %w", bucket, err)
		}
		state.Attempts = attempts
		return ErrOTPInvalid
	}

	next := model.OTPState{History: pruneHistory(state.History, now)}
	if err := m.store.SaveOTPState(ctx, user.ID, bucket, next); err != nil {
		return fmt.Errorf("clear %s code: %w", bucket, err)
	}
	*state = next
	return nil
}

// pruneHistory drops sends older than the rolling window
func pruneHistory(history []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-otpSendWindow)
	kept := make([]time.Time, 0, len(history)+1)
	for _, t := range history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// generateOTPCode returns a uniformly random zero-padded numeric code
func generateOTPCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

func otpSubject(userID uuid.UUID, bucket model.OTPBucket) string {
	return userID.String() + ":" + bucket.String()
}

// hashOTPHex returns SHA-256(subject:code:salt) as hex for storage
func hashOTPHex(subject, code, salt string) string {
	data := fmt.Sprintf("%s:%s:%s", subject, code, salt)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func equalHex(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
