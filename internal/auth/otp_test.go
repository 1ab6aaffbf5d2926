package auth

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/annavaram/storefront/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashOTPHex_consistency(t *testing.T) {
	subject, code, salt := "user-1:email_verification", "123456", "test-salt"
	h1 := hashOTPHex(subject, code, salt)
	h2 := hashOTPHex(subject, code, salt)
	if h1 != h2 {
		t.Errorf("hash should be deterministic: %q != %q", h1, h2)
	}
	decoded, err := hex.DecodeString(h1)
	if err != nil {
		t.Fatalf("hash should be valid hex: %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("SHA-256 hash should be 32 bytes, got %d", len(decoded))
	}
}

func TestHashOTPHex_differentInputsDifferentHash(t *testing.T) {
	salt := "salt"
	h1 := hashOTPHex("user-1:email_verification", "123456", salt)
	h2 := hashOTPHex("user-1:password_reset", "123456", salt)
	h3 := hashOTPHex("user-1:email_verification", "654321", salt)
	if h1 == h2 || h1 == h3 || h2 == h3 {
		t.Error("different inputs should produce different hashes")
	}
}

func TestEqualHex(t *testing.T) {
	if !equalHex("abcd", "abcd") {
		t.Error("identical strings should compare equal")
	}
	if equalHex("abcd", "abce") {
		t.Error("different strings should not compare equal")
	}
	if equalHex("a", "ab") {
		t.Error("different length strings should not compare equal")
	}
}

func TestGenerateOTPCode_lengthAndDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateOTPCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "non-digit in %q", code)
		}
	}
}

func TestOTP_IssueAndVerify(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("otp@example.com")

	issued, err := h.otp.Issue(ctx, &user, model.EmailVerification)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(defaultOTPTTL), issued.ExpiresAt)

	stored, err := h.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EmailVerification.CodeHash)
	assert.NotEqual(t, issued.Code, *stored.EmailVerification.CodeHash, "plaintext code must not be stored")
	assert.Nil(t, stored.PasswordReset.CodeHash, "other bucket untouched")

	require.NoError(t, h.otp.Verify(ctx, &stored, model.EmailVerification, issued.Code))

	cleared, err := h.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.EmailVerification.CodeHash)
	assert.Equal(t, 0, cleared.EmailVerification.Attempts)
	assert.Len(t, cleared.EmailVerification.History, 1, "send history survives verification")

	err = h.otp.Verify(ctx, &cleared, model.EmailVerification, issued.Code)
	assert.ErrorIs(t, err, ErrOTPNotRequested, "a code works once")
}

func TestOTP_BucketsAreIndependent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("buckets@example.com")

	verify, err := h.otp.Issue(ctx, &user, model.EmailVerification)
	require.NoError(t, err)
	reset, err := h.otp.Issue(ctx, &user, model.PasswordReset)
	require.NoError(t, err)

	if verify.Code != reset.Code {
		assert.ErrorIs(t, h.otp.Verify(ctx, &user, model.PasswordReset, verify.Code), ErrOTPInvalid)
	}
	assert.NoError(t, h.otp.Verify(ctx, &user, model.PasswordReset, reset.Code))
	assert.NoError(t, h.otp.Verify(ctx, &user, model.EmailVerification, verify.Code))
}

func TestOTP_WrongCodeConsumesAttempts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("attempts@example.com")

	issued, err := h.otp.Issue(ctx, &user, model.EmailVerification)
	require.NoError(t, err)
	wrong := "000000"
	if issued.Code == wrong {
		wrong = "111111"
	}

	for i := 1; i <= defaultOTPMaxAttempts; i++ {
		err := h.otp.Verify(ctx, &user, model.EmailVerification, wrong)
		require.ErrorIs(t, err, ErrOTPInvalid)
		assert.Equal(t, i, user.EmailVerification.Attempts)
	}

	err = h.otp.Verify(ctx, &user, model.EmailVerification, issued.Code)
	assert.ErrorIs(t, err, ErrOTPAttemptsExceeded, "correct code is refused once attempts are spent")
}

func TestOTP_Expired(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("expired@example.com")

	issued, err := h.otp.Issue(ctx, &user, model.PasswordReset)
	require.NoError(t, err)
	h.clock.Advance(defaultOTPTTL + time.Second)

	assert.ErrorIs(t, h.otp.Verify(ctx, &user, model.PasswordReset, issued.Code), ErrOTPExpired)
}

func TestOTP_DailyLimitRollingWindow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("limit@example.com")

	for i := 0; i < defaultOTPMaxPerDay; i++ {
		_, err := h.otp.Issue(ctx, &user, model.EmailVerification)
		require.NoError(t, err)
		h.clock.Advance(time.Hour)
	}
	_, err := h.otp.Issue(ctx, &user, model.EmailVerification)
	assert.ErrorIs(t, err, ErrOTPRateLimited)

	_, err = h.otp.Issue(ctx, &user, model.PasswordReset)
	assert.NoError(t, err, "limit is per bucket")

	// the first send leaves the 24h window
	h.clock.Advance(22*time.Hour + time.Minute)
	_, err = h.otp.Issue(ctx, &user, model.EmailVerification)
	assert.NoError(t, err)
}

func TestOTP_ReissueResetsAttempts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("reissue@example.com")

	_, err := h.otp.Issue(ctx, &user, model.EmailVerification)
	require.NoError(t, err)
	_ = h.otp.Verify(ctx, &user, model.EmailVerification, "not-it")
	require.Equal(t, 1, user.EmailVerification.Attempts)

	second, err := h.otp.Issue(ctx, &user, model.EmailVerification)
	require.NoError(t, err)
	assert.Equal(t, 0, user.EmailVerification.Attempts)
	assert.NoError(t, h.otp.Verify(ctx, &user, model.EmailVerification, second.Code))
}
