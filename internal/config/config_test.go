package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"15m", 15 * time.Minute},
		{"7d", 7 * 24 * time.Hour},
		{" 10s ", 10 * time.Second},
		{"1h30m", 90 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "d", "-1d", "0d", "abc", "-5m"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func setRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://shop:pw@localhost:5432/shop?sslmode=disable")
	t.Setenv("JWT_ACCESS_SECRET", "access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret")
	t.Setenv("OTP_SALT", "salt")
}

func TestLoad_defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 5, cfg.OTPMaxAttempts)
	assert.Equal(t, 3, cfg.OTPMaxPerDay)
	assert.Equal(t, "INR", cfg.Currency)
	assert.False(t, cfg.GatewayConfigured())
	assert.False(t, cfg.SMTP.Configured())
}

func TestLoad_gatewayConfiguredNeedsBothKeys(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.GatewayConfigured())

	t.Setenv("RAZORPAY_SECRET", "rzp_secret")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.GatewayConfigured())
}

func TestLoad_requiredAndDistinctSecrets(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OTP_SALT", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTP_SALT")

	setRequiredEnv(t)
	t.Setenv("JWT_REFRESH_SECRET", "access-secret")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}
