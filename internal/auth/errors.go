package auth

import "github.com/annavaram/storefront/internal/apperr"

// Session errors
var (
	ErrInvalidToken    = apperr.New(apperr.Unauthenticated, "invalid_token", "invalid refresh token")
	ErrSessionRevoked  = apperr.New(apperr.Unauthenticated, "session_revoked", "session has been revoked")
	ErrSessionExpired  = apperr.New(apperr.Unauthenticated, "session_expired", "session has expired")
	ErrSessionNotFound = apperr.New(apperr.Unauthenticated, "session_not_found", "session not found")
	ErrAccessToken     = apperr.New(apperr.Unauthenticated, "invalid_access_token", "invalid or expired access token")
	ErrUserUnavailable = apperr.New(apperr.Unauthenticated, "user_unavailable", "user account unavailable")
)

// OTP errors
var (
	ErrOTPRateLimited      = apperr.New(apperr.RateLimited, "otp_rate_limited", "too many codes requested, try again later")
	ErrOTPNotRequested     = apperr.New(apperr.Validation, "otp_not_requested", "no code has been requested")
	ErrOTPAttemptsExceeded = apperr.New(apperr.RateLimited, "otp_attempts_exceeded", "too many incorrect attempts, request a new code")
	ErrOTPExpired          = apperr.New(apperr.Validation, "otp_expired", "code has expired, request a new one")
	ErrOTPInvalid          = apperr.New(apperr.Validation, "otp_invalid", "invalid code")
)

// Account errors
var (
	ErrInvalidCredentials = apperr.New(apperr.Unauthenticated, "invalid_credentials", "invalid email or password")
	ErrEmailTaken         = apperr.New(apperr.Conflict, "email_taken", "an account with this email already exists")
	ErrEmailNotVerified   = apperr.New(apperr.Forbidden, "email_not_verified", "email address is not verified")
	ErrAccountDisabled    = apperr.New(apperr.Forbidden, "account_disabled", "account is disabled")
	ErrAccountNotFound    = apperr.New(apperr.NotFound, "account_not_found", "account not found")
	ErrAlreadyVerified    = apperr.New(apperr.Validation, "already_verified", "email address is already verified")
	ErrWeakPassword       = apperr.New(apperr.Validation, "weak_password", "password must be at least 8 characters")
	ErrInvalidEmail       = apperr.New(apperr.Validation, "invalid_email", "a valid email address is required")
	ErrInvalidInput       = apperr.New(apperr.Validation, "invalid_input", "invalid request")
)
