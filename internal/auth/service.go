package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/annavaram/storefront/internal/mailer"
	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/google/uuid"
)

const (
	minPasswordLength = 8
	decoyPassword     = "storefront-login-decoy"
)

// AccountStore is the user persistence the auth service needs
type AccountStore interface {
	OTPStore
	UserLookup
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Service orchestrates signup, login, email verification, password reset and session lifecycle
type Service struct {
	users    AccountStore
	otp      *OTPManager
	sessions *SessionManager
	creds    Credentials
	decoy    string
	mail     mailer.Mailer
	otpTTL   time.Duration
	devMode  bool
	now      func() time.Time
}

// ServiceOptions carries the optional knobs of Service
type ServiceOptions struct {
	OTPTTL  time.Duration
	DevMode bool
}

// NewService creates an auth service
func NewService(users AccountStore, otp *OTPManager, sessions *SessionManager, creds Credentials, m mailer.Mailer, opts ServiceOptions) *Service {
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = defaultOTPTTL
	}
	// unknown emails are checked against this hash so they cost as much as a wrong password
	decoy, err := creds.Hash(decoyPassword)
	if err != nil {
		log.Printf("auth: failed to hash login decoy: %v", err)
	}
	return &Service{
		users:    users,
		otp:      otp,
		sessions: sessions,
		creds:    creds,
		decoy:    decoy,
		mail:     m,
		otpTTL:   opts.OTPTTL,
		devMode:  opts.DevMode,
		now:      time.Now,
	}
}

// SignupInput is the data needed to open an account
type SignupInput struct {
	FullName string
	Email    string
	Password string
	Phone    string
}

// CodeDelivery reports an OTP send. DevCode is only set in dev mode.
type CodeDelivery struct {
	User      model.User
	ExpiresAt time.Time
	DevCode   string
}

// Signup creates an unverified account and mails an email-verification code
func (s *Service) Signup(ctx context.Context, in SignupInput) (*CodeDelivery, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, ErrInvalidInput.WithMessage("full name is required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := s.creds.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	user := model.User{
		FullName:     name,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleCustomer,
		IsActive:     true,
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		user.Phone = &phone
	}
	if err := s.users.Create(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.sendCode(ctx, &user, model.EmailVerification)
}

// ResendVerification issues a fresh email-verification code
func (s *Service) ResendVerification(ctx context.Context, email string) (*CodeDelivery, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if user.EmailVerified {
		return nil, ErrAlreadyVerified
	}
	return s.sendCode(ctx, &user, model.EmailVerification)
}

// VerifyEmail confirms the address and signs the user in
func (s *Service) VerifyEmail(ctx context.Context, email, code string, meta ClientMeta) (*SessionBundle, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if user.EmailVerified {
		return nil, ErrAlreadyVerified
	}
	if err := s.otp.Verify(ctx, &user, model.EmailVerification, strings.TrimSpace(code)); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("mark email verified: %w", err)
	}
	user.EmailVerified = true
	user.EmailVerifiedAt = &now

	return s.sessions.CreateSession(ctx, user, meta)
}

// Login checks credentials and opens a session. Unknown email and wrong
// password produce the same error.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (*SessionBundle, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, ErrInvalidEmail) {
			s.creds.Verify(password, s.decoy)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.creds.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		log.Printf("auth: failed to record login for user %s: %v", user.ID, err)
	}
	user.LastLoginAt = &now

	return s.sessions.CreateSession(ctx, user, meta)
}

// Refresh rotates the session behind a refresh token
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*SessionBundle, error) {
	return s.sessions.RotateSession(ctx, refreshToken, meta)
}

// Logout revokes the current session, identified by session id when the caller
// is authenticated and by refresh token otherwise
func (s *Service) Logout(ctx context.Context, sessionID uuid.UUID, refreshToken string) error {
	if sessionID != uuid.Nil {
		return s.sessions.RevokeSession(ctx, sessionID)
	}
	if refreshToken == "" {
		return ErrInvalidToken
	}
	return s.sessions.RevokeByRefreshToken(ctx, refreshToken)
}

// LogoutAll revokes every session of the user
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeAllForUser(ctx, userID)
}

// RequestPasswordReset mails a reset code. Unknown and unverified addresses get
// the same outcome as real ones.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*CodeDelivery, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, ErrInvalidEmail) {
			log.Printf("auth: password reset requested for unknown address %s", mailer.MaskEmail(email))
			return &CodeDelivery{}, nil
		}
		return nil, err
	}
	if !user.EmailVerified || !user.IsActive {
		log.Printf("auth: password reset skipped for user %s (verified=%t active=%t)", user.ID, user.EmailVerified, user.IsActive)
		return &CodeDelivery{}, nil
	}
	return s.sendCode(ctx, &user, model.PasswordReset)
}

// ResetPassword sets a new password, revokes every session and signs the user in again
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string, meta ClientMeta) (*SessionBundle, error) {
	if len(newPassword) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, ErrInvalidEmail) {
			return nil, ErrOTPNotRequested
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if err := s.otp.Verify(ctx, &user, model.PasswordReset, strings.TrimSpace(code)); err != nil {
		return nil, err
	}

	hash, err := s.creds.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}
	user.PasswordHash = hash

	if err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return s.sessions.CreateSession(ctx, user, meta)
}

// Authenticate resolves an access token to its user and live session
func (s *Service) Authenticate(ctx context.Context, accessToken string) (model.User, *AccessClaims, error) {
	claims, err := s.sessions.VerifyAccessToken(accessToken)
	if err != nil {
		return model.User{}, nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return model.User{}, nil, ErrAccessToken
	}
	if _, err := s.sessions.ValidateSession(ctx, claims.SessionID, userID); err != nil {
		return model.User{}, nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, nil, ErrUserUnavailable
		}
		return model.User{}, nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return model.User{}, nil, ErrAccountDisabled
	}
	return user, claims, nil
}

// sendCode issues an OTP for the bucket and mails it. Delivery failures are
// logged only: the code is already recorded and can be resent.
func (s *Service) sendCode(ctx context.Context, user *model.User, bucket model.OTPBucket) (*CodeDelivery, error) {
	issued, err := s.otp.Issue(ctx, user, bucket)
	if err != nil {
		return nil, err
	}

	var msg mailer.Message
	switch bucket {
	case model.PasswordReset:
		msg = mailer.PasswordResetEmail(user.Email, user.FullName, issued.Code, s.otpTTL)
	default:
		msg = mailer.VerificationEmail(user.Email, user.FullName, issued.Code, s.otpTTL)
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		log.Printf("auth: failed to send %s code to %s: %v", bucket, mailer.MaskEmail(user.Email), err)
	}

	out := &CodeDelivery{User: *user, ExpiresAt: issued.ExpiresAt}
	if s.devMode {
		out.DevCode = issued.Code
	}
	return out, nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (model.User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return model.User{}, err
	}
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		return model.User{}, fmt.Errorf("load user by email: %w", err)
	}
	return user, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
