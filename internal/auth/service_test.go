package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/annavaram/storefront/internal/apperr"
	"github.com/annavaram/storefront/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signup(t *testing.T, h *harness, email string) *CodeDelivery {
	t.Helper()
	out, err := h.service.Signup(context.Background(), SignupInput{
		FullName: "Asha Rao",
		Email:    email,
		Password: "password123",
	})
	require.NoError(t, err)
	return out
}

func TestService_SignupVerifyLogin(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	out := signup(t, h, "  Asha@Example.com ")
	assert.Equal(t, "asha@example.com", out.User.Email)
	assert.False(t, out.User.EmailVerified)
	assert.Len(t, out.DevCode, 6)
	require.Equal(t, 1, h.mail.count())
	assert.Contains(t, h.mail.sent[0].Text, out.DevCode)

	_, err := h.service.Login(ctx, "asha@example.com", "password123", testMeta)
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	bundle, err := h.service.VerifyEmail(ctx, "asha@example.com", out.DevCode, testMeta)
	require.NoError(t, err)
	assert.True(t, bundle.User.EmailVerified)
	assert.NotEmpty(t, bundle.RefreshToken)

	_, err = h.service.VerifyEmail(ctx, "asha@example.com", out.DevCode, testMeta)
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	login, err := h.service.Login(ctx, "ASHA@example.com", "password123", testMeta)
	require.NoError(t, err)
	assert.NotNil(t, login.User.LastLoginAt)
}

func TestService_SignupValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.service.Signup(ctx, SignupInput{FullName: "A", Email: "nope", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = h.service.Signup(ctx, SignupInput{FullName: "A", Email: "a@b.co", Password: "short"})
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = h.service.Signup(ctx, SignupInput{FullName: " ", Email: "a@b.co", Password: "password123"})
	assertKind(t, apperr.Validation, err)

	signup(t, h, "dup@example.com")
	_, err = h.service.Signup(ctx, SignupInput{FullName: "B", Email: "DUP@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assertKind(t, apperr.Conflict, err)
}

func TestService_SignupSurvivesMailFailure(t *testing.T) {
	h := newHarness()
	h.mail.err = errors.New("smtp down")
	out := signup(t, h, "mailfail@example.com")
	assert.NotEmpty(t, out.DevCode)
}

func TestService_LoginFailuresLookAlike(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.seedUser("known@example.com")

	_, errUnknown := h.service.Login(ctx, "unknown@example.com", "password123", testMeta)
	_, errWrong := h.service.Login(ctx, "known@example.com", "wrong-password", testMeta)
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

// countingCredentials records which digests Verify was asked to check
type countingCredentials struct {
	cheapCredentials
	digests []string
}

func (c *countingCredentials) Verify(plain, digest string) bool {
	c.digests = append(c.digests, digest)
	return c.cheapCredentials.Verify(plain, digest)
}

func TestService_LoginUnknownEmailStillChecksAPassword(t *testing.T) {
	h := newHarness()
	creds := &countingCredentials{}
	svc := NewService(h.users, h.otp, h.manager, creds, h.mail, ServiceOptions{})
	svc.now = h.clock.Now
	ctx := context.Background()

	_, err := svc.Login(ctx, "nobody@example.com", "password123", testMeta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	require.Len(t, creds.digests, 1)
	assert.Equal(t, "h:"+decoyPassword, creds.digests[0])

	_, err = svc.Login(ctx, "nobody@example.com", decoyPassword, testMeta)
	assert.ErrorIs(t, err, ErrInvalidCredentials, "matching the decoy never logs anyone in")
	assert.Len(t, creds.digests, 2)
}

func TestService_LoginDisabledAccount(t *testing.T) {
	h := newHarness()
	user := h.seedUser("disabled@example.com")
	h.users.setActive(user.ID, false)

	_, err := h.service.Login(context.Background(), "disabled@example.com", "password123", testMeta)
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestService_ResendVerification(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	first := signup(t, h, "resend@example.com")

	second, err := h.service.ResendVerification(ctx, "resend@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, h.mail.count())

	if first.DevCode != second.DevCode {
		_, err = h.service.VerifyEmail(ctx, "resend@example.com", first.DevCode, testMeta)
		assert.ErrorIs(t, err, ErrOTPInvalid, "only the latest code is valid")
	}
	_, err = h.service.VerifyEmail(ctx, "resend@example.com", second.DevCode, testMeta)
	require.NoError(t, err)

	_, err = h.service.ResendVerification(ctx, "resend@example.com")
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	_, err = h.service.ResendVerification(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// signup consumed one send, the two resends reach the daily limit
	h2 := newHarness()
	signup(t, h2, "limit@example.com")
	_, err = h2.service.ResendVerification(ctx, "limit@example.com")
	require.NoError(t, err)
	_, err = h2.service.ResendVerification(ctx, "limit@example.com")
	require.NoError(t, err)
	_, err = h2.service.ResendVerification(ctx, "limit@example.com")
	assert.ErrorIs(t, err, ErrOTPRateLimited)
}

func TestService_PasswordResetFlow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("reset@example.com")

	old, err := h.service.Login(ctx, "reset@example.com", "password123", testMeta)
	require.NoError(t, err)

	out, err := h.service.RequestPasswordReset(ctx, "reset@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, out.DevCode)

	_, err = h.service.ResetPassword(ctx, "reset@example.com", out.DevCode, "short", testMeta)
	assert.ErrorIs(t, err, ErrWeakPassword)

	bundle, err := h.service.ResetPassword(ctx, "reset@example.com", out.DevCode, "new-password-1", testMeta)
	require.NoError(t, err)
	assert.Equal(t, user.ID, bundle.User.ID)

	_, err = h.service.Refresh(ctx, old.RefreshToken, testMeta)
	assert.ErrorIs(t, err, ErrSessionRevoked, "sessions from before the reset are revoked")
	assert.Equal(t, 1, h.sessions.activeFor(user.ID))

	_, err = h.service.Login(ctx, "reset@example.com", "password123", testMeta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.service.Login(ctx, "reset@example.com", "new-password-1", testMeta)
	assert.NoError(t, err)
}

func TestService_RequestPasswordResetIsGeneric(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	out, err := h.service.RequestPasswordReset(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, out.DevCode)

	signup(t, h, "unverified@example.com")
	sentBefore := h.mail.count()
	out, err = h.service.RequestPasswordReset(ctx, "unverified@example.com")
	require.NoError(t, err)
	assert.Empty(t, out.DevCode)
	assert.Equal(t, sentBefore, h.mail.count(), "no mail for unverified accounts")
}

func TestService_ResetPasswordWithoutRequest(t *testing.T) {
	h := newHarness()
	h.seedUser("noreq@example.com")

	_, err := h.service.ResetPassword(context.Background(), "noreq@example.com", "123456", "new-password-1", testMeta)
	assert.ErrorIs(t, err, ErrOTPNotRequested)
}

func TestService_AuthenticateAndLogout(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("authn@example.com")

	bundle, err := h.service.Login(ctx, "authn@example.com", "password123", testMeta)
	require.NoError(t, err)

	got, claims, err := h.service.Authenticate(ctx, bundle.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, model.RoleCustomer, claims.Role)

	require.NoError(t, h.service.Logout(ctx, claims.SessionID, ""))
	_, _, err = h.service.Authenticate(ctx, bundle.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked, "access token dies with its session")

	second, err := h.service.Login(ctx, "authn@example.com", "password123", testMeta)
	require.NoError(t, err)
	require.NoError(t, h.service.Logout(ctx, uuid.Nil, second.RefreshToken))
	_, err = h.service.Refresh(ctx, second.RefreshToken, testMeta)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	assert.ErrorIs(t, h.service.Logout(ctx, uuid.Nil, ""), ErrInvalidToken)
}

func TestService_LogoutAll(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("logoutall@example.com")

	a, err := h.service.Login(ctx, "logoutall@example.com", "password123", testMeta)
	require.NoError(t, err)
	_, err = h.service.Login(ctx, "logoutall@example.com", "password123", testMeta)
	require.NoError(t, err)

	require.NoError(t, h.service.LogoutAll(ctx, user.ID))
	_, _, err = h.service.Authenticate(ctx, a.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func assertKind(t *testing.T, want apperr.Kind, err error) {
	t.Helper()
	e, ok := apperr.As(err)
	require.True(t, ok, "unclassified error: %v", err)
	assert.Equal(t, want, e.Kind)
}
