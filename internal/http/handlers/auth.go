package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/annavaram/storefront/internal/auth"
	"github.com/annavaram/storefront/internal/mailer"
	"github.com/annavaram/storefront/internal/middleware"
	"github.com/annavaram/storefront/internal/model"
	"github.com/google/uuid"
)

const (
	refreshCookieName = "refreshToken"
	refreshCookiePath = "/auth"
	refreshHeaderName = "X-Refresh-Token"
	tokenTypeBearer   = "bearer"
)

// AuthService is the account and session behaviour the auth endpoints need
type AuthService interface {
	Signup(ctx context.Context, in auth.SignupInput) (*auth.CodeDelivery, error)
	ResendVerification(ctx context.Context, email string) (*auth.CodeDelivery, error)
	VerifyEmail(ctx context.Context, email, code string, meta auth.ClientMeta) (*auth.SessionBundle, error)
	Login(ctx context.Context, email, password string, meta auth.ClientMeta) (*auth.SessionBundle, error)
	Refresh(ctx context.Context, refreshToken string, meta auth.ClientMeta) (*auth.SessionBundle, error)
	Logout(ctx context.Context, sessionID uuid.UUID, refreshToken string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) error
	RequestPasswordReset(ctx context.Context, email string) (*auth.CodeDelivery, error)
	ResetPassword(ctx context.Context, email, code, newPassword string, meta auth.ClientMeta) (*auth.SessionBundle, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService  AuthService
	cookieSecure bool
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService AuthService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{authService: authService, cookieSecure: cookieSecure}
}

// signupRequest is the request body for POST /auth/signup
type signupRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// emailRequest is the request body for endpoints keyed by email only
type emailRequest struct {
	Email string `json:"email"`
}

// verifyEmailRequest is the request body for POST /auth/verify-email
type verifyEmailRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// resetPasswordRequest is the request body for POST /auth/reset-password
type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

// refreshRequest is the request body for POST /auth/refresh and /auth/logout
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// codeResponse answers endpoints that mail a one-time code
type codeResponse struct {
	Message string        `json:"message"`
	User    *userResponse `json:"user,omitempty"`
	DevOTP  string        `json:"dev_otp,omitempty"`
}

// authResponse is returned whenever a session is opened or rotated
type authResponse struct {
	AccessToken           string          `json:"access_token"`
	AccessTokenExpiresAt  time.Time       `json:"access_token_expires_at"`
	RefreshToken          string          `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time       `json:"refresh_token_expires_at"`
	TokenType             string          `json:"token_type"`
	Session               sessionResponse `json:"session"`
	User                  userResponse    `json:"user"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID            string     `json:"id"`
	FullName      string     `json:"full_name"`
	Email         string     `json:"email"`
	Phone         *string    `json:"phone,omitempty"`
	Role          model.Role `json:"role"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newUserResponse(u model.User) userResponse {
	return userResponse{
		ID:            u.ID.String(),
		FullName:      u.FullName,
		Email:         u.Email,
		Phone:         u.Phone,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// HandleSignup handles POST /auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	delivery, err := h.authService.Signup(r.Context(), auth.SignupInput{
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
	})
	if err != nil {
		logMaskedEmail(req.Email, "Signup failed: %v", err)
		respondErr(w, r, err)
		return
	}

	user := newUserResponse(delivery.User)
	respondJSON(w, http.StatusCreated, codeResponse{
		Message: "signup successful, verify your email with the code sent to your inbox",
		User:    &user,
		DevOTP:  delivery.DevCode,
	})
}

// HandleResendOTP handles POST /auth/resend-otp
func (h *AuthHandler) HandleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}

	delivery, err := h.authService.ResendVerification(r.Context(), req.Email)
	if err != nil {
		logMaskedEmail(req.Email, "Resend OTP failed: %v", err)
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, codeResponse{Message: "otp_sent", DevOTP: delivery.DevCode})
}

// HandleVerifyEmail handles POST /auth/verify-email
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		respondWithError(w, http.StatusBadRequest, "email and otp are required")
		return
	}

	bundle, err := h.authService.VerifyEmail(r.Context(), req.Email, req.OTP, clientMeta(r))
	if err != nil {
		logMaskedEmail(req.Email, "Email verification failed: %v", err)
		respondErr(w, r, err)
		return
	}
	h.respondSession(w, bundle)
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	bundle, err := h.authService.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		logMaskedEmail(req.Email, "Login failed: %v", err)
		respondErr(w, r, err)
		return
	}
	h.respondSession(w, bundle)
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	if token == "" {
		respondWithError(w, http.StatusUnauthorized, "refresh token required")
		return
	}

	bundle, err := h.authService.Refresh(r.Context(), token, clientMeta(r))
	if err != nil {
		h.clearRefreshCookie(w)
		respondErr(w, r, err)
		return
	}
	h.respondSession(w, bundle)
}

// HandleLogout handles POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	h.clearRefreshCookie(w)

	sessionID, _ := middleware.GetSessionID(r.Context())
	if sessionID == uuid.Nil && token == "" {
		respondWithError(w, http.StatusUnauthorized, "refresh token required")
		return
	}
	if err := h.authService.Logout(r.Context(), sessionID, token); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleLogoutAll handles POST /auth/logout-all (protected)
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.clearRefreshCookie(w)
	if err := h.authService.LogoutAll(r.Context(), userID); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "all sessions revoked"})
}

// HandleForgotPassword handles POST /auth/forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}

	delivery, err := h.authService.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		logMaskedEmail(req.Email, "Password reset request failed: %v", err)
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, codeResponse{
		Message: "if the account exists, a password reset code has been sent",
		DevOTP:  delivery.DevCode,
	})
}

// HandleResetPassword handles POST /auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" || req.NewPassword == "" {
		respondWithError(w, http.StatusBadRequest, "email, otp and new_password are required")
		return
	}

	bundle, err := h.authService.ResetPassword(r.Context(), req.Email, req.OTP, req.NewPassword, clientMeta(r))
	if err != nil {
		logMaskedEmail(req.Email, "Password reset failed: %v", err)
		respondErr(w, r, err)
		return
	}
	h.respondSession(w, bundle)
}

// HandleMe handles GET /auth/me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, newUserResponse(*user))
}

func (h *AuthHandler) respondSession(w http.ResponseWriter, b *auth.SessionBundle) {
	h.setRefreshCookie(w, b.RefreshToken, b.RefreshTokenExpiresAt)
	respondJSON(w, http.StatusOK, authResponse{
		AccessToken:           b.AccessToken,
		AccessTokenExpiresAt:  b.AccessTokenExpiresAt,
		RefreshToken:          b.RefreshToken,
		RefreshTokenExpiresAt: b.RefreshTokenExpiresAt,
		TokenType:             tokenTypeBearer,
		Session: sessionResponse{
			ID:        b.Session.ID.String(),
			ExpiresAt: b.Session.ExpiresAt,
			CreatedAt: b.Session.CreatedAt,
		},
		User: newUserResponse(b.User),
	})
}

// refreshToken reads the token from the JSON body, the cookie or the header, in that order
func (h *AuthHandler) refreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if r.ContentLength != 0 && r.Body != nil {
		if !decodeJSON(w, r, &req) {
			return "", false
		}
	}
	if token := strings.TrimSpace(req.RefreshToken); token != "" {
		return token, true
	}
	if c, err := r.Cookie(refreshCookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), true
	}
	return strings.TrimSpace(r.Header.Get(refreshHeaderName)), true
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, h.refreshCookie(token, expiresAt))
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	c := h.refreshCookie("", time.Unix(0, 0))
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (h *AuthHandler) refreshCookie(value string, expires time.Time) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if h.cookieSecure {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     refreshCookiePath,
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: sameSite,
	}
}

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{UserAgent: r.UserAgent(), IP: middleware.ClientIP(r)}
}

// logMaskedEmail logs a message prefixed with a masked email address
func logMaskedEmail(email, format string, args ...interface{}) {
	log.Printf("Email "+mailer.MaskEmail(strings.TrimSpace(email))+": "+format, args...)
}
