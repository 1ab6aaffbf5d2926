package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/google/uuid"
)

const defaultRefreshTokenTTL = 7 * 24 * time.Hour

// SessionStore is the persistence the session manager needs
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (model.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (model.Session, error)
	Rotate(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time, userAgent, ip string) (model.Session, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

// UserLookup loads account rows
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
}

// ClientMeta describes the client a session was issued to
type ClientMeta struct {
	UserAgent string
	IP        string
}

// SessionBundle is what a client receives when a session is created or rotated
type SessionBundle struct {
	Session               model.Session
	User                  model.User
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// SessionManager issues, validates, rotates and revokes sessions
type SessionManager struct {
	sessions   SessionStore
	users      UserLookup
	jwt        *JWTService
	refresh    *RefreshTokens
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionManager creates a session manager
func NewSessionManager(sessions SessionStore, users UserLookup, jwtService *JWTService, refresh *RefreshTokens, refreshTTL time.Duration) *SessionManager {
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTokenTTL
	}
	return &SessionManager{
		sessions:   sessions,
		users:      users,
		jwt:        jwtService,
		refresh:    refresh,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// CreateSession starts a new session for an authenticated user
func (m *SessionManager) CreateSession(ctx context.Context, user model.User, meta ClientMeta) (*SessionBundle, error) {
	token, random, err := m.refresh.Generate()
	if err != nil {
		return nil, err
	}
	s := model.Session{
		UserID:           user.ID,
		RefreshTokenHash: HashRefreshToken(random),
		ExpiresAt:        m.now().Add(m.refreshTTL),
		UserAgent:        meta.UserAgent,
		IP:               meta.IP,
	}
	if err := m.sessions.Create(ctx, &s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return m.bundle(s, user, token)
}

// RotateSession exchanges a refresh token for a new token pair. Each refresh
// token works once: the stored hash is overwritten, so replays fail with ErrInvalidToken.
func (m *SessionManager) RotateSession(ctx context.Context, refreshToken string, meta ClientMeta) (*SessionBundle, error) {
	random, err := m.refresh.Parse(refreshToken)
	if err != nil {
		return nil, err
	}
	oldHash := HashRefreshToken(random)

	current, err := m.sessions.GetByTokenHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	now := m.now()
	if err := checkUsable(current, now); err != nil {
		return nil, err
	}

	user, err := m.users.GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserUnavailable
		}
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserUnavailable
	}

	token, nextRandom, err := m.refresh.Generate()
	if err != nil {
		return nil, err
	}
	rotated, err := m.sessions.Rotate(ctx, current.ID, oldHash, HashRefreshToken(nextRandom), now.Add(m.refreshTTL), meta.UserAgent, meta.IP)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// another request rotated or revoked it first
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return m.bundle(rotated, user, token)
}

func checkUsable(s model.Session, now time.Time) error {
	if s.RevokedAt != nil {
		return ErrSessionRevoked
	}
	if !s.ExpiresAt.After(now) {
		return ErrSessionExpired
	}
	return nil
}

// ValidateSession confirms the session behind an access token is still usable
func (m *SessionManager) ValidateSession(ctx context.Context, sessionID, userID uuid.UUID) (model.Session, error) {
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Session{}, ErrSessionNotFound
		}
		return model.Session{}, fmt.Errorf("load session: %w", err)
	}
	if s.UserID != userID {
		return model.Session{}, ErrSessionNotFound
	}
	if err := checkUsable(s, m.now()); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// RevokeSession marks one session revoked; unknown or already revoked sessions are a no-op
func (m *SessionManager) RevokeSession(ctx context.Context, id uuid.UUID) error {
	if err := m.sessions.Revoke(ctx, id); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeByRefreshToken revokes the session a refresh token belongs to
func (m *SessionManager) RevokeByRefreshToken(ctx context.Context, refreshToken string) error {
	random, err := m.refresh.Parse(refreshToken)
	if err != nil {
		return err
	}
	if err := m.sessions.RevokeByTokenHash(ctx, HashRefreshToken(random)); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active session of the user
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	if err := m.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// VerifyAccessToken checks an access token's signature and expiry only
func (m *SessionManager) VerifyAccessToken(token string) (*AccessClaims, error) {
	return m.jwt.VerifyAccessToken(token)
}

func (m *SessionManager) bundle(s model.Session, user model.User, refreshToken string) (*SessionBundle, error) {
	access, accessExp, err := m.jwt.SignAccessToken(user.ID, s.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &SessionBundle{
		Session:               s,
		User:                  user,
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: s.ExpiresAt,
	}, nil
}
