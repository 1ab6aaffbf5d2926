package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/annavaram/storefront/internal/mailer"
	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/google/uuid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[uuid.UUID]*model.User)}
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = strings.ToLower(u.Email)
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return repo.ErrConflict
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	return *u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			return *u, nil
		}
	}
	return model.User{}, repo.ErrNotFound
}

func (m *memUsers) MarkEmailVerified(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, func(u *model.User) {
		u.EmailVerified = true
		u.EmailVerifiedAt = &at
	})
}

func (m *memUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return m.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (m *memUsers) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, func(u *model.User) { u.LastLoginAt = &at })
}

func (m *memUsers) SaveOTPState(_ context.Context, id uuid.UUID, bucket model.OTPBucket, state model.OTPState) error {
	return m.update(id, func(u *model.User) { *u.OTP(bucket) = state })
}

func (m *memUsers) IncrementOTPAttempts(_ context.Context, id uuid.UUID, bucket model.OTPBucket) (int, error) {
	var attempts int
	err := m.update(id, func(u *model.User) {
		st := u.OTP(bucket)
		st.Attempts++
		attempts = st.Attempts
	})
	return attempts, err
}

func (m *memUsers) update(id uuid.UUID, fn func(u *model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	fn(u)
	return nil
}

func (m *memUsers) setActive(id uuid.UUID, active bool) {
	_ = m.update(id, func(u *model.User) { u.IsActive = active })
}

type memSessions struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[uuid.UUID]*model.Session
}

func newMemSessions(now func() time.Time) *memSessions {
	return &memSessions{now: now, sessions: make(map[uuid.UUID]*model.Session)}
}

func (m *memSessions) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id uuid.UUID) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, repo.ErrNotFound
	}
	return *s, nil
}

func (m *memSessions) GetByTokenHash(_ context.Context, hash string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshTokenHash == hash {
			return *s, nil
		}
	}
	return model.Session{}, repo.ErrNotFound
}

func (m *memSessions) Rotate(_ context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time, ua, ip string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.RefreshTokenHash != oldHash || s.RevokedAt != nil || !s.ExpiresAt.After(m.now()) {
		return model.Session{}, repo.ErrNotFound
	}
	s.RefreshTokenHash = newHash
	s.ExpiresAt = expiresAt
	s.UserAgent = ua
	s.IP = ip
	s.UpdatedAt = m.now()
	return *s, nil
}

func (m *memSessions) Revoke(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	if s.RevokedAt == nil {
		now := m.now()
		s.RevokedAt = &now
	}
	return nil
}

func (m *memSessions) RevokeByTokenHash(ctx context.Context, hash string) error {
	s, err := m.GetByTokenHash(ctx, hash)
	if err != nil {
		return err
	}
	return m.Revoke(ctx, s.ID)
}

func (m *memSessions) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

func (m *memSessions) activeFor(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			n++
		}
	}
	return n
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (r *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func (r *recordingMailer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// cheapCredentials keeps tests fast; bcrypt is covered separately
type cheapCredentials struct{}

func (cheapCredentials) Hash(plain string) (string, error) { return "h:" + plain, nil }
func (cheapCredentials) Verify(plain, digest string) bool  { return digest == "h:"+plain }

type harness struct {
	clock    *fakeClock
	users    *memUsers
	sessions *memSessions
	mail     *recordingMailer
	otp      *OTPManager
	manager  *SessionManager
	service  *Service
}

func newHarness() *harness {
	clock := newFakeClock()
	users := newMemUsers()
	sessions := newMemSessions(clock.Now)
	mail := &recordingMailer{}

	jwtService := NewJWTService("access-secret-for-tests", 15*time.Minute)
	jwtService.now = clock.Now
	otp := NewOTPManager(users, "otp-salt", OTPConfig{})
	otp.now = clock.Now
	manager := NewSessionManager(sessions, users, jwtService, NewRefreshTokens("refresh-secret-for-tests"), 7*24*time.Hour)
	manager.now = clock.Now

	svc := NewService(users, otp, manager, cheapCredentials{}, mail, ServiceOptions{DevMode: true})
	svc.now = clock.Now

	return &harness{
		clock:    clock,
		users:    users,
		sessions: sessions,
		mail:     mail,
		otp:      otp,
		manager:  manager,
		service:  svc,
	}
}

// seedUser stores a verified, active customer
func (h *harness) seedUser(email string) model.User {
	u := model.User{
		FullName:      "Test User",
		Email:         email,
		PasswordHash:  "h:password123",
		Role:          model.RoleCustomer,
		IsActive:      true,
		EmailVerified: true,
	}
	if err := h.users.Create(context.Background(), &u); err != nil {
		panic(err)
	}
	return u
}
