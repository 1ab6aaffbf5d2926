package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeta = ClientMeta{UserAgent: "go-test", IP: "127.0.0.1"}

func TestSession_CreateStoresOnlyHash(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("create@example.com")

	bundle, err := h.manager.CreateSession(ctx, user, testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.AccessToken)
	assert.Equal(t, h.clock.Now().Add(7*24*time.Hour), bundle.RefreshTokenExpiresAt)

	stored, err := h.sessions.GetByID(ctx, bundle.Session.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.RefreshTokenHash, bundle.RefreshToken)
	assert.Len(t, stored.RefreshTokenHash, 64)
	assert.Equal(t, "go-test", stored.UserAgent)

	claims, err := h.manager.VerifyAccessToken(bundle.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, bundle.Session.ID, claims.SessionID)
}

func TestSession_RotateIsSingleUse(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("rotate@example.com")

	first, err := h.manager.CreateSession(ctx, user, testMeta)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	second, err := h.manager.RotateSession(ctx, first.RefreshToken, ClientMeta{UserAgent: "new-agent", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, second.Session.ID, "rotation keeps the session row")
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "new-agent", second.Session.UserAgent)
	assert.True(t, second.RefreshTokenExpiresAt.After(first.RefreshTokenExpiresAt), "expiry slides")

	_, err = h.manager.RotateSession(ctx, first.RefreshToken, testMeta)
	assert.ErrorIs(t, err, ErrInvalidToken, "replayed token")

	_, err = h.manager.RotateSession(ctx, second.RefreshToken, testMeta)
	assert.NoError(t, err)
}

func TestSession_ConcurrentRotationHasOneWinner(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("race@example.com")

	bundle, err := h.manager.CreateSession(ctx, user, testMeta)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.manager.RotateSession(ctx, bundle.RefreshToken, testMeta); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSession_RotateRejectsRevokedExpiredAndInactive(t *testing.T) {
	ctx := context.Background()

	t.Run("revoked", func(t *testing.T) {
		h := newHarness()
		user := h.seedUser("revoked@example.com")
		b, err := h.manager.CreateSession(ctx, user, testMeta)
		require.NoError(t, err)
		require.NoError(t, h.manager.RevokeSession(ctx, b.Session.ID))
		_, err = h.manager.RotateSession(ctx, b.RefreshToken, testMeta)
		assert.ErrorIs(t, err, ErrSessionRevoked)
	})

	t.Run("expired", func(t *testing.T) {
		h := newHarness()
		user := h.seedUser("expired@example.com")
		b, err := h.manager.CreateSession(ctx, user, testMeta)
		require.NoError(t, err)
		h.clock.Advance(7*24*time.Hour + time.Second)
		_, err = h.manager.RotateSession(ctx, b.RefreshToken, testMeta)
		assert.ErrorIs(t, err, ErrSessionExpired)
	})

	t.Run("inactive user", func(t *testing.T) {
		h := newHarness()
		user := h.seedUser("inactive@example.com")
		b, err := h.manager.CreateSession(ctx, user, testMeta)
		require.NoError(t, err)
		h.users.setActive(user.ID, false)
		_, err = h.manager.RotateSession(ctx, b.RefreshToken, testMeta)
		assert.ErrorIs(t, err, ErrUserUnavailable)
	})

	t.Run("malformed", func(t *testing.T) {
		h := newHarness()
		_, err := h.manager.RotateSession(ctx, "garbage", testMeta)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSession_Validate(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("validate@example.com")

	b, err := h.manager.CreateSession(ctx, user, testMeta)
	require.NoError(t, err)

	_, err = h.manager.ValidateSession(ctx, b.Session.ID, user.ID)
	assert.NoError(t, err)

	_, err = h.manager.ValidateSession(ctx, b.Session.ID, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound, "session of another user")

	_, err = h.manager.ValidateSession(ctx, uuid.New(), user.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, h.manager.RevokeSession(ctx, b.Session.ID))
	_, err = h.manager.ValidateSession(ctx, b.Session.ID, user.ID)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestSession_RevokeIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("idem@example.com")

	b, err := h.manager.CreateSession(ctx, user, testMeta)
	require.NoError(t, err)
	require.NoError(t, h.manager.RevokeSession(ctx, b.Session.ID))
	first, _ := h.sessions.GetByID(ctx, b.Session.ID)

	h.clock.Advance(time.Minute)
	require.NoError(t, h.manager.RevokeSession(ctx, b.Session.ID))
	second, _ := h.sessions.GetByID(ctx, b.Session.ID)
	assert.Equal(t, first.RevokedAt, second.RevokedAt, "first revocation time is kept")

	assert.NoError(t, h.manager.RevokeSession(ctx, uuid.New()), "unknown session")
}

func TestSession_RevokeAllForUser(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := h.seedUser("all@example.com")
	other := h.seedUser("other@example.com")

	for i := 0; i < 3; i++ {
		_, err := h.manager.CreateSession(ctx, user, testMeta)
		require.NoError(t, err)
	}
	_, err := h.manager.CreateSession(ctx, other, testMeta)
	require.NoError(t, err)

	require.NoError(t, h.manager.RevokeAllForUser(ctx, user.ID))
	assert.Equal(t, 0, h.sessions.activeFor(user.ID))
	assert.Equal(t, 1, h.sessions.activeFor(other.ID))
}
