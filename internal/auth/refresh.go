package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	refreshRandomBytes = 64
	refreshRandomHex   = refreshRandomBytes * 2
	refreshSigHex      = sha256.Size * 2
)

// RefreshTokens mints and parses opaque refresh tokens of the form <random hex>.<hmac hex>
type RefreshTokens struct {
	secret []byte
}

// NewRefreshTokens creates a refresh token codec keyed by secret
func NewRefreshTokens(secret string) *RefreshTokens {
	return &RefreshTokens{secret: []byte(secret)}
}

// Generate returns the wire token and its random part
func (r *RefreshTokens) Generate() (token, random string, err error) {
	b := make([]byte, refreshRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	random = hex.EncodeToString(b)
	return random + "." + hex.EncodeToString(r.sign(random)), random, nil
}

// Parse checks the token shape and signature and returns the random part
func (r *RefreshTokens) Parse(token string) (string, error) {
	random, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || len(random) != refreshRandomHex || len(sig) != refreshSigHex {
		return "", ErrInvalidToken
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !hmac.Equal(provided, r.sign(random)) {
		return "", ErrInvalidToken
	}
	return random, nil
}

func (r *RefreshTokens) sign(random string) []byte {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(random))
	return mac.Sum(nil)
}

// HashRefreshToken returns SHA256 hex of the token's random part; only this is stored
func HashRefreshToken(random string) string {
	hash := sha256.Sum256([]byte(random))
	return hex.EncodeToString(hash[:])
}
