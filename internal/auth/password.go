package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Credentials hashes and checks account passwords
type Credentials interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// BcryptCredentials is the bcrypt-backed Credentials implementation
type BcryptCredentials struct {
	cost int
}

// NewBcryptCredentials clamps cost into bcrypt's accepted range
func NewBcryptCredentials(cost int) *BcryptCredentials {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptCredentials{cost: cost}
}

func (c *BcryptCredentials) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func (c *BcryptCredentials) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
