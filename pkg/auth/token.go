package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// RefreshTokenAlphabet is the character set of refresh tokens
	RefreshTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// RefreshTokenGroups is the number of dash separated groups
	RefreshTokenGroups = 4
	// RefreshTokenGroupSize is the number of characters per group
	RefreshTokenGroupSize = 4
)

// TokenGenerator generates human-readable refresh tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateRefreshToken returns a token of the form XXXX-XXXX-XXXX-XXXX drawn
// uniformly from RefreshTokenAlphabet with a cryptographic source.
func (tg *TokenGenerator) GenerateRefreshToken() (string, error) {
	alphabetSize := big.NewInt(int64(len(RefreshTokenAlphabet)))

	var b strings.Builder
	b.Grow(RefreshTokenGroups*RefreshTokenGroupSize + RefreshTokenGroups - 1)
	for g := 0; g < RefreshTokenGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < RefreshTokenGroupSize; i++ {
			n, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return "", fmt.Errorf("failed to generate random index: %w", err)
			}
			b.WriteByte(RefreshTokenAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// ValidateRefreshTokenFormat checks the XXXX-XXXX-XXXX-XXXX shape.
func ValidateRefreshTokenFormat(token string) error {
	groups := strings.Split(token, "-")
	if len(groups) != RefreshTokenGroups {
		return fmt.Errorf("%w: refresh token must have %d groups", ErrInvalidInput, RefreshTokenGroups)
	}
	for _, group := range groups {
		if len(group) != RefreshTokenGroupSize {
			return fmt.Errorf("%w: refresh token groups must have %d characters", ErrInvalidInput, RefreshTokenGroupSize)
		}
		for _, c := range group {
			if !strings.ContainsRune(RefreshTokenAlphabet, c) {
				return fmt.Errorf("%w: refresh token contains invalid character %q", ErrInvalidInput, c)
			}
		}
	}
	return nil
}
