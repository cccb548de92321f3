// accesstoken.go provides personal-access-token primitives for the management
// API. Tokens are opaque strings shown once at creation; only the bcrypt hash
// and a short display prefix are stored, so a database leak does not leak
// usable credentials.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// AccessTokenLength is the length of the random part of the token in bytes
	AccessTokenLength = 32

	// DisplayPrefixLength is the number of characters to show in displays
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateAccessToken creates a new random access token with the given prefix.
// Returns: full token (to show once), bcrypt hash (to store), display prefix.
func GenerateAccessToken(prefix string) (token string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, AccessTokenLength)
	_, err = rand.Read(randomBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	randomPart := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := prefix + randomPart

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullToken), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash access token: %w", err)
	}

	displayPrefixStr := fullToken
	if len(fullToken) > DisplayPrefixLength {
		displayPrefixStr = fullToken[:DisplayPrefixLength]
	}

	return fullToken, string(hashBytes), displayPrefixStr, nil
}

// ValidateAccessToken checks if a provided token matches the stored hash
func ValidateAccessToken(providedToken, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedToken))
	return err == nil
}

// ExtractTokenFromHeader extracts the bearer token from an Authorization header.
// Expected format: "Bearer gw_abc123xyz..."
func ExtractTokenFromHeader(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)

	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}

// DisplayPrefix returns the stored display prefix for an arbitrary token value.
// Used by the auth middleware to narrow the candidate set before bcrypt
// comparison.
func DisplayPrefix(token string) string {
	if len(token) > DisplayPrefixLength {
		return token[:DisplayPrefixLength]
	}
	return token
}
