// keygen.go implements the random API key generator. Generated values are not
// re-checked for uniqueness; 256 bits of entropy make collisions a
// non-concern, and the database index backstops custom values.
package services

import (
	"crypto/rand"
	"encoding/base64"
)

const keyPrefix = "gw_"

// KeyGenerator produces opaque API key values.
type KeyGenerator interface {
	Generate() string
}

// RandomKeyGenerator generates keys from crypto/rand, base64url-encoded with a
// fixed prefix so keys are recognizable in logs and support tickets.
type RandomKeyGenerator struct{}

// Generate returns a fresh key value.
func (RandomKeyGenerator) Generate() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(buf)
}
