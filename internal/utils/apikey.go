package utils

import "golang.org/x/crypto/bcrypt"

// HashAPIKey returns the bcrypt hash of a channel API key using the
// given cost.  Only the hash is stored server side.
func HashAPIKey(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyAPIKey safely compares a stored bcrypt hash and a presented key.
func VerifyAPIKey(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
