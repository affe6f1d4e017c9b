// Package handover mints and stores the DTMF tokens that carry call
// context across the transfer into Amazon Connect. The token is the only
// thing the telephony side can transport (dialed as digits), so the rest
// of the context lives in a store keyed by it.
package handover

import (
	"crypto/rand"
	"fmt"
)

// DefaultTokenLength matches what the Connect contact flow collects.
const DefaultTokenLength = 10

// GenerateToken returns a random numeric token of the given length.
// Digits only so it survives the DTMF leg.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		length = DefaultTokenLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	digits := make([]byte, length)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits), nil
}

// ValidateToken reports whether a candidate has the exact expected shape.
// Called before any store lookup so malformed input never reaches the
// database.
func ValidateToken(token string, length int) bool {
	if length <= 0 {
		length = DefaultTokenLength
	}
	if len(token) != length {
		return false
	}
	for _, c := range token {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
