package domain

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	verificationCodeBytes  = 16
	VerificationCodeLength = verificationCodeBytes * 2
)

// NewVerificationCode returns 32 lowercase hex characters drawn from
// crypto/rand. Codes carry no claim id or timestamp material.
func NewVerificationCode() (string, error) {
	b := make([]byte, verificationCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func ValidVerificationCode(code string) bool {
	if len(code) != VerificationCodeLength {
		return false
	}
	for _, r := range code {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
