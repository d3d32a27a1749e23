package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint identifies a payload in logs without exposing it.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func FingerprintString(input string) string {
	return Fingerprint([]byte(input))
}
