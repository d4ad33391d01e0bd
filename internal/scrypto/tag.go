package scrypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// ComputeTag returns HMAC-SHA256(key, data).
func ComputeTag(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyTag recomputes the tag and compares it in constant time.
func VerifyTag(key, data, tag []byte) bool {
	return hmac.Equal(ComputeTag(key, data), tag)
}
