package scrypto

import (
	"crypto/sha256"
	"runtime"

	"github.com/faanross/simulacra_png/internal/format"
	"golang.org/x/crypto/pbkdf2"
)

// DeriveKey generates the 32-byte key from a passphrase using
// PBKDF2-HMAC-SHA256 with 200 000 iterations. It never fails; callers are
// expected to pass a SALT_SIZE salt.
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, format.PBKDF2_ITERS, format.KEY_SIZE, sha256.New)
}

// ZeroBytes overwrites a byte slice with zeros
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
