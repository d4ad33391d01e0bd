package scrypto

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/term"
)

// PassphraseEnvVar lets scripts supply the passphrase without a terminal.
const PassphraseEnvVar = "SIMULACRA_PASSPHRASE"

// MinPassphraseLength is the shortest passphrase the embed policy accepts.
const MinPassphraseLength = 8

// passphraseSpecials is the special-character class of the embed policy.
const passphraseSpecials = `!@#$%^&*(),.?":{}|<>`

// PolicyError lists every rule a passphrase failed.
type PolicyError struct {
	Failed []string
}

func (e *PolicyError) Error() string {
	return "passphrase too weak: needs " + strings.Join(e.Failed, ", ")
}

// CheckPassphrase applies the embed-side policy: at least 8 characters with
// an upper-case letter, a lower-case letter, a digit and a special character.
// Extraction never applies it.
func CheckPassphrase(passphrase []byte) error {
	var failed []string
	if len([]rune(string(passphrase))) < MinPassphraseLength {
		failed = append(failed, fmt.Sprintf("at least %d characters", MinPassphraseLength))
	}

	var upper, lower, digit, special bool
	for _, r := range string(passphrase) {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			digit = true
		case strings.ContainsRune(passphraseSpecials, r):
			special = true
		}
	}
	if !upper {
		failed = append(failed, "an upper-case letter")
	}
	if !lower {
		failed = append(failed, "a lower-case letter")
	}
	if !digit {
		failed = append(failed, "a digit")
	}
	if !special {
		failed = append(failed, "a special character")
	}

	if len(failed) > 0 {
		return &PolicyError{Failed: failed}
	}
	return nil
}

// GetSecurePassword prompts for a passphrase with hidden input. The
// SIMULACRA_PASSPHRASE environment variable takes precedence.
func GetSecurePassword(prompt string) ([]byte, error) {
	if env := os.Getenv(PassphraseEnvVar); env != "" {
		return []byte(env), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("stdin is not a terminal: set %s or pass --password", PassphraseEnvVar)
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("password read failed: %w", err)
	}
	if len(password) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	return password, nil
}

// GetConfirmedPassword prompts twice and requires both entries to match.
func GetConfirmedPassword(prompt, confirmPrompt string) ([]byte, error) {
	if env := os.Getenv(PassphraseEnvVar); env != "" {
		return []byte(env), nil
	}

	pass, err := GetSecurePassword(prompt)
	if err != nil {
		return nil, err
	}
	confirm, err := GetSecurePassword(confirmPrompt)
	if err != nil {
		ZeroBytes(pass)
		return nil, err
	}
	defer ZeroBytes(confirm)

	if !bytes.Equal(pass, confirm) {
		ZeroBytes(pass)
		return nil, errors.New("passwords do not match")
	}
	return pass, nil
}
