package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const pendingTokenBytes = 32

// BackupCodeAlphabet excludes characters that are easy to misread
// when a code is copied from paper (0/O, 1/I/L).
const BackupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewOpaqueToken returns a random URL-safe token used for pending MFA
// sessions. The plaintext goes to the caller; only its fingerprint is stored.
func NewOpaqueToken() (string, error) {
	var raw [pendingTokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// Fingerprint is the one-way hash stored in place of a token. It is
// deterministic so the same token always maps to the same stored value.
func Fingerprint(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// EncodeFingerprint renders a fingerprint for storage as a string field.
func EncodeFingerprint(fp [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(fp[:])
}

// FingerprintEqual compares two fingerprints in constant time.
func FingerprintEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// NewBackupCode generates a single backup code of the given length from
// [BackupCodeAlphabet].
func NewBackupCode(length int) (string, error) {
	if length < 8 || length > 32 {
		return "", errors.New("invalid backup code length")
	}
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatBackupCode inserts the display hyphen (ABCD-EFGH). Canonicalization
// strips it again before hashing.
func FormatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode normalizes user input before hashing: uppercase,
// separators removed.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeHash binds a canonical backup code to its account so identical
// codes on different accounts never collide in storage.
func BackupCodeHash(accountID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(accountID)+1+len(canonicalCode))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

// NewOTP generates a numeric one-time code for sms/email delivery.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}
