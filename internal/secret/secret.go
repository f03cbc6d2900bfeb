// Package secret generates and hashes the short-lived codes handed to users:
// numeric one-time codes for password reset and alphanumeric MFA recovery
// codes. Codes are only ever persisted as HMAC-SHA256 digests keyed with a
// server-side secret, so a leaked store cannot be brute-forced offline.
package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MinKeyLength is the shortest accepted code hashing key.
const MinKeyLength = 32

// ErrShortKey is returned for code hashing keys under MinKeyLength bytes.
var ErrShortKey = errors.New("code hashing key too short")

// RecoveryAlphabet omits characters that are easy to misread (0/O, 1/I).
const RecoveryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewOTP returns a uniformly random numeric code of the given length.
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

// NewRecoveryCode returns a random code of length characters from
// RecoveryAlphabet, formatted with a hyphen at its midpoint.
func NewRecoveryCode(length int) (string, error) {
	if length < 8 {
		return "", errors.New("recovery code too short")
	}
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(RecoveryAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(RecoveryAlphabet[n.Int64()])
	}
	return formatRecoveryCode(b.String()), nil
}

func formatRecoveryCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CodeHasher digests codes with HMAC-SHA256 under a server-side key.
type CodeHasher struct {
	key []byte
}

// NewCodeHasher copies key, which must be at least MinKeyLength bytes.
func NewCodeHasher(key []byte) (*CodeHasher, error) {
	if len(key) < MinKeyLength {
		return nil, ErrShortKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &CodeHasher{key: k}, nil
}

// DeriveKey expands master into a MinKeyLength key dedicated to code hashing.
// The same master always yields the same key.
func DeriveKey(master []byte) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrShortKey
	}
	key := make([]byte, MinKeyLength)
	r := hkdf.New(sha256.New, master, nil, []byte("authsession code hash v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Hash binds code to owner so equal codes of different accounts digest
// differently. The result is lowercase hex.
func (h *CodeHasher) Hash(owner, code string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(owner))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches reports whether code digests to digest for owner.
func (h *CodeHasher) Matches(owner, code string, digest []byte) bool {
	return Equal(h.Hash(owner, code), string(digest))
}

// Equal compares two hashes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
