package password

import (
	"errors"
	"fmt"
)

// DefaultMaxPasswordBytes bounds the work an attacker can force per attempt.
const DefaultMaxPasswordBytes = 1024

const minPassBytes = 10

var (
	// ErrTooShort is returned for passwords under the hashing minimum.
	ErrTooShort = errors.New("password must be at least 10 bytes")
	// ErrTooLong is returned for passwords over MaxPasswordBytes.
	ErrTooLong = errors.New("password exceeds maximum length")
	// ErrUnsupportedHash is returned when no configured hasher recognises a hash.
	ErrUnsupportedHash = errors.New("unsupported password hash format")
)

// Hasher hashes and verifies passwords in one encoding.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
	// Handles reports whether encodedHash belongs to this hasher's format.
	Handles(encodedHash string) bool
}

func checkLength(password string, max int) error {
	if len(password) < minPassBytes {
		return ErrTooShort
	}
	if len(password) > max {
		return fmt.Errorf("%w (%d bytes)", ErrTooLong, max)
	}
	return nil
}

// Chain hashes with Primary and verifies with whichever hasher recognises the
// stored format. Hashes in a legacy format always need an upgrade.
type Chain struct {
	Primary Hasher
	Legacy  []Hasher
}

// NewChain returns a Chain that accepts legacy formats for verification only.
func NewChain(primary Hasher, legacy ...Hasher) *Chain {
	return &Chain{Primary: primary, Legacy: legacy}
}

func (c *Chain) Hash(password string) (string, error) {
	return c.Primary.Hash(password)
}

func (c *Chain) Verify(password, encodedHash string) (bool, error) {
	h, err := c.pick(encodedHash)
	if err != nil {
		return false, err
	}
	return h.Verify(password, encodedHash)
}

func (c *Chain) NeedsUpgrade(encodedHash string) (bool, error) {
	if c.Primary.Handles(encodedHash) {
		return c.Primary.NeedsUpgrade(encodedHash)
	}
	if _, err := c.pick(encodedHash); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Chain) Handles(encodedHash string) bool {
	_, err := c.pick(encodedHash)
	return err == nil
}

func (c *Chain) pick(encodedHash string) (Hasher, error) {
	if c.Primary.Handles(encodedHash) {
		return c.Primary, nil
	}
	for _, h := range c.Legacy {
		if h.Handles(encodedHash) {
			return h, nil
		}
	}
	return nil, ErrUnsupportedHash
}
