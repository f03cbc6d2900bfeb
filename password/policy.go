package password

import (
	"errors"
	"strings"
)

// ErrPolicy is wrapped by every policy violation.
var ErrPolicy = errors.New("password policy violation")

var (
	errPolicyShort      = policyError("password is too short")
	errPolicyLong       = policyError("password is too long")
	errPolicyIdentifier = policyError("password must not equal the account identifier")
)

type policyError string

func (e policyError) Error() string        { return string(e) }
func (e policyError) Is(target error) bool { return target == ErrPolicy }

// Policy holds the acceptance rules for new passwords.
type Policy struct {
	MinLength int
	MaxBytes  int
}

// DefaultPolicy requires 10 to 1024 bytes.
func DefaultPolicy() Policy {
	return Policy{MinLength: minPassBytes, MaxBytes: DefaultMaxPasswordBytes}
}

// Check validates a candidate password for the account identified by
// identifier (its email). Violations match errors.Is(err, ErrPolicy).
func (p Policy) Check(candidate, identifier string) error {
	min := p.MinLength
	if min < minPassBytes {
		min = minPassBytes
	}
	max := p.MaxBytes
	if max <= 0 {
		max = DefaultMaxPasswordBytes
	}
	if len(candidate) < min {
		return errPolicyShort
	}
	if len(candidate) > max {
		return errPolicyLong
	}
	if identifier != "" && strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(identifier)) {
		return errPolicyIdentifier
	}
	return nil
}
