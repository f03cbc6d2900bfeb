// Package token issues, rotates, validates and revokes access/refresh token
// pairs.
//
// Refresh tokens belong to a family created at login. Every rotation consumes
// the presented token's server-side record with an atomic get-and-delete, so
// exactly one of several concurrent rotations succeeds. Presenting a refresh
// token whose record is already gone is treated as theft: the whole family is
// marked revoked and every descendant fails from then on.
//
// Access tokens are stateless JWTs checked against a revocation entry and the
// account's live token version. Any store failure fails closed.
//
// # What this package must NOT do
//
//   - Distinguish failure reasons to callers beyond ErrInvalid,
//     ErrFamilyCompromised and ErrUnavailable.
//   - Verify passwords or MFA codes.
package token
