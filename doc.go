// Package authsession authenticates accounts and manages their sessions:
// password login with lockout, TOTP second factor with recovery codes,
// short-lived access tokens with rotating refresh tokens, server-side
// revocation, and one-time-code password reset.
//
// An [Engine] is assembled with [Builder] from an [account.Store] (durable
// accounts) and a [kv.Store] (counters, codes and token records that expire on
// their own). Engine methods are safe for concurrent use; every cross-request
// invariant is enforced by an atomic primitive of one of the two stores.
//
// # Architecture boundaries
//
// The root package orchestrates. Each rule lives in a component package:
// token rotation in token, lock state in lockout, TOTP in mfa, reset codes in
// reset, hashing in password. Component errors are mapped here onto the
// exported taxonomy (ErrInvalidCredentials, ErrAccountLocked,
// ErrTokenInvalid, ...) so callers never see the reason a token failed or
// whether an email exists.
//
// # What this package must NOT do
//
//   - Accept a token when a store cannot be reached.
//   - Return different errors for unknown accounts and wrong passwords.
//   - Import httpapi, cmd or any exporter package.
package authsession
