// Package account defines the durable account record and the CredentialStore
// contract consumed by the authentication engine.
//
// # Architecture boundaries
//
// Store implementations own persistence only. Password verification, lockout
// and token decisions live in other packages and operate on the values returned
// here. Field-level mutations that must not lose concurrent writes
// (UpdatePassword, IncrementTokenVersion, ConsumeRecoveryCode) are single
// atomic operations; whole-record writes go through Save, which is optimistic
// on Revision.
//
// # What this package must NOT do
//
//   - Hash or compare passwords.
//   - Store plaintext recovery codes.
//   - Hard-delete accounts. Deactivation is expressed through IsActive.
package account
