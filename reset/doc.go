// Package reset implements password reset through a short numeric one-time
// code.
//
// Flow: RequestReset stores the hash of a fresh code and hands the plaintext
// to a notify.Sender. VerifyCode checks a code without consuming it so a UI
// can validate before asking for the new password. ResetPassword checks the
// code again, consumes it with a compare-and-delete and writes the new
// password hash together with a token version bump, which invalidates every
// outstanding session.
//
// # What this package must NOT do
//
//   - Reveal whether an email belongs to an account. RequestReset returns nil
//     and performs the same code generation and hashing either way.
//   - Store plaintext codes.
package reset
