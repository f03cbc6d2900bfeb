// Package password implements password hashing, verification and the
// acceptance policy for new passwords.
//
// # Output format
//
// Argon2id hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Chain] hashes with a primary [Hasher] and still verifies hashes written by
// legacy hashers (bcrypt). [Chain.NeedsUpgrade] reports true for legacy
// formats and for Argon2 hashes with weaker parameters, so the caller can
// re-hash on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other package of this module.
//   - Log plaintext passwords or hash parameters at runtime.
package password
