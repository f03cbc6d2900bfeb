// Package lockout counts failed logins per account and locks the account for a
// fixed duration once a threshold is reached.
//
// State machine: Open -> Locked(until) -> Open. Expiry is lazy: the lock record
// carries its deadline and the first read after the deadline deletes it.
//
// # What this package must NOT do
//
//   - Verify credentials. Callers report outcomes through RecordFailure and
//     RecordSuccess.
//   - Decide how a locked account is reported to the user.
package lockout
