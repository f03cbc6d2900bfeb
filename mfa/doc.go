// Package mfa implements TOTP enrollment and verification, recovery codes and
// the short-lived login challenge that bridges password verification and the
// second factor.
//
// Lifecycle: Disabled -> PendingSetup -> Enabled. PendingSetup exists only as
// a self-expiring key/value record; Disabled and Enabled are persisted on the
// account. Confirmation consumes the pending record with a compare-and-delete
// so two concurrent confirmations cannot both enable the factor.
//
// A code accepted by Verify is remembered for three periods, so replaying it
// within its validity window fails.
package mfa
