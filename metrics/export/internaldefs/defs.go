package internaldefs

import (
	"github.com/MrEthical07/authsession"
)

// Namespace prefixes every exported series.
const Namespace = "authsession"

// CounterDef names one counter.
type CounterDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram.
type HistogramDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authsession.MetricLoginSuccess, Name: "authsession_login_success_total", Help: "Logins that issued tokens."},
	{ID: authsession.MetricLoginFailure, Name: "authsession_login_failure_total", Help: "Logins rejected as invalid credentials."},
	{ID: authsession.MetricLoginLocked, Name: "authsession_login_locked_total", Help: "Logins rejected because the account was locked."},
	{ID: authsession.MetricAccountLocked, Name: "authsession_account_locked_total", Help: "Transitions into the locked state."},
	{ID: authsession.MetricLockoutDegraded, Name: "authsession_lockout_degraded_total", Help: "Failed logins whose counter write did not reach the store."},
	{ID: authsession.MetricMFALoginRequired, Name: "authsession_mfa_login_required_total", Help: "Logins that stopped at the second factor."},
	{ID: authsession.MetricMFALoginSuccess, Name: "authsession_mfa_login_success_total", Help: "Second-factor confirmations that issued tokens."},
	{ID: authsession.MetricMFALoginFailure, Name: "authsession_mfa_login_failure_total", Help: "Rejected second-factor codes."},
	{ID: authsession.MetricMFAAttemptsExceeded, Name: "authsession_mfa_attempts_exceeded_total", Help: "MFA challenges discarded after too many wrong codes."},
	{ID: authsession.MetricRecoveryCodeUsed, Name: "authsession_recovery_code_used_total", Help: "Recovery codes consumed at login."},
	{ID: authsession.MetricMFAEnabled, Name: "authsession_mfa_enabled_total", Help: "Completed MFA enrollments."},
	{ID: authsession.MetricMFADisabled, Name: "authsession_mfa_disabled_total", Help: "MFA disable operations."},
	{ID: authsession.MetricRecoveryCodesRegenerated, Name: "authsession_recovery_codes_regenerated_total", Help: "Recovery code regenerations."},
	{ID: authsession.MetricRefreshSuccess, Name: "authsession_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authsession.MetricRefreshFailure, Name: "authsession_refresh_failure_total", Help: "Rejected refresh rotations."},
	{ID: authsession.MetricFamilyCompromised, Name: "authsession_family_compromised_total", Help: "Refresh attempts on a family revoked for token reuse."},
	{ID: authsession.MetricLogout, Name: "authsession_logout_total", Help: "Single-session logouts."},
	{ID: authsession.MetricLogoutAll, Name: "authsession_logout_all_total", Help: "Logout-all operations."},
	{ID: authsession.MetricPasswordResetRequest, Name: "authsession_password_reset_request_total", Help: "Password reset requests."},
	{ID: authsession.MetricPasswordResetVerifyFailure, Name: "authsession_password_reset_verify_failure_total", Help: "Rejected password reset code checks."},
	{ID: authsession.MetricPasswordResetConfirmSuccess, Name: "authsession_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: authsession.MetricPasswordResetConfirmFailure, Name: "authsession_password_reset_confirm_failure_total", Help: "Rejected password reset confirmations."},
	{ID: authsession.MetricPasswordResetRateLimited, Name: "authsession_password_reset_rate_limited_total", Help: "Password reset requests refused by the per-email window."},
	{ID: authsession.MetricPasswordUpgraded, Name: "authsession_password_upgraded_total", Help: "Password hashes rehashed at login."},
	{ID: authsession.MetricAccountCreationSuccess, Name: "authsession_account_creation_success_total", Help: "Created accounts."},
	{ID: authsession.MetricAccountCreationDuplicate, Name: "authsession_account_creation_duplicate_total", Help: "Account creations rejected as duplicate."},
	{ID: authsession.MetricAccountDeactivated, Name: "authsession_account_deactivated_total", Help: "Account deactivations."},
	{ID: authsession.MetricAccountUnlocked, Name: "authsession_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: authsession.MetricStoreUnavailable, Name: "authsession_store_unavailable_total", Help: "Operations failed because a backing store did not answer."},
	{ID: authsession.MetricValidateFailure, Name: "authsession_validate_failure_total", Help: "Rejected access tokens."},
}

var HistogramDefs = []HistogramDef{
	{ID: authsession.MetricValidateLatency, Name: "authsession_validate_latency_seconds", Help: "Access token validation latency."},
	{ID: authsession.MetricLoginLatency, Name: "authsession_login_latency_seconds", Help: "Password login latency."},
}

// AuditDroppedName is the counter for events dropped by the audit dispatcher.
const AuditDroppedName = "authsession_audit_dropped_total"

// BucketCount is the number of histogram buckets including +Inf.
const BucketCount = len(authsession.HistogramBounds) + 1

// HistogramBoundSuffix names the buckets for exporters without labels.
var HistogramBoundSuffix = [BucketCount]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(authsession.HistogramBounds))
	for i, d := range authsession.HistogramBounds {
		out[i] = d.Seconds()
	}
	return out
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
