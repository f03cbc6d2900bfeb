package authsession

import (
	"context"
	"errors"

	"github.com/MrEthical07/authsession/internal/audit"
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginLocked            = "login_locked"
	auditEventAccountLocked          = "account_locked"
	auditEventMFARequired            = "mfa_required"
	auditEventMFASuccess             = "mfa_success"
	auditEventMFAFailure             = "mfa_failure"
	auditEventMFAAttemptsExceeded    = "mfa_attempts_exceeded"
	auditEventRecoveryCodeUsed       = "recovery_code_used"
	auditEventMFASetupRequested      = "mfa_setup_requested"
	auditEventMFAEnabled             = "mfa_enabled"
	auditEventMFADisabled            = "mfa_disabled"
	auditEventRecoveryCodesGenerated = "recovery_codes_generated"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventRefreshReuseDetected   = "refresh_reuse_detected"
	auditEventLogout                 = "logout"
	auditEventLogoutAll              = "logout_all"
	auditEventPasswordResetRequest   = "password_reset_request"
	auditEventPasswordResetConfirm   = "password_reset_confirm"
	auditEventPasswordUpgraded       = "password_hash_upgraded"
	auditEventAccountCreated         = "account_created"
	auditEventAccountDuplicate       = "account_creation_duplicate"
	auditEventAccountDeactivated     = "account_deactivated"
	auditEventAccountUnlocked        = "account_unlocked"
)

// AuditErrorCode is the stable error label attached to failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrFamilyCompromised  AuditErrorCode = "family_compromised"
	auditErrMFARequired        AuditErrorCode = "mfa_required"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid_or_expired"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	familyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		Timestamp: e.now().UTC(),
		Type:      eventType,
		AccountID: accountID,
		FamilyID:  familyID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrTokenFamilyCompromised):
		return auditErrFamilyCompromised
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrMfaRequired):
		return auditErrMFARequired
	case errors.Is(err, ErrMfaInvalid):
		return auditErrMFAInvalid
	case errors.Is(err, ErrCodeInvalidOrExpired):
		return auditErrCodeInvalid
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case isUnavailable(err):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
