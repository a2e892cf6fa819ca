package issueguard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginLocked          = "login_locked"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventRequestRateLimited   = "request_rate_limited"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
	auditEventAccessRejected       = "access_rejected"
	auditEventAuthzDecision        = "authz_decision"
	auditEventTransitionApplied    = "transition_applied"
	auditEventTransitionRejected   = "transition_rejected"
	auditEventPasswordUpgraded     = "password_upgraded"
)

// AuditErrorCode is the stable error token recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrPermissionDenied   AuditErrorCode = "permission_denied"
	auditErrInvalidTransition  AuditErrorCode = "invalid_transition"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// emitAudit builds and enqueues one event. metadataBuilder runs only when
// auditing is enabled so hot paths pay nothing for a nil dispatcher. Under
// the fail-closed policy a full buffer surfaces as [ErrStoreUnavailable].
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) error {
	if e == nil || e.audit == nil {
		return nil
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	if emitErr := e.audit.Emit(ctx, event); emitErr != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, emitErr)
	}
	return nil
}

// RecordAudit lets the host application push its own domain events (issue
// created, comment deleted) through the same pipeline as the engine's
// security events. The event's timestamp is stamped and client IP/user-agent
// are filled from ctx when absent. The configured buffer policy applies.
func (e *Engine) RecordAudit(ctx context.Context, event AuditEvent) error {
	if e == nil || e.audit == nil {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}

	if err := e.audit.Emit(ctx, event); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
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
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalidSignature):
		return auditErrTokenInvalid
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrInvalidTransition):
		return auditErrInvalidTransition
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
