package issueguard

import (
	"errors"

	"github.com/tracksec/issueguard/workflow"
)

var (
	// ErrInvalidCredentials is returned for unknown identifiers and wrong
	// passwords alike so that callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a principal is under failed-login lockout.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for principals marked inactive.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrRateLimited is returned when a login or request window budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrTokenExpired is returned for structurally valid tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalidSignature is returned for malformed tokens or signature failures.
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	// ErrTokenRevoked is returned for revoked tokens, including refresh tokens
	// consumed a second time after rotation.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrPermissionDenied is returned when an authorization decision denies the action.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidTransition is returned when an issue status change is not in the
	// transition table. It aliases the workflow package sentinel so callers can
	// match either.
	ErrInvalidTransition = workflow.ErrInvalidTransition
	// ErrStoreUnavailable is returned when a backing store cannot be reached.
	// All security decisions fail closed on it.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned when a method is invoked on an engine that
	// was not fully constructed through the Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)
