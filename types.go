package issueguard

import (
	"context"
	"time"
)

// Principal is an account as stored by the host application. The engine
// never persists principals; it reads them through [UserStore].
type Principal struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	LockedUntil  *time.Time
}

// Credentials are the inputs to [Engine.Authenticate].
type Credentials struct {
	Email    string
	Password string
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// Actor is the verified identity extracted from an access token. It is the
// subject of every authorization decision.
type Actor struct {
	ID        string
	Role      string
	SessionID string
	TokenID   string
}

// SessionInfo describes one live refresh-token family belonging to a
// principal.
type SessionInfo struct {
	FamilyID  string
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// UserStore resolves principals from the host application's storage.
// Implementations must return [ErrInvalidCredentials]-compatible behavior by
// simply reporting found=false; the engine handles anti-enumeration.
type UserStore interface {
	// FindByEmail looks up a principal by normalized (lowercased, trimmed)
	// email. found=false with a nil error means no such account.
	FindByEmail(ctx context.Context, email string) (Principal, bool, error)
	// FindByID looks up a principal by its identifier.
	FindByID(ctx context.Context, id string) (Principal, bool, error)
}

// LockoutRecorder lets the host application persist lock state on the
// principal record, so locks survive a Redis flush. Optional.
type LockoutRecorder interface {
	SetLock(ctx context.Context, principalID string, until time.Time) error
	ClearLock(ctx context.Context, principalID string) error
}

// PasswordUpgrader lets the host application persist a rehashed credential
// when cost parameters have been raised since the stored hash was created.
// Optional; without it upgrades are skipped.
type PasswordUpgrader interface {
	UpdatePasswordHash(ctx context.Context, principalID, newHash string) error
}
