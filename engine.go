package issueguard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tracksec/issueguard/internal/limiters"
	"github.com/tracksec/issueguard/internal/rate"
	"github.com/tracksec/issueguard/jwt"
	"github.com/tracksec/issueguard/password"
	"github.com/tracksec/issueguard/permission"
	"github.com/tracksec/issueguard/session"
)

// Engine is the authorization and session security core. Construct one
// through the [Builder]; instances are immutable and safe for concurrent use.
type Engine struct {
	config       Config
	registry     *permission.Registry
	evaluator    *permission.Evaluator
	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	lockout      *limiters.LockoutLimiter
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Hasher
	jwtManager   *jwt.Manager
	users        UserStore

	lockoutRecorder  LockoutRecorder
	passwordUpgrader PasswordUpgrader
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events discarded under the
// best-effort policy.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.users != nil && e.sessionStore != nil && e.jwtManager != nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// storeErr folds backend failures from any subsystem into the single
// fail-closed sentinel callers are expected to match.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Authenticate verifies credentials and opens a new session family,
// returning a fresh access/refresh pair. Unknown accounts and wrong
// passwords are indistinguishable in both the returned error and, as far as
// argon2 allows, the response time.
func (e *Engine) Authenticate(ctx context.Context, creds Credentials) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(creds.Email)
	ip := clientIPFromContext(ctx)

	// A locked identifier is rejected before counters move: attempts during
	// lockout neither extend the lock nor consume rate budget.
	locked, _, err := e.lockout.Locked(ctx, email)
	if err != nil {
		return nil, storeErr(err)
	}
	if locked {
		e.metricInc(MetricLoginLocked)
		_ = e.emitAudit(ctx, auditEventLoginLocked, false, "", "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	if err := e.rateLimiter.AllowLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			_ = e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, nil)
			return nil, ErrRateLimited
		}
		return nil, storeErr(err)
	}

	principal, found, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, storeErr(err)
	}
	if !found {
		// Burn the same hashing work a real account would cost.
		e.passwordHash.VerifyDecoy(creds.Password)
		e.metricInc(MetricLoginFailure)
		_ = e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if principal.LockedUntil != nil && time.Now().Before(*principal.LockedUntil) {
		e.metricInc(MetricLoginLocked)
		_ = e.emitAudit(ctx, auditEventLoginLocked, false, principal.ID, "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	ok, err := e.passwordHash.Verify(creds.Password, principal.PasswordHash)
	if err != nil {
		// Undecodable stored hash. Treated as a failed login rather than
		// leaking a server-side problem to the caller.
		e.metricInc(MetricLoginFailure)
		_ = e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, "", err, nil)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		lockedNow, lockErr := e.lockout.RecordFailure(ctx, email)
		if lockErr != nil {
			return nil, storeErr(lockErr)
		}
		if lockedNow {
			until := time.Now().Add(e.config.Lockout.Duration)
			if e.lockoutRecorder != nil {
				if recErr := e.lockoutRecorder.SetLock(ctx, principal.ID, until); recErr != nil {
					log.Print("issueguard: persist lock failed: ", recErr)
				}
			}
			e.metricInc(MetricLoginLocked)
			_ = e.emitAudit(ctx, auditEventLoginLocked, false, principal.ID, "", ErrAccountLocked, func() map[string]string {
				return map[string]string{"locked_until": until.UTC().Format(time.RFC3339)}
			})
			return nil, ErrAccountLocked
		}
		e.metricInc(MetricLoginFailure)
		_ = e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if !principal.Active {
		e.metricInc(MetricLoginFailure)
		_ = e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, "", ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	if err := e.lockout.Reset(ctx, email); err != nil {
		log.Print("issueguard: lockout reset failed: ", err)
	}
	if e.lockoutRecorder != nil {
		if err := e.lockoutRecorder.ClearLock(ctx, principal.ID); err != nil {
			log.Print("issueguard: clear persisted lock failed: ", err)
		}
	}

	e.maybeUpgradePassword(ctx, principal, creds.Password)

	familyID := uuid.NewString()
	refreshJTI := uuid.NewString()

	fam := &session.Family{
		ID:        familyID,
		UserID:    principal.ID,
		Role:      principal.Role,
		RefreshID: refreshJTI,
		IP:        ip,
		UserAgent: userAgentFromContext(ctx),
		CreatedAt: time.Now(),
	}
	if err := e.sessionStore.CreateFamily(ctx, fam, e.config.JWT.RefreshTTL); err != nil {
		return nil, storeErr(err)
	}

	pair, err := e.issuePair(principal.ID, principal.Role, familyID, refreshJTI)
	if err != nil {
		e.revokeBestEffort(ctx, familyID)
		return nil, err
	}

	if err := e.emitAudit(ctx, auditEventLoginSuccess, true, principal.ID, familyID, nil, nil); err != nil {
		e.revokeBestEffort(ctx, familyID)
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)

	return pair, nil
}

func (e *Engine) maybeUpgradePassword(ctx context.Context, principal Principal, plaintext string) {
	if !e.config.Password.UpgradeOnLogin || e.passwordUpgrader == nil {
		return
	}

	needs, err := e.passwordHash.NeedsUpgrade(principal.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		return
	}
	if err := e.passwordUpgrader.UpdatePasswordHash(ctx, principal.ID, newHash); err != nil {
		log.Print("issueguard: password upgrade failed: ", err)
		return
	}
	_ = e.emitAudit(ctx, auditEventPasswordUpgraded, true, principal.ID, "", nil, nil)
}

// Refresh rotates a refresh token: the presented token is consumed and a new
// access/refresh pair is issued against the same session family. Presenting
// an already-consumed token revokes the whole family and returns
// [ErrTokenRevoked].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		mapped := mapTokenError(err)
		_ = e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", mapped, nil)
		return nil, mapped
	}

	nextJTI := uuid.NewString()
	result, err := e.sessionStore.Rotate(ctx, claims.SID, claims.ID, nextJTI, e.config.JWT.RefreshTTL)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshReuse):
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricRefreshFailure)
			_ = e.emitAudit(ctx, auditEventRefreshReuseDetected, false, claims.UID, claims.SID, ErrTokenRevoked, nil)
			return nil, ErrTokenRevoked
		case errors.Is(err, session.ErrFamilyNotFound):
			e.metricInc(MetricRefreshFailure)
			_ = e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.UID, claims.SID, ErrTokenRevoked, nil)
			return nil, ErrTokenRevoked
		default:
			return nil, storeErr(err)
		}
	}

	pair, err := e.issuePair(result.UserID, result.Role, claims.SID, nextJTI)
	if err != nil {
		e.revokeBestEffort(ctx, claims.SID)
		return nil, err
	}

	if err := e.emitAudit(ctx, auditEventRefreshSuccess, true, result.UserID, claims.SID, nil, nil); err != nil {
		e.revokeBestEffort(ctx, claims.SID)
		return nil, err
	}
	e.metricInc(MetricRefreshSuccess)

	return pair, nil
}

// VerifyAccess validates an access token and confirms its session family is
// still alive, so logout and reuse revocation take effect immediately
// instead of at token expiry. Returns the verified [Actor].
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*Actor, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricAccessRejected)
		mapped := mapTokenError(err)
		_ = e.emitAudit(ctx, auditEventAccessRejected, false, "", "", mapped, nil)
		return nil, mapped
	}

	if _, err := e.sessionStore.Get(ctx, claims.SID); err != nil {
		if errors.Is(err, session.ErrFamilyNotFound) {
			e.metricInc(MetricAccessRejected)
			_ = e.emitAudit(ctx, auditEventAccessRejected, false, claims.UID, claims.SID, ErrTokenRevoked, nil)
			return nil, ErrTokenRevoked
		}
		return nil, storeErr(err)
	}

	e.metricInc(MetricAccessVerified)
	return &Actor{
		ID:        claims.UID,
		Role:      claims.Role,
		SessionID: claims.SID,
		TokenID:   claims.ID,
	}, nil
}

// AllowRequest counts one authenticated request against the principal's
// global budget and returns [ErrRateLimited] once it is exhausted.
func (e *Engine) AllowRequest(ctx context.Context, principalID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	if err := e.rateLimiter.AllowRequest(ctx, principalID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRequestRateLimited)
			_ = e.emitAudit(ctx, auditEventRequestRateLimited, false, principalID, "", ErrRateLimited, nil)
			return ErrRateLimited
		}
		return storeErr(err)
	}
	return nil
}

// Logout revokes the session family the refresh token belongs to. Access
// tokens minted against the family are rejected from the next VerifyAccess
// call onward.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseRefresh(refreshToken)
	if err != nil {
		return mapTokenError(err)
	}

	if err := e.sessionStore.RevokeFamily(ctx, claims.SID); err != nil {
		return storeErr(err)
	}

	if err := e.emitAudit(ctx, auditEventLogoutSession, true, claims.UID, claims.SID, nil, nil); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	return nil
}

// LogoutAll revokes every session family belonging to the principal and
// returns how many were revoked.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.sessionStore.RevokeAllForUser(ctx, principalID)
	if err != nil {
		return 0, storeErr(err)
	}

	if err := e.emitAudit(ctx, auditEventLogoutAll, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(revoked)}
	}); err != nil {
		return 0, err
	}
	e.metricInc(MetricLogoutAll)
	return revoked, nil
}

// ListSessions returns the live session families belonging to a principal.
func (e *Engine) ListSessions(ctx context.Context, principalID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	families, err := e.sessionStore.ListFamilies(ctx, principalID)
	if err != nil {
		return nil, storeErr(err)
	}

	infos := make([]SessionInfo, 0, len(families))
	for _, fam := range families {
		infos = append(infos, SessionInfo{
			FamilyID:  fam.ID,
			IP:        fam.IP,
			UserAgent: fam.UserAgent,
			CreatedAt: fam.CreatedAt,
		})
	}
	return infos, nil
}

// ActiveSessionCount returns the number of live session families for a
// principal.
func (e *Engine) ActiveSessionCount(ctx context.Context, principalID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	count, err := e.sessionStore.ActiveFamilyCount(ctx, principalID)
	if err != nil {
		return 0, storeErr(err)
	}
	return count, nil
}

func (e *Engine) issuePair(userID, role, familyID, refreshJTI string) (*TokenPair, error) {
	access, expiresAt, err := e.jwtManager.CreateAccess(userID, role, familyID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	refresh, err := e.jwtManager.CreateRefresh(userID, familyID, refreshJTI)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: expiresAt,
	}, nil
}

func (e *Engine) revokeBestEffort(ctx context.Context, familyID string) {
	if err := e.sessionStore.RevokeFamily(ctx, familyID); err != nil {
		log.Print("issueguard: rollback revoke failed: ", err)
	}
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalidSignature, err)
	}
}
