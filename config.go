package issueguard

import (
	"errors"
	"time"
)

// AuditPolicy selects what happens when the audit buffer is full.
type AuditPolicy string

const (
	// AuditFailClosed makes sensitive mutations fail when their audit
	// record cannot be enqueued.
	AuditFailClosed AuditPolicy = "fail_closed"
	// AuditBestEffort drops audit records when the buffer is full and
	// counts the drops.
	AuditBestEffort AuditPolicy = "best_effort"
)

// Config is the full engine configuration. Zero values are filled from
// defaults by the [Builder]; instances are treated as immutable after Build.
type Config struct {
	JWT        JWTConfig
	Password   PasswordConfig
	Lockout    LockoutConfig
	RateLimit  RateLimitConfig
	Session    SessionConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Permission PermissionConfig
}

// JWTConfig configures token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" for tests
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// PasswordConfig configures argon2id hashing. UpgradeOnLogin rehashes
// credentials transparently after a cost increase, when the host application
// provides a [PasswordUpgrader].
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// LockoutConfig configures automatic account lockout after consecutive
// failed logins.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

// RateLimitConfig configures the fixed-window limiters: login attempts per
// identifier (and per IP when EnableIPThrottle is set) and authenticated
// requests per principal.
type RateLimitConfig struct {
	LoginPerWindow   int
	RequestPerWindow int
	Window           time.Duration
	EnableIPThrottle bool
}

// SessionConfig configures the Redis session-family store.
type SessionConfig struct {
	RedisPrefix string
}

// AuditConfig configures the asynchronous audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	Policy     AuditPolicy
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// PermissionConfig configures the action registry. RootBitReserved keeps the
// top mask bit for the admin bypass grant.
type PermissionConfig struct {
	RootBitReserved bool
}

// DefaultConfig returns the production defaults: 15m/7d token lifetimes,
// 5-failure/30m lockout, 5-per-minute login and 100-per-minute request
// budgets, fail-closed auditing. Key material must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "issueguard",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			LoginPerWindow:   5,
			RequestPerWindow: 100,
			Window:           time.Minute,
			EnableIPThrottle: true,
		},
		Session: SessionConfig{
			RedisPrefix: "ig",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			Policy:     AuditFailClosed,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Permission: PermissionConfig{
			RootBitReserved: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency. Signing key
// material is validated separately when the token manager is constructed.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT.RefreshTTL must exceed JWT.AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("JWT.SigningMethod must be ed25519 or hs256")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT.PrivateKey is required")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("JWT.PublicKey is required for ed25519")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT.Leeway must be between 0 and 2 minutes")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password.Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password.Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password.Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password.SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password.KeyLength must be >= 16")
	}

	if c.Lockout.Enabled {
		if c.Lockout.Threshold < 1 {
			return errors.New("Lockout.Threshold must be >= 1")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout.Duration must be positive")
		}
	}

	if c.RateLimit.LoginPerWindow < 1 {
		return errors.New("RateLimit.LoginPerWindow must be >= 1")
	}
	if c.RateLimit.RequestPerWindow < 1 {
		return errors.New("RateLimit.RequestPerWindow must be >= 1")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit.Window must be positive")
	}

	if c.Session.RedisPrefix == "" {
		return errors.New("Session.RedisPrefix is required")
	}

	if c.Audit.Enabled {
		if c.Audit.BufferSize < 1 {
			return errors.New("Audit.BufferSize must be >= 1")
		}
		switch c.Audit.Policy {
		case AuditFailClosed, AuditBestEffort:
		default:
			return errors.New("Audit.Policy must be fail_closed or best_effort")
		}
	}

	return nil
}
