package issueguard

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/tracksec/issueguard/internal/limiters"
	"github.com/tracksec/issueguard/internal/rate"
	"github.com/tracksec/issueguard/jwt"
	"github.com/tracksec/issueguard/password"
	"github.com/tracksec/issueguard/permission"
	"github.com/tracksec/issueguard/session"
)

// Builder assembles an [Engine]. Omitted actions and roles fall back to the
// built-in issue-tracker tables; the Redis client and [UserStore] are
// mandatory.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	actions []string
	roles   map[string][]string

	users            UserStore
	lockoutRecorder  LockoutRecorder
	passwordUpgrader PasswordUpgrader
	auditSink        AuditSink

	built bool
}

// New returns a [Builder] preloaded with defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, rate limits, and
// lockouts.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithActions replaces the registered action names. Defaults to
// [permission.Actions].
func (b *Builder) WithActions(actions []string) *Builder {
	b.actions = actions
	return b
}

// WithRoles replaces the role grant table. Defaults to
// [permission.DefaultRoles].
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

// WithUserStore sets the principal source.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithLockoutRecorder sets the optional durable lock persistence hook.
func (b *Builder) WithLockoutRecorder(recorder LockoutRecorder) *Builder {
	b.lockoutRecorder = recorder
	return b
}

// WithPasswordUpgrader sets the optional rehash persistence hook used by
// upgrade-on-login.
func (b *Builder) WithPasswordUpgrader(upgrader PasswordUpgrader) *Builder {
	b.passwordUpgrader = upgrader
	return b
}

// WithAuditSink sets the audit destination. Without one, enabled auditing
// discards events into a [NoOpSink].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and assembles the [Engine]. The builder
// is single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	actions := b.actions
	if len(actions) == 0 {
		actions = permission.Actions()
	}
	roles := b.roles
	if len(roles) == 0 {
		roles = permission.DefaultRoles()
	}

	registry := permission.NewRegistry(cfg.Permission.RootBitReserved)
	for _, action := range actions {
		if _, err := registry.Register(action); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	evaluator := permission.NewEvaluator(registry)
	for roleName, grants := range roles {
		if err := evaluator.RegisterRole(roleName, grants); err != nil {
			return nil, err
		}
	}
	evaluator.Freeze()

	engine := &Engine{
		config:           cfg,
		registry:         registry,
		evaluator:        evaluator,
		sessionStore:     session.NewStore(b.redis, cfg.Session.RedisPrefix),
		users:            b.users,
		lockoutRecorder:  b.lockoutRecorder,
		passwordUpgrader: b.passwordUpgrader,
	}

	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
		LoginPerWindow:   cfg.RateLimit.LoginPerWindow,
		RequestPerWindow: cfg.RateLimit.RequestPerWindow,
		Window:           cfg.RateLimit.Window,
	})
	engine.lockout = limiters.NewLockoutLimiter(b.redis, limiters.LockoutConfig{
		Enabled:   cfg.Lockout.Enabled,
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	})
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = hasher

	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = manager

	b.built = true

	return engine, nil
}
