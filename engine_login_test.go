package issueguard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAuthenticateSuccess(t *testing.T) {
	env := newTestEnv(t, nil)

	pair := env.login(t)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if !pair.AccessExpiresAt.After(time.Now()) {
		t.Fatal("access expiry should be in the future")
	}

	event := env.sink.waitForEvent(t, auditEventLoginSuccess)
	if !event.Success || event.UserID != "user-1" {
		t.Fatalf("unexpected audit event: %+v", event)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("login success counter = %d, want 1", got)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Authenticate(context.Background(), Credentials{Email: testEmail, Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	event := env.sink.waitForEvent(t, auditEventLoginFailure)
	if event.Success {
		t.Fatal("failure event marked successful")
	}
}

func TestAuthenticateUnknownEmailSameError(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Authenticate(context.Background(), Credentials{Email: "nobody@example.com", Password: "whatever"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown account err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticateLockoutAfterThreshold(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Lockout.Threshold = 3
		// Keep the failure budget out of the way so lockout trips first.
		cfg.RateLimit.LoginPerWindow = 100
	})

	for i := 0; i < 3; i++ {
		_, err := env.engine.Authenticate(context.Background(), Credentials{Email: testEmail, Password: "wrong"})
		if i < 2 && !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v, want ErrInvalidCredentials", i, err)
		}
		if i == 2 && !errors.Is(err, ErrAccountLocked) {
			t.Fatalf("threshold attempt: err = %v, want ErrAccountLocked", err)
		}
	}

	// Even the correct password is refused while the lock holds.
	_, err := env.engine.Authenticate(context.Background(), Credentials{Email: testEmail, Password: testPassword})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked login err = %v, want ErrAccountLocked", err)
	}

	// Lock expiry restores access.
	env.mr.FastForward(env.cfg.Lockout.Duration + time.Second)
	if _, err := env.engine.Authenticate(context.Background(), Credentials{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("post-expiry login: %v", err)
	}
}

func TestAuthenticateSuccessResetsFailureCounter(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Lockout.Threshold = 3
		cfg.RateLimit.LoginPerWindow = 100
	})

	// One failure short of the threshold.
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Authenticate(context.Background(), Credentials{Email: testEmail, Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	env.login(t)

	// The counter restarted from zero: a full threshold of fresh failures
	// is needed before the lock trips again.
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Authenticate(context.Background(), Credentials{Email: testEmail, Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("post-reset attempt %d: %v", i, err)
		}
	}
	env.login(t)
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	env.users.put(Principal{
		ID:           "user-2",
		Email:        "bob@example.com",
		PasswordHash: testHashPassword(t, env.cfg, testPassword),
		Role:         "developer",
		Active:       false,
	})

	_, err := env.engine.Authenticate(context.Background(), Credentials{Email: "bob@example.com", Password: testPassword})
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("err = %v, want ErrAccountDisabled", err)
	}
}

func TestAuthenticatePersistedLockHonored(t *testing.T) {
	env := newTestEnv(t, nil)
	until := time.Now().Add(time.Hour)
	env.users.put(Principal{
		ID:           "user-3",
		Email:        "carol@example.com",
		PasswordHash: testHashPassword(t, env.cfg, testPassword),
		Role:         "developer",
		Active:       true,
		LockedUntil:  &until,
	})

	_, err := env.engine.Authenticate(context.Background(), Credentials{Email: "carol@example.com", Password: testPassword})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("err = %v, want ErrAccountLocked", err)
	}
}

func TestAuthenticateRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit.LoginPerWindow = 2
		cfg.Lockout.Enabled = false
	})

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Authenticate(context.Background(), Credentials{Email: testEmail, Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	_, err := env.engine.Authenticate(context.Background(), Credentials{Email: testEmail, Password: testPassword})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestAuthenticateEmailNormalized(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := env.engine.Authenticate(context.Background(), Credentials{Email: "  ALICE@Example.COM ", Password: testPassword}); err != nil {
		t.Fatalf("normalized login: %v", err)
	}
}

func TestAuthenticateUpgradesLegacyHash(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Password.UpgradeOnLogin = true
		cfg.Password.Memory = 16 * 1024
	})

	// Seed a hash produced with weaker parameters than the engine's config.
	weak := env.cfg
	weak.Password.Memory = 8 * 1024
	env.users.put(Principal{
		ID:           "user-1",
		Email:        testEmail,
		PasswordHash: testHashPassword(t, weak, testPassword),
		Role:         "developer",
		Active:       true,
	})

	env.login(t)
	env.sink.waitForEvent(t, auditEventPasswordUpgraded)

	env.users.mu.RLock()
	upgraded := env.users.updatedHashes["user-1"]
	env.users.mu.RUnlock()
	if upgraded == "" {
		t.Fatal("expected password hash to be rewritten on login")
	}
}
