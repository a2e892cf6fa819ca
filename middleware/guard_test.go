package middleware

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	issueguard "github.com/tracksec/issueguard"
	"github.com/tracksec/issueguard/password"
)

type staticUserStore struct {
	principal issueguard.Principal
}

func (s staticUserStore) FindByEmail(_ context.Context, email string) (issueguard.Principal, bool, error) {
	if email == s.principal.Email {
		return s.principal, true, nil
	}
	return issueguard.Principal{}, false, nil
}

func (s staticUserStore) FindByID(_ context.Context, id string) (issueguard.Principal, bool, error) {
	if id == s.principal.ID {
		return s.principal, true, nil
	}
	return issueguard.Principal{}, false, nil
}

func newGuardedServer(t *testing.T) (*issueguard.Engine, http.Handler) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := issueguard.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	hash, err := hasher.Hash("guard-test-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	engine, err := issueguard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(staticUserStore{principal: issueguard.Principal{
			ID:           "user-1",
			Email:        "alice@example.com",
			PasswordHash: hash,
			Role:         "developer",
			Active:       true,
		}}).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	handler := RequireAuth(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			t.Error("handler reached without an actor in context")
			http.Error(w, "no actor", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(actor.ID))
	}))

	return engine, handler
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	engine, handler := newGuardedServer(t)

	pair, err := engine.Authenticate(context.Background(), issueguard.Credentials{
		Email:    "alice@example.com",
		Password: "guard-test-password",
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "user-1" {
		t.Fatalf("body = %q, want principal id", rec.Body.String())
	}
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	_, handler := newGuardedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthRejectsGarbageToken(t *testing.T) {
	_, handler := newGuardedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthRejectsRevokedSession(t *testing.T) {
	engine, handler := newGuardedServer(t)

	pair, err := engine.Authenticate(context.Background(), issueguard.Credentials{
		Email:    "alice@example.com",
		Password: "guard-test-password",
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := engine.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
