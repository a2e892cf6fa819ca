package issueguard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tracksec/issueguard/password"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-horse-battery"
)

type mockUserStore struct {
	mu      sync.RWMutex
	byEmail map[string]Principal

	updatedHashes map[string]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		byEmail:       make(map[string]Principal),
		updatedHashes: make(map[string]string),
	}
}

func (s *mockUserStore) put(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[p.Email] = p
}

func (s *mockUserStore) FindByEmail(_ context.Context, email string) (Principal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byEmail[email]
	return p, ok, nil
}

func (s *mockUserStore) FindByID(_ context.Context, id string) (Principal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byEmail {
		if p.ID == id {
			return p, true, nil
		}
	}
	return Principal{}, false, nil
}

func (s *mockUserStore) UpdatePasswordHash(_ context.Context, principalID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedHashes[principalID] = newHash
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) byType(eventType string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// waitForEvent polls for an audit event of the given type, since dispatch
// is asynchronous.
func (s *captureSink) waitForEvent(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := s.byType(eventType); len(events) > 0 {
			return events[len(events)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("audit event %q never arrived", eventType)
	return AuditEvent{}
}

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("test-secret-test-secret")
	// Minimum argon2 cost to keep the suite fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func testHashPassword(t *testing.T, cfg Config, plaintext string) string {
	t.Helper()
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
	hash, err := hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	users  *mockUserStore
	sink   *captureSink
	cfg    Config
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := testEngineConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	users := newMockUserStore()
	users.put(Principal{
		ID:           "user-1",
		Email:        testEmail,
		PasswordHash: testHashPassword(t, cfg, testPassword),
		Role:         "developer",
		Active:       true,
	})

	sink := &captureSink{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithPasswordUpgrader(users).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, mr: mr, users: users, sink: sink, cfg: cfg}
}

func newTestEnvWithRoles(t *testing.T, roles map[string][]string) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	users := newMockUserStore()
	engine, err := New().
		WithConfig(testEngineConfig()).
		WithRedis(rdb).
		WithUserStore(users).
		WithRoles(roles).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, mr: mr, users: users, cfg: testEngineConfig()}
}

func (env *testEnv) login(t *testing.T) *TokenPair {
	t.Helper()
	pair, err := env.engine.Authenticate(context.Background(), Credentials{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return pair
}
