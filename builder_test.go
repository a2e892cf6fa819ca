package issueguard

import (
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedisClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestBuildRequiresRedis(t *testing.T) {
	_, err := New().
		WithConfig(testEngineConfig()).
		WithUserStore(newMockUserStore()).
		Build()
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("err = %v, want redis requirement", err)
	}
}

func TestBuildRequiresUserStore(t *testing.T) {
	_, err := New().
		WithConfig(testEngineConfig()).
		WithRedis(testRedisClient(t)).
		Build()
	if err == nil || !strings.Contains(err.Error(), "user store") {
		t.Fatalf("err = %v, want user store requirement", err)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testEngineConfig()
	cfg.JWT.PrivateKey = nil

	_, err := New().
		WithConfig(cfg).
		WithRedis(testRedisClient(t)).
		WithUserStore(newMockUserStore()).
		Build()
	if err == nil || !strings.Contains(err.Error(), "PrivateKey") {
		t.Fatalf("err = %v, want key validation failure", err)
	}
}

func TestBuildRejectsUnknownRoleGrant(t *testing.T) {
	_, err := New().
		WithConfig(testEngineConfig()).
		WithRedis(testRedisClient(t)).
		WithUserStore(newMockUserStore()).
		WithRoles(map[string][]string{"viewer": {"project.delete"}}).
		Build()
	if err == nil {
		t.Fatal("expected unknown grant to fail the build")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().
		WithConfig(testEngineConfig()).
		WithRedis(testRedisClient(t)).
		WithUserStore(newMockUserStore())

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil {
		t.Fatal("second build should fail")
	}
}
