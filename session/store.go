package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps any Redis transport or command failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrFamilyNotFound is returned when the referenced session family does not
// exist, either because it expired or because it was revoked.
var ErrFamilyNotFound = errors.New("session family not found")

// ErrRefreshReuse is returned when a presented refresh identifier does not
// match the family's current one. The family is already revoked when this
// error is returned.
var ErrRefreshReuse = errors.New("refresh token reuse detected")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRotated  int64 = 1
	rotateStatusReuse    int64 = 2
)

// rotateScript compares the presented refresh identifier against the
// family's current one and swaps in the next identifier atomically. A
// mismatch means an already-consumed refresh token was replayed, so the
// whole family is destroyed before reporting reuse.
const rotateScript = `
local fam_key = KEYS[1]
local presented = ARGV[1]
local next_id = ARGV[2]
local ttl_ms = tonumber(ARGV[3])
local user_prefix = ARGV[4]
local family_id = ARGV[5]

local current = redis.call("HGET", fam_key, "jti")
if not current then
  return {0}
end

local uid = redis.call("HGET", fam_key, "uid")

if current ~= presented then
  redis.call("DEL", fam_key)
  if uid then
    redis.call("SREM", user_prefix .. uid, family_id)
  end
  return {2, uid}
end

redis.call("HSET", fam_key, "jti", next_id)
redis.call("PEXPIRE", fam_key, ttl_ms)
local role = redis.call("HGET", fam_key, "role")
return {1, uid, role}
`

var rotateLua = redis.NewScript(rotateScript)

const revokeScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
if not uid then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. uid, ARGV[2])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Family is one refresh-token lineage: a login creates it, each refresh
// rotates its current refresh identifier, and revocation deletes it. Access
// tokens minted against a family die with it.
type Family struct {
	ID        string
	UserID    string
	Role      string
	RefreshID string
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// RotateResult reports the principal a successful rotation belongs to.
type RotateResult struct {
	UserID string
	Role   string
}

// Store persists session families in Redis with atomic refresh rotation and
// replay detection.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	return &Store{redis: redis, prefix: prefix}
}

func (s *Store) familyKey(familyID string) string {
	return s.prefix + ":fam:" + familyID
}

func (s *Store) userPrefix() string {
	return s.prefix + ":uf:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

// CreateFamily persists a new family and indexes it under its user.
func (s *Store) CreateFamily(ctx context.Context, fam *Family, ttl time.Duration) error {
	famKey := s.familyKey(fam.ID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, famKey,
			"uid", fam.UserID,
			"role", fam.Role,
			"jti", fam.RefreshID,
			"ip", fam.IP,
			"ua", fam.UserAgent,
			"created", strconv.FormatInt(fam.CreatedAt.Unix(), 10),
		)
		pipe.Expire(ctx, famKey, ttl)
		pipe.SAdd(ctx, s.userKey(fam.UserID), fam.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Rotate atomically consumes the presented refresh identifier and installs
// nextID, extending the family's TTL. Presenting a stale identifier revokes
// the family and returns [ErrRefreshReuse]; a missing family returns
// [ErrFamilyNotFound].
func (s *Store) Rotate(ctx context.Context, familyID, presentedID, nextID string, ttl time.Duration) (*RotateResult, error) {
	result, err := rotateLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID)},
		presentedID,
		nextID,
		ttl.Milliseconds(),
		s.userPrefix(),
		familyID,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("%w: unexpected rotate reply", ErrRedisUnavailable)
	}
	status, ok := values[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected rotate status", ErrRedisUnavailable)
	}

	switch status {
	case rotateStatusRotated:
		if len(values) < 3 {
			return nil, fmt.Errorf("%w: truncated rotate reply", ErrRedisUnavailable)
		}
		uid, _ := values[1].(string)
		role, _ := values[2].(string)
		return &RotateResult{UserID: uid, Role: role}, nil
	case rotateStatusReuse:
		return nil, ErrRefreshReuse
	case rotateStatusNotFound:
		return nil, ErrFamilyNotFound
	default:
		return nil, fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, status)
	}
}

// Get fetches a family without mutating any state. Used by access-token
// verification to confirm the family is still alive.
func (s *Store) Get(ctx context.Context, familyID string) (*Family, error) {
	fields, err := s.redis.HGetAll(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrFamilyNotFound
	}
	return familyFromFields(familyID, fields), nil
}

// RevokeFamily deletes one family and its user-index entry. Revoking an
// already-missing family is not an error.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) error {
	err := revokeLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID)},
		s.userPrefix(),
		familyID,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAllForUser deletes every family indexed under the user and returns
// how many were removed. A family created concurrently with this call may
// survive; it will be caught by its own TTL or a subsequent call.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	familyIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(familyIDs) == 0 {
		return 0, nil
	}

	famKeys := make([]string, 0, len(familyIDs))
	for _, id := range familyIDs {
		famKeys = append(famKeys, s.familyKey(id))
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, famKeys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(deleted.Val()), nil
}

// ListFamilies returns the live families indexed under the user, pruning
// index entries whose family has already expired.
func (s *Store) ListFamilies(ctx context.Context, userID string) ([]*Family, error) {
	userKey := s.userKey(userID)

	familyIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Family{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(familyIDs) == 0 {
		return []*Family{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(familyIDs))
	for i, id := range familyIDs {
		cmds[i] = pipe.HGetAll(ctx, s.familyKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	families := make([]*Family, 0, len(familyIDs))
	var stale []interface{}
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		if len(fields) == 0 {
			stale = append(stale, familyIDs[i])
			continue
		}
		families = append(families, familyFromFields(familyIDs[i], fields))
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return families, nil
}

// ActiveFamilyCount returns the number of indexed families for a user.
func (s *Store) ActiveFamilyCount(ctx context.Context, userID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func familyFromFields(familyID string, fields map[string]string) *Family {
	created, _ := strconv.ParseInt(fields["created"], 10, 64)
	return &Family{
		ID:        familyID,
		UserID:    fields["uid"],
		Role:      fields["role"],
		RefreshID: fields["jti"],
		IP:        fields["ip"],
		UserAgent: fields["ua"],
		CreatedAt: time.Unix(created, 0),
	}
}
