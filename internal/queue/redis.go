package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultRedisKeyPrefix keeps every queue key in one cluster hash slot so the
// Lua scripts may touch job hashes they derive at runtime.
const DefaultRedisKeyPrefix = "{event-reminders}:"

// RedisBackend stores jobs in Redis.
//
// Data layout under the prefix:
//   - due     sorted set, score = NotBefore (unix ms), member = job key
//   - active  sorted set, score = lease start (unix ms), member = job key
//   - failed  sorted set, score = failure time (unix ms), member = job key
//   - job:<key> hash with the mutable fields (gen, status, attempt, ...) and
//     a msgpack "spec" blob holding the payload and retry options.
//
// Every state transition is a single Lua script, so a job is in at most one
// of the sorted sets at any instant.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend creates a backend. An empty prefix uses
// DefaultRedisKeyPrefix.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// jobSpec is the per-generation immutable part of a job.
type jobSpec struct {
	Payload     []byte    `msgpack:"payload"`
	MaxAttempts int       `msgpack:"max_attempts"`
	Backoff     Backoff   `msgpack:"backoff"`
	CreatedAt   time.Time `msgpack:"created_at"`
}

func (b *RedisBackend) dueKey() string    { return b.prefix + "due" }
func (b *RedisBackend) activeKey() string { return b.prefix + "active" }
func (b *RedisBackend) failedKey() string { return b.prefix + "failed" }
func (b *RedisBackend) jobPrefix() string { return b.prefix + "job:" }
func (b *RedisBackend) jobKey(key string) string {
	return b.jobPrefix() + key
}

// KEYS: job hash, due, active, failed
// ARGV: key, spec, not_before ms, now ms
var upsertScript = redis.NewScript(`
local created = redis.call('HGET', KEYS[1], 'created_at')
local gen = redis.call('HINCRBY', KEYS[1], 'gen', 1)
redis.call('HDEL', KEYS[1], 'locked_by', 'locked_at', 'last_error')
redis.call('HSET', KEYS[1],
  'spec', ARGV[2],
  'status', 'scheduled',
  'attempt', '0',
  'not_before', ARGV[3],
  'created_at', created or ARGV[4],
  'updated_at', ARGV[4])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return gen
`)

// KEYS: job hash, due, active, failed
// ARGV: key
var removeScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
return redis.call('DEL', KEYS[1])
`)

// KEYS: due, active
// ARGV: now ms, lease expired before ms, owner, job hash prefix
//
// Stale leases are reclaimed before fresh due jobs. Members whose hash has
// vanished are dropped and the scan continues.
var claimScript = redis.NewScript(`
for i = 1, 16 do
  local key = nil
  local from = nil
  local stale = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '(' .. ARGV[2], 'LIMIT', 0, 1)
  if #stale > 0 then
    key = stale[1]
    from = KEYS[2]
  else
    local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
    if #due == 0 then
      return false
    end
    key = due[1]
    from = KEYS[1]
  end
  redis.call('ZREM', from, key)
  local h = ARGV[4] .. key
  if redis.call('EXISTS', h) == 1 then
    redis.call('ZADD', KEYS[2], ARGV[1], key)
    redis.call('HSET', h, 'status', 'running', 'locked_by', ARGV[3], 'locked_at', ARGV[1], 'updated_at', ARGV[1])
    local fields = redis.call('HGETALL', h)
    table.insert(fields, 1, key)
    return fields
  end
end
return false
`)

// fenceCheck is shared by complete, retry and bury.
// KEYS[1] job hash; ARGV[2] generation; ARGV[3] owner
const fenceCheck = `
if redis.call('HGET', KEYS[1], 'gen') ~= ARGV[2]
  or redis.call('HGET', KEYS[1], 'status') ~= 'running'
  or redis.call('HGET', KEYS[1], 'locked_by') ~= ARGV[3] then
  return 0
end
`

// KEYS: job hash, active
// ARGV: key, gen, owner
var completeScript = redis.NewScript(fenceCheck + `
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS: job hash, active, due
// ARGV: key, gen, owner, run at ms, attempt, reason, now ms
var retryScript = redis.NewScript(fenceCheck + `
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
redis.call('HDEL', KEYS[1], 'locked_by', 'locked_at')
redis.call('HSET', KEYS[1], 'status', 'scheduled', 'attempt', ARGV[5], 'not_before', ARGV[4], 'last_error', ARGV[6], 'updated_at', ARGV[7])
return 1
`)

// KEYS: job hash, active, failed
// ARGV: key, gen, owner, attempt, reason, now ms
var buryScript = redis.NewScript(fenceCheck + `
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
redis.call('HDEL', KEYS[1], 'locked_by', 'locked_at')
redis.call('HSET', KEYS[1], 'status', 'failed', 'attempt', ARGV[4], 'last_error', ARGV[5], 'updated_at', ARGV[6])
return 1
`)

func (b *RedisBackend) Upsert(ctx context.Context, job *Job) error {
	spec, err := msgpack.Marshal(jobSpec{
		Payload:     job.Payload,
		MaxAttempts: job.MaxAttempts,
		Backoff:     job.Backoff,
		CreatedAt:   job.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode job spec: %w", err)
	}

	gen, err := upsertScript.Run(ctx, b.client,
		[]string{b.jobKey(job.Key), b.dueKey(), b.activeKey(), b.failedKey()},
		job.Key, spec, job.NotBefore.UnixMilli(), job.UpdatedAt.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis upsert: %w", err)
	}
	job.Generation = gen
	return nil
}

func (b *RedisBackend) Remove(ctx context.Context, key string) (bool, error) {
	n, err := removeScript.Run(ctx, b.client,
		[]string{b.jobKey(key), b.dueKey(), b.activeKey(), b.failedKey()},
		key,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis remove: %w", err)
	}
	return n > 0, nil
}

func (b *RedisBackend) Claim(ctx context.Context, owner string, now, leaseExpiredBefore time.Time) (*Job, error) {
	res, err := claimScript.Run(ctx, b.client,
		[]string{b.dueKey(), b.activeKey()},
		now.UnixMilli(), leaseExpiredBefore.UnixMilli(), owner, b.jobPrefix(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("redis claim: %w", err)
	}
	if len(res) == 0 {
		return nil, ErrNoJob
	}

	fields := make(map[string]string, len(res)/2)
	for i := 1; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decodeJob(res[0], fields)
}

func (b *RedisBackend) Complete(ctx context.Context, job *Job) error {
	return b.fenced(ctx, "complete", completeScript,
		[]string{b.jobKey(job.Key), b.activeKey()},
		job.Key, job.Generation, job.LockedBy,
	)
}

func (b *RedisBackend) Retry(ctx context.Context, job *Job, now, runAt time.Time, reason string) error {
	return b.fenced(ctx, "retry", retryScript,
		[]string{b.jobKey(job.Key), b.activeKey(), b.dueKey()},
		job.Key, job.Generation, job.LockedBy, runAt.UnixMilli(), job.Attempt+1, reason, now.UnixMilli(),
	)
}

func (b *RedisBackend) Bury(ctx context.Context, job *Job, now time.Time, reason string) error {
	return b.fenced(ctx, "bury", buryScript,
		[]string{b.jobKey(job.Key), b.activeKey(), b.failedKey()},
		job.Key, job.Generation, job.LockedBy, job.Attempt+1, reason, now.UnixMilli(),
	)
}

func (b *RedisBackend) fenced(ctx context.Context, op string, script *redis.Script, keys []string, args ...any) error {
	n, err := script.Run(ctx, b.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	if n == 0 {
		return ErrStaleJob
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) (*Job, error) {
	fields, err := b.client.HGetAll(ctx, b.jobKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return decodeJob(key, fields)
}

// FailedKeys returns up to limit keys of buried jobs, oldest first.
func (b *RedisBackend) FailedKeys(ctx context.Context, limit int64) ([]string, error) {
	keys, err := b.client.ZRange(ctx, b.failedKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis failed keys: %w", err)
	}
	return keys, nil
}

func decodeJob(key string, fields map[string]string) (*Job, error) {
	var spec jobSpec
	if raw, ok := fields["spec"]; ok {
		if err := msgpack.Unmarshal([]byte(raw), &spec); err != nil {
			return nil, fmt.Errorf("decode job spec %s: %w", key, err)
		}
	}

	j := &Job{
		Key:         key,
		Payload:     spec.Payload,
		MaxAttempts: spec.MaxAttempts,
		Backoff:     spec.Backoff,
		CreatedAt:   spec.CreatedAt,
		Status:      Status(fields["status"]),
		LockedBy:    fields["locked_by"],
		LastError:   fields["last_error"],
	}
	j.Generation, _ = strconv.ParseInt(fields["gen"], 10, 64)
	j.Attempt, _ = strconv.Atoi(fields["attempt"])
	j.NotBefore = msToTime(fields["not_before"])
	j.LockedAt = msToTime(fields["locked_at"])
	j.UpdatedAt = msToTime(fields["updated_at"])
	if ct := msToTime(fields["created_at"]); !ct.IsZero() {
		j.CreatedAt = ct
	}
	return j, nil
}

func msToTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ Backend = (*RedisBackend)(nil)
