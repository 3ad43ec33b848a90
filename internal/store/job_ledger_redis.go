package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultRedisKeyPrefix = "skytrust:jobs"

// Each job lives in a hash; its position is tracked in exactly one of the
// pending list, the delayed set (score = not-before ms), the processing set
// (score = lease expiry ms) or the finished set (score = updated ms).
// Every transition is a single Lua script so it is atomic on the server.

// enqueueScript resets the job hash and appends the id to the pending list.
// KEYS: job, pending, delayed, processing, finished
// ARGV: [1]=id [2]=identity [3]=handle [4]=force [5]=now_ms
var enqueueScript = goredis.NewScript(`
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
	'identity', ARGV[2], 'handle', ARGV[3], 'force', ARGV[4],
	'state', 'pending', 'attempts', 0,
	'createdAt', ARGV[5], 'updatedAt', ARGV[5])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// claimScript promotes delayed jobs whose backoff has elapsed, then pops the
// head of the pending list and leases it.
// KEYS: pending, delayed, processing
// ARGV: [1]=now_ms [2]=lease_ms [3]=job key prefix
var claimScript = goredis.NewScript(`
local ready = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(ready) do
	redis.call('RPUSH', KEYS[1], id)
end
if #ready > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
end

local id = redis.call('LPOP', KEYS[1])
if not id then
	return false
end

local key = ARGV[3] .. id
local lease = string.format('%.0f', tonumber(ARGV[1]) + tonumber(ARGV[2]))
redis.call('HSET', key, 'state', 'processing', 'leaseExpiresAt', lease, 'updatedAt', ARGV[1])
redis.call('HDEL', key, 'notBefore')
redis.call('HINCRBY', key, 'attempts', 1)
redis.call('ZADD', KEYS[3], lease, id)

local out = redis.call('HGETALL', key)
table.insert(out, 'id')
table.insert(out, id)
return out
`)

// markDoneScript records the job as done from any state.
// KEYS: job, pending, delayed, processing, finished
// ARGV: [1]=id [2]=now_ms
var markDoneScript = goredis.NewScript(`
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'identity', '', 'attempts', 0, 'createdAt', ARGV[2])
end
redis.call('HSET', KEYS[1], 'state', 'done', 'updatedAt', ARGV[2])
redis.call('HDEL', KEYS[1], 'leaseExpiresAt', 'notBefore')
redis.call('ZADD', KEYS[5], ARGV[2], ARGV[1])
return 1
`)

// failScript requeues a processing job with exponential backoff, or marks it
// failed once it has used all its attempts. A non-zero expected attempt must
// match the job's attempts; with lease_expired set the lease must have run
// out by now_ms.
// Returns -1 unknown job, 0 unchanged, 1 requeued, 2 failed.
// KEYS: job, delayed, processing, finished
// ARGV: [1]=id [2]=reason [3]=now_ms [4]=max_attempts [5]=backoff_base_ms
//       [6]=expected_attempt [7]=lease_expired (0|1)
var failScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'state') ~= 'processing' then
	return 0
end

local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts')) or 0
local expected = tonumber(ARGV[6])
if expected ~= 0 and attempts ~= expected then
	return 0
end
if ARGV[7] == '1' then
	local lease = tonumber(redis.call('HGET', KEYS[1], 'leaseExpiresAt'))
	if not lease or lease > tonumber(ARGV[3]) then
		return 0
	end
end

redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[1], 'leaseExpiresAt')
redis.call('HSET', KEYS[1], 'lastError', ARGV[2], 'updatedAt', ARGV[3])

if attempts >= tonumber(ARGV[4]) then
	redis.call('HSET', KEYS[1], 'state', 'failed')
	redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
	return 2
end

local n = attempts
if n < 1 then n = 1 end
if n > 16 then n = 16 end
local not_before = string.format('%.0f', tonumber(ARGV[3]) + tonumber(ARGV[5]) * (2 ^ (n - 1)))
redis.call('HSET', KEYS[1], 'state', 'pending', 'notBefore', not_before)
redis.call('ZADD', KEYS[2], not_before, ARGV[1])
return 1
`)

// pruneScript deletes finished jobs last updated before the cutoff.
// KEYS: finished
// ARGV: [1]=cutoff_ms [2]=job key prefix
var pruneScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[2] .. id)
end
if #ids > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
end
return #ids
`)

// RedisJobLedger keeps the ledger in Redis so that separate worker
// processes and server replicas share one queue.
type RedisJobLedger struct {
	rdb    goredis.UniversalClient
	prefix string
	opts   LedgerOptions
}

func NewRedisJobLedger(rdb goredis.UniversalClient, prefix string, opts LedgerOptions) *RedisJobLedger {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisJobLedger{rdb: rdb, prefix: prefix, opts: opts.withDefaults()}
}

func (s *RedisJobLedger) jobKeyPrefix() string { return s.prefix + ":job:" }
func (s *RedisJobLedger) jobKey(id string) string { return s.jobKeyPrefix() + id }
func (s *RedisJobLedger) pendingKey() string { return s.prefix + ":pending" }
func (s *RedisJobLedger) delayedKey() string { return s.prefix + ":delayed" }
func (s *RedisJobLedger) processingKey() string { return s.prefix + ":processing" }
func (s *RedisJobLedger) finishedKey() string { return s.prefix + ":finished" }

func (s *RedisJobLedger) nowMs() int64 {
	return s.opts.Clock.Now().UnixMilli()
}

func (s *RedisJobLedger) Enqueue(ctx context.Context, job domain.Job) error {
	keys := []string{s.jobKey(job.ID), s.pendingKey(), s.delayedKey(), s.processingKey(), s.finishedKey()}
	err := enqueueScript.Run(ctx, s.rdb, keys,
		job.ID, job.Identity, job.Handle, strconv.FormatBool(job.Force), s.nowMs(),
	).Err()
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *RedisJobLedger) ClaimNext(ctx context.Context) (*domain.Job, error) {
	keys := []string{s.pendingKey(), s.delayedKey(), s.processingKey()}
	res, err := claimScript.Run(ctx, s.rdb, keys,
		s.nowMs(), s.opts.LeaseTTL.Milliseconds(), s.jobKeyPrefix(),
	).Slice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return parseJobHash(fields["id"], fields)
}

func (s *RedisJobLedger) MarkDone(ctx context.Context, id string) error {
	keys := []string{s.jobKey(id), s.pendingKey(), s.delayedKey(), s.processingKey(), s.finishedKey()}
	if err := markDoneScript.Run(ctx, s.rdb, keys, id, s.nowMs()).Err(); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	return nil
}

func (s *RedisJobLedger) Fail(ctx context.Context, id string, attempt int, reason string) error {
	_, err := s.fail(ctx, id, attempt, reason, false)
	return err
}

func (s *RedisJobLedger) fail(ctx context.Context, id string, attempt int, reason string, leaseExpired bool) (int64, error) {
	expired := 0
	if leaseExpired {
		expired = 1
	}
	keys := []string{s.jobKey(id), s.delayedKey(), s.processingKey(), s.finishedKey()}
	res, err := failScript.Run(ctx, s.rdb, keys,
		id, reason, s.nowMs(), s.opts.MaxAttempts, s.opts.RetryBackoff.Milliseconds(), attempt, expired,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("fail job: %w", err)
	}
	if res < 0 {
		return res, ErrNotFound
	}
	return res, nil
}

func (s *RedisJobLedger) Status(ctx context.Context, id string) (domain.JobState, bool, error) {
	state, err := s.rdb.HGet(ctx, s.jobKey(id), "state").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return domain.JobState(state), true, nil
}

func (s *RedisJobLedger) Get(ctx context.Context, id string) (*domain.Job, error) {
	fields, err := s.rdb.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseJobHash(id, fields)
}

func (s *RedisJobLedger) ReclaimExpired(ctx context.Context) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.processingKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(s.nowMs(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, id := range ids {
		res, err := s.fail(ctx, id, domain.AnyAttempt, "lease expired", true)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.rdb.ZRem(ctx, s.processingKey(), id)
				continue
			}
			return reclaimed, err
		}
		if res > 0 {
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (s *RedisJobLedger) PruneFinished(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := pruneScript.Run(ctx, s.rdb, []string{s.finishedKey()},
		cutoff.UnixMilli(), s.jobKeyPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return n, nil
}

func parseJobHash(id string, f map[string]string) (*domain.Job, error) {
	j := &domain.Job{
		ID:        id,
		Identity:  f["identity"],
		Handle:    f["handle"],
		State:     domain.JobState(f["state"]),
		LastError: f["lastError"],
	}
	j.Force, _ = strconv.ParseBool(f["force"])

	var err error
	if v := f["attempts"]; v != "" {
		if j.Attempts, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parse attempts for job %s: %w", id, err)
		}
	}
	if j.CreatedAt, err = parseMs(f["createdAt"]); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseMs(f["updatedAt"]); err != nil {
		return nil, err
	}
	if v := f["leaseExpiresAt"]; v != "" {
		t, err := parseMs(v)
		if err != nil {
			return nil, err
		}
		j.LeaseExpiresAt = &t
	}
	if v := f["notBefore"]; v != "" {
		t, err := parseMs(v)
		if err != nil {
			return nil, err
		}
		j.NotBefore = &t
	}
	return j, nil
}

func parseMs(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
