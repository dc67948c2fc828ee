package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// popScript moves due delayed and expired reserved jobs back onto the list,
// pops the head, bumps its attempts and records the reservation. The
// reservation expires after max(min lease, payload timeout + grace).
//
// KEYS[1] list, KEYS[2] delayed zset, KEYS[3] reserved zset
// ARGV[1] now (unix), ARGV[2] min lease (seconds), ARGV[3] grace (seconds)
var popScript = redis.NewScript(`
local function migrate(from, to, now)
	local due = redis.call('zrangebyscore', from, '-inf', now)
	if #due > 0 then
		redis.call('zremrangebyrank', from, 0, #due - 1)
		for i = 1, #due, 100 do
			redis.call('rpush', to, unpack(due, i, math.min(i + 99, #due)))
		end
	end
end

migrate(KEYS[2], KEYS[1], ARGV[1])
migrate(KEYS[3], KEYS[1], ARGV[1])

local job = redis.call('lpop', KEYS[1])
if not job then
	return false
end

local decoded = cjson.decode(job)
decoded['attempts'] = (decoded['attempts'] or 0) + 1
local lease = math.max(tonumber(ARGV[2]), (tonumber(decoded['timeout']) or 0) + tonumber(ARGV[3]))
local reserved = cjson.encode(decoded)
redis.call('zadd', KEYS[3], tonumber(ARGV[1]) + lease, reserved)
return reserved
`)

// RedisBackend keeps jobs in Redis lists under queues:<name>.
type RedisBackend struct {
	client     redis.UniversalClient
	retryAfter time.Duration
	now        func() time.Time
}

// NewRedisBackend creates a Redis backend.
func NewRedisBackend(client redis.UniversalClient, retryAfter time.Duration) *RedisBackend {
	if retryAfter <= 0 {
		retryAfter = 90 * time.Second
	}
	return &RedisBackend{client: client, retryAfter: retryAfter, now: time.Now}
}

const queueSetKey = "queues"

func listKey(queue string) string     { return "queues:" + queue }
func delayedKey(queue string) string  { return "queues:" + queue + ":delayed" }
func reservedKey(queue string) string { return "queues:" + queue + ":reserved" }

// Name implements Backend.
func (b *RedisBackend) Name() string {
	return BackendRedis
}

// Push implements Backend.
func (b *RedisBackend) Push(ctx context.Context, queue string, payload []byte, delay time.Duration) (string, error) {
	id := payloadUUID(payload)

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, queueSetKey, queue)
		if delay > 0 {
			pipe.ZAdd(ctx, delayedKey(queue), redis.Z{
				Score:  float64(b.now().Add(delay).Unix()),
				Member: string(payload),
			})
			return nil
		}
		pipe.RPush(ctx, listKey(queue), string(payload))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("push job: %w", err)
	}
	return id, nil
}

// Pop implements Backend.
func (b *RedisBackend) Pop(ctx context.Context, queue string) (*models.QueuedJob, error) {
	now := b.now()
	keys := []string{listKey(queue), delayedKey(queue), reservedKey(queue)}
	res, err := popScript.Run(ctx, b.client, keys, now.Unix(), int64(b.retryAfter/time.Second), int64(LeaseGrace/time.Second)).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop job: %w", err)
	}

	job := jobFromPayload(queue, []byte(res))
	job.ReservedAt = &now
	job.Reservation = res
	return job, nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, job *models.QueuedJob) error {
	if err := b.client.ZRem(ctx, reservedKey(job.Queue), job.Reservation).Err(); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// Release implements Backend.
func (b *RedisBackend) Release(ctx context.Context, job *models.QueuedJob, delay time.Duration) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, reservedKey(job.Queue), job.Reservation)
		pipe.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
			Score:  float64(b.now().Add(delay).Unix()),
			Member: job.Reservation,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

// Sizes implements Backend. Only jobs waiting in the list are counted.
func (b *RedisBackend) Sizes(ctx context.Context) (map[string]int64, error) {
	names, err := b.queueNames(ctx)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int64, len(names))
	for _, name := range names {
		n, err := b.client.LLen(ctx, listKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("queue length %s: %w", name, err)
		}
		sizes[name] = n
	}
	return sizes, nil
}

// List implements Backend.
func (b *RedisBackend) List(ctx context.Context, limit int) ([]*models.QueuedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	names, err := b.queueNames(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []*models.QueuedJob
	for _, name := range names {
		remaining := limit - len(jobs)
		if remaining <= 0 {
			break
		}
		items, err := b.client.LRange(ctx, listKey(name), 0, int64(remaining-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("list queue %s: %w", name, err)
		}
		for _, item := range items {
			jobs = append(jobs, jobFromPayload(name, []byte(item)))
		}
	}
	return jobs, nil
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, id string) (*models.QueuedJob, error) {
	names, err := b.queueNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		items, err := b.client.LRange(ctx, listKey(name), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list queue %s: %w", name, err)
		}
		for _, item := range items {
			if payloadUUID([]byte(item)) == id {
				return jobFromPayload(name, []byte(item)), nil
			}
		}
	}
	return nil, nil
}

// Remove implements Backend. Removing individual jobs from a Redis list is
// not supported; the worker will process them.
func (b *RedisBackend) Remove(ctx context.Context, id string) (bool, error) {
	return false, nil
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) queueNames(ctx context.Context) ([]string, error) {
	names, err := b.client.SMembers(ctx, queueSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list queue names: %w", err)
	}
	if len(names) == 0 {
		return []string{"default"}, nil
	}
	sort.Strings(names)
	return names, nil
}

func payloadUUID(raw []byte) string {
	var p struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	return p.UUID
}

func jobFromPayload(queue string, raw []byte) *models.QueuedJob {
	var p Payload
	_ = json.Unmarshal(raw, &p)

	pushed := time.Unix(p.PushedAt, 0)
	return &models.QueuedJob{
		ID:          p.UUID,
		Queue:       queue,
		Payload:     append([]byte(nil), raw...),
		Attempts:    p.Attempts,
		AvailableAt: pushed,
		CreatedAt:   pushed,
		DisplayName: DisplayName(raw),
	}
}
