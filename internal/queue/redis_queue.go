/**
 * @description
 * Redis-backed implementation of the job queue. Each kind gets a waiting
 * list (LPUSH/BRPOP), a delayed sorted set scored by due time, and plain
 * counters for active, completed, and failed jobs. Delayed jobs are promoted
 * onto the waiting list by a Lua script so promotion is atomic across
 * competing worker processes.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and Lua script support.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteDelayedScript moves due jobs from the delayed zset onto the waiting
// list in one atomic step. KEYS[1]=delayed zset, KEYS[2]=waiting list,
// ARGV[1]=now (unix ms), ARGV[2]=batch limit.
var promoteDelayedScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, job in ipairs(due) do
  redis.call("LPUSH", KEYS[2], job)
  redis.call("ZREM", KEYS[1], job)
end
return #due
`)

const promoteBatchLimit = 128

// RedisQueue implements Queue on a shared Redis instance so the API and
// worker processes enqueue and claim from the same broker.
type RedisQueue struct {
	client redis.UniversalClient
	prefix string

	mu        sync.Mutex
	consumers map[Kind]bool
	closed    bool
	done      chan struct{}
}

// NewRedisQueue creates a queue over an existing Redis client. The prefix
// namespaces all queue keys (e.g. "gateway:jobs").
func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "gateway:jobs"
	}
	return &RedisQueue{
		client:    client,
		prefix:    trimmed,
		consumers: make(map[Kind]bool),
		done:      make(chan struct{}),
	}
}

func (q *RedisQueue) key(kind Kind, suffix string) string {
	return fmt.Sprintf("%s:%s:%s", q.prefix, kind, suffix)
}

// Enqueue pushes an immediately-runnable job and returns its id.
func (q *RedisQueue) Enqueue(ctx context.Context, kind Kind, payload interface{}) (string, error) {
	job, err := NewJob(kind, payload)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key(kind, "waiting"), body).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return job.ID, nil
}

// EnqueueDelayed schedules a job to become runnable after the given delay.
// A non-positive delay behaves like Enqueue.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, kind Kind, payload interface{}, delay time.Duration) (string, error) {
	if delay <= 0 {
		return q.Enqueue(ctx, kind, payload)
	}
	job, err := NewJob(kind, payload)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	member := redis.Z{Score: due, Member: body}
	if err := q.client.ZAdd(ctx, q.key(kind, "delayed"), member).Err(); err != nil {
		return "", fmt.Errorf("enqueue delayed %s: %w", kind, err)
	}
	return job.ID, nil
}

// Consume registers the consumer for a kind and starts its dispatch loop.
// Only one logical consumer per kind is allowed per queue handle.
func (q *RedisQueue) Consume(ctx context.Context, kind Kind, handler Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown queue kind: %s", kind)
	}
	if handler == nil {
		return errors.New("nil handler")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("queue closed")
	}
	if q.consumers[kind] {
		q.mu.Unlock()
		return fmt.Errorf("consumer already registered for %s", kind)
	}
	q.consumers[kind] = true
	q.mu.Unlock()

	go q.consumeLoop(ctx, kind, handler)
	return nil
}

func (q *RedisQueue) consumeLoop(ctx context.Context, kind Kind, handler Handler) {
	waiting := q.key(kind, "waiting")
	delayed := q.key(kind, "delayed")

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		default:
		}

		if err := q.promoteDue(ctx, delayed, waiting); err != nil && ctx.Err() == nil {
			log.Printf("level=error component=queue kind=%s msg=\"delayed promotion failed\" err=%v", kind, err)
		}

		res, err := q.client.BRPop(ctx, time.Second, waiting).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Printf("level=error component=queue kind=%s msg=\"claim failed\" err=%v", kind, err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Printf("level=error component=queue kind=%s msg=\"malformed job dropped\" err=%v", kind, err)
			q.client.Incr(context.Background(), q.key(kind, "failed"))
			continue
		}
		job.Attempts++

		q.client.Incr(context.Background(), q.key(kind, "active"))
		handlerErr := runHandler(ctx, handler, &job)
		q.client.Decr(context.Background(), q.key(kind, "active"))

		if handlerErr != nil {
			log.Printf("level=error component=queue kind=%s job_id=%s msg=\"job failed\" err=%v", kind, job.ID, handlerErr)
			q.client.Incr(context.Background(), q.key(kind, "failed"))
		} else {
			q.client.Incr(context.Background(), q.key(kind, "completed"))
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context, delayed, waiting string) error {
	now := time.Now().UnixMilli()
	return promoteDelayedScript.Run(ctx, q.client, []string{delayed, waiting}, now, promoteBatchLimit).Err()
}

// Stats aggregates counts across all kinds: pending = waiting + delayed,
// processing = active claims.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, kind := range Kinds() {
		waiting, err := q.client.LLen(ctx, q.key(kind, "waiting")).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("stats %s: %w", kind, err)
		}
		delayed, err := q.client.ZCard(ctx, q.key(kind, "delayed")).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("stats %s: %w", kind, err)
		}
		stats.Pending += waiting + delayed

		for _, counter := range []struct {
			suffix string
			dest   *int64
		}{
			{"active", &stats.Processing},
			{"completed", &stats.Completed},
			{"failed", &stats.Failed},
		} {
			val, err := q.client.Get(ctx, q.key(kind, counter.suffix)).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return Stats{}, fmt.Errorf("stats %s: %w", kind, err)
			}
			*counter.dest += val
		}
	}
	return stats, nil
}

// Close stops all consumer loops. The underlying Redis client is owned by
// the caller and is not closed here.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}
