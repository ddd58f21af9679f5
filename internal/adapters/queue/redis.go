package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	redisKeysSet    = "vm:q:keys"
	redisListPrefix = "vm:q:list:"
	redisLockPrefix = "vm:q:lock:"
)

// releaseLock deletes a lease only when it is still held by the caller.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendLock pushes a lease expiry forward only when it is still held by the caller.
var extendLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// trimOwned acks the head of a list only while the caller still holds the key's lease.
var trimOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("LTRIM", KEYS[2], ARGV[2], -1)
	return 1
end
return 0`)

var errLeaseLost = errors.New("queue lease lost")

// RedisQueue stores payloads in one list per key. Consumers on any number of
// processes take a lease on a key before handling its head batch.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	owner  string
	lease  time.Duration
	poll   time.Duration
}

func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	return &RedisQueue{
		client: client,
		opts:   opts.withDefaults(),
		owner:  uuid.NewString(),
		lease:  30 * time.Second,
		poll:   50 * time.Millisecond,
	}
}

func (q *RedisQueue) Push(ctx context.Context, key string, payload []byte) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, redisListPrefix+key, payload)
		pipe.SAdd(ctx, redisKeysSet, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push to %s: %w", key, err)
	}
	return nil
}

func (q *RedisQueue) Run(ctx context.Context, h core.BatchHandler) error {
	logger := log.With().Str("module", "queue.redis").Str("owner", q.owner).Logger()
	p := pool.New().WithMaxGoroutines(q.opts.Concurrency)
	defer p.Wait()

	var mu sync.Mutex
	local := make(map[string]bool)
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		keys, err := q.client.SMembers(ctx, redisKeysSet).Result()
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("failed to read queue keys")
		}
		sort.Strings(keys)
		for _, key := range keys {
			mu.Lock()
			running := local[key]
			mu.Unlock()
			if running {
				continue
			}
			ok, err := q.client.SetNX(ctx, redisLockPrefix+key, q.owner, q.lease).Result()
			if err != nil || !ok {
				continue
			}
			mu.Lock()
			local[key] = true
			mu.Unlock()

			key := key
			p.Go(func() {
				defer func() {
					if err := releaseLock.Run(context.Background(), q.client, []string{redisLockPrefix + key}, q.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
						logger.Warn().Err(err).Str("key", key).Msg("failed to release lease")
					}
					mu.Lock()
					delete(local, key)
					mu.Unlock()
				}()
				if err := q.handle(ctx, key, h); err != nil {
					logger.Warn().Err(err).Str("key", key).Msg("batch failed, will retry")
					select {
					case <-ctx.Done():
					case <-time.After(q.opts.RetryBackoff):
					}
				}
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// handle delivers the head batch of key and trims it once h succeeded. The lease
// is renewed while h runs; if another consumer takes the key over, h's context is
// cancelled and the batch stays queued for the new owner.
func (q *RedisQueue) handle(ctx context.Context, key string, h core.BatchHandler) error {
	list := redisListPrefix + key
	lock := redisLockPrefix + key
	raw, err := q.client.LRange(ctx, list, 0, int64(q.opts.BatchSize-1)).Result()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return q.forget(ctx, key)
	}
	batch := make([][]byte, len(raw))
	for i, s := range raw {
		batch[i] = []byte(s)
	}

	hctx, cancel := context.WithCancel(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		q.renew(hctx, key, cancel)
	}()
	err = h(hctx, key, batch)
	cancel()
	<-renewed
	if err != nil {
		return err
	}

	n, err := trimOwned.Run(ctx, q.client, []string{lock, list}, q.owner, len(raw)).Int()
	if err != nil {
		return fmt.Errorf("failed to ack %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", errLeaseLost, key)
	}
	return nil
}

// renew keeps the lease on key alive until ctx is done. It calls lost when the
// lease is no longer ours.
func (q *RedisQueue) renew(ctx context.Context, key string, lost context.CancelFunc) {
	t := time.NewTicker(q.lease / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n, err := extendLock.Run(ctx, q.client, []string{redisLockPrefix + key}, q.owner, q.lease.Milliseconds()).Int()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Str("module", "queue.redis").Err(err).Str("key", key).Msg("failed to renew lease")
			continue
		}
		if n == 0 {
			log.Warn().Str("module", "queue.redis").Str("key", key).Msg("lease lost while handling")
			lost()
			return
		}
	}
}

// forget drops key from the key set unless a push raced in.
func (q *RedisQueue) forget(ctx context.Context, key string) error {
	list := redisListPrefix + key
	return q.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, list).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, redisKeysSet, key)
			return nil
		})
		if errors.Is(err, redis.TxFailedErr) {
			return nil
		}
		return err
	}, list)
}

// Pending reports how many payloads are queued under key.
func (q *RedisQueue) Pending(ctx context.Context, key string) (int64, error) {
	return q.client.LLen(ctx, redisListPrefix+key).Result()
}
