package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/go-redis/redis/v8"
)

const (
	redisValuePrefix   = "vm:kv:"
	redisDirPrefix     = "vm:dir:"
	redisCounterPrefix = "vm:ctr:"
)

// RedisStore keeps every (dir, key) in its own string key plus a set per dir
// listing its keys. Transactions WATCH every key they read and commit with MULTI/EXEC.
type RedisStore struct {
	client     *redis.Client
	maxRetries int
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, maxRetries: DefaultMaxRetries}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, maxRetries: DefaultMaxRetries}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func valueKey(dir, key string) string   { return redisValuePrefix + dir + "|" + key }
func dirKey(dir string) string          { return redisDirPrefix + dir }
func counterKey(dir, key string) string { return redisCounterPrefix + dir + "|" + key }

func (s *RedisStore) Transact(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	return retry(ctx, s.maxRetries, nil, func(ctx context.Context) error {
		var committed *redisTx
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{overlay: newOverlay(), rtx: rtx, watched: make(map[string]bool)}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			if err := tx.flush(ctx); err != nil {
				return err
			}
			committed = tx
			return nil
		})
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: %v", core.ErrConflict, err)
		}
		if err != nil {
			return err
		}
		committed.runHooks(ctx)
		return nil
	})
}

type redisTx struct {
	*overlay
	rtx     *redis.Tx
	watched map[string]bool
}

func (t *redisTx) watch(ctx context.Context, keys ...string) error {
	var fresh []string
	for _, k := range keys {
		if !t.watched[k] {
			t.watched[k] = true
			fresh = append(fresh, k)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := t.rtx.Watch(ctx, fresh...).Err(); err != nil {
		return fmt.Errorf("failed to watch keys: %w", err)
	}
	return nil
}

func (t *redisTx) Get(ctx context.Context, dir, key string) ([]byte, bool, error) {
	if v, found, handled := t.lookup(dir, key); handled {
		return v, found, nil
	}
	k := valueKey(dir, key)
	if err := t.watch(ctx, k); err != nil {
		return nil, false, err
	}
	v, err := t.rtx.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", k, err)
	}
	return v, true, nil
}

func (t *redisTx) List(ctx context.Context, dir string) ([]core.Entry, error) {
	var base []core.Entry
	if !t.cleared[dir] {
		keys, err := t.members(ctx, dir)
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			full := make([]string, len(keys))
			for i, k := range keys {
				full[i] = valueKey(dir, k)
			}
			vals, err := t.rtx.MGet(ctx, full...).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", dir, err)
			}
			for i, v := range vals {
				s, ok := v.(string)
				if !ok {
					continue
				}
				base = append(base, core.Entry{Key: keys[i], Value: []byte(s)})
			}
			sortEntries(base)
		}
	}
	return t.merge(dir, base), nil
}

// members returns the keys of dir and watches the dir set.
func (t *redisTx) members(ctx context.Context, dir string) ([]string, error) {
	if err := t.watch(ctx, dirKey(dir)); err != nil {
		return nil, err
	}
	keys, err := t.rtx.SMembers(ctx, dirKey(dir)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dir %s: %w", dir, err)
	}
	return keys, nil
}

func (t *redisTx) Set(dir, key string, value []byte) { t.set(dir, key, value) }
func (t *redisTx) Clear(dir, key string)              { t.clear(dir, key) }
func (t *redisTx) ClearDir(dir string)                { t.clearDir(dir) }
func (t *redisTx) Add(dir, key string, delta int64)   { t.add(dir, key, delta) }

func (t *redisTx) Counter(ctx context.Context, dir, key string) (int64, error) {
	n, err := t.rtx.Get(ctx, counterKey(dir, key)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return n + t.delta(dir, key), nil
}

func (t *redisTx) WatchCounter(ctx context.Context, dir, key string) (int64, error) {
	if err := t.watch(ctx, counterKey(dir, key)); err != nil {
		return 0, err
	}
	return t.Counter(ctx, dir, key)
}

func (t *redisTx) AfterCommit(fn func(ctx context.Context)) { t.afterCommit(fn) }

// flush writes the overlay in one MULTI/EXEC. Keys of cleared dirs are
// resolved first so the dir set is watched as well.
func (t *redisTx) flush(ctx context.Context) error {
	if t.empty() {
		return nil
	}
	drop := make(map[string][]string, len(t.cleared))
	for _, dir := range sortedKeys(t.cleared) {
		keys, err := t.members(ctx, dir)
		if err != nil {
			return err
		}
		drop[dir] = keys
	}
	_, err := t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, dir := range sortedKeys(drop) {
			for _, k := range drop[dir] {
				pipe.Del(ctx, valueKey(dir, k))
			}
			pipe.Del(ctx, dirKey(dir))
		}
		for _, dir := range sortedKeys(t.writes) {
			for _, k := range sortedKeys(t.writes[dir]) {
				v := t.writes[dir][k]
				if v == nil {
					pipe.Del(ctx, valueKey(dir, k))
					pipe.SRem(ctx, dirKey(dir), k)
					continue
				}
				pipe.Set(ctx, valueKey(dir, k), v, 0)
				pipe.SAdd(ctx, dirKey(dir), k)
			}
		}
		for _, dir := range sortedKeys(t.deltas) {
			for _, k := range sortedKeys(t.deltas[dir]) {
				if d := t.deltas[dir][k]; d != 0 {
					pipe.IncrBy(ctx, counterKey(dir, k), d)
				}
			}
		}
		return nil
	})
	return err
}
