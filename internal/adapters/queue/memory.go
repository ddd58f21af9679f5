// Package queue implements core.WorkQueue.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

type Options struct {
	Concurrency  int
	BatchSize    int
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
	return o
}

// MemoryQueue keeps pending payloads per key in process memory.
type MemoryQueue struct {
	opts Options

	mu      sync.Mutex
	pending map[string][][]byte
	busy    map[string]bool
	wake    chan struct{}
	idle    *sync.Cond
}

func NewMemoryQueue(opts Options) *MemoryQueue {
	q := &MemoryQueue{
		opts:    opts.withDefaults(),
		pending: make(map[string][][]byte),
		busy:    make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Push(_ context.Context, key string, payload []byte) error {
	q.mu.Lock()
	q.pending[key] = append(q.pending[key], payload)
	q.mu.Unlock()
	q.notify()
	return nil
}

func (q *MemoryQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// take claims the next batch of every idle key with pending work.
func (q *MemoryQueue) take() map[string][][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string][][]byte)
	for key, items := range q.pending {
		if q.busy[key] || len(items) == 0 {
			continue
		}
		n := min(len(items), q.opts.BatchSize)
		out[key] = items[:n:n]
		if n == len(items) {
			delete(q.pending, key)
		} else {
			q.pending[key] = items[n:]
		}
		q.busy[key] = true
	}
	return out
}

// release returns a failed batch to the head of its key.
func (q *MemoryQueue) release(key string, failed [][]byte) {
	q.mu.Lock()
	if failed != nil {
		q.pending[key] = append(failed, q.pending[key]...)
	}
	delete(q.busy, key)
	q.idle.Broadcast()
	q.mu.Unlock()
	q.notify()
}

func (q *MemoryQueue) Run(ctx context.Context, h core.BatchHandler) error {
	logger := log.With().Str("module", "queue.memory").Logger()
	p := pool.New().WithMaxGoroutines(q.opts.Concurrency)
	defer p.Wait()

	for {
		batches := q.take()
		keys := make([]string, 0, len(batches))
		for k := range batches {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			key, batch := key, batches[key]
			p.Go(func() {
				if err := h(ctx, key, batch); err != nil {
					logger.Warn().Err(err).Str("key", key).Int("size", len(batch)).Msg("batch failed, will retry")
					select {
					case <-ctx.Done():
					case <-time.After(q.opts.RetryBackoff):
					}
					q.release(key, batch)
					return
				}
				q.release(key, nil)
			})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// WaitIdle blocks until nothing is pending or in flight.
func (q *MemoryQueue) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.idle.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 || len(q.busy) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.idle.Wait()
	}
	return nil
}
