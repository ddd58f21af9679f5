package scalable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	outboxIndexDir = "outbox-index"
	outboxLeaseDir = "outbox-lease"

	defaultOutboxLease    = 10 * time.Second
	defaultOutboxInterval = 5 * time.Second
)

func outboxDir(queueKey string) string { return "outbox/" + queueKey }

type outboxLease struct {
	Owner string    `json:"owner"`
	Until time.Time `json:"until"`
}

// Outbox hands queue payloads over from store transactions to the work queue.
// Payloads are staged inside the transaction that produced them and pushed once it
// committed. An entry is only removed after the queue accepted it, so a failed push
// is retried by the next flush or sweep of its key. Entries of one key are pushed in
// staging order by a single flusher at a time.
type Outbox struct {
	store core.Store
	queue core.WorkQueue
	owner string

	lease    time.Duration
	interval time.Duration
	// minAge keeps Sweep off entries whose own flush may still be running.
	minAge time.Duration

	mu    sync.Mutex
	last  int64
	busy  map[string]bool
	dirty map[string]bool
}

func NewOutbox(store core.Store, queue core.WorkQueue) *Outbox {
	return &Outbox{
		store:    store,
		queue:    queue,
		owner:    uuid.NewString(),
		lease:    defaultOutboxLease,
		interval: defaultOutboxInterval,
		minAge:   time.Second,
		busy:     make(map[string]bool),
		dirty:    make(map[string]bool),
	}
}

// nextID orders entries by a clock that never repeats within this process.
func (o *Outbox) nextID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := max(time.Now().UnixNano(), o.last+1)
	o.last = n
	return fmt.Sprintf("%020d-%s", n, o.owner[:8])
}

// Stage records payload for key in tx and flushes key once tx committed.
func (o *Outbox) Stage(tx core.Tx, key string, payload []byte) {
	tx.Set(outboxDir(key), o.nextID(), payload)
	tx.Set(outboxIndexDir, key, []byte(key))
	tx.AfterCommit(func(ctx context.Context) {
		if err := o.Flush(ctx, key); err != nil {
			log.Warn().Str("module", "scalable.outbox").Str("key", key).Err(err).Msg("flush failed, left for sweep")
		}
	})
}

// Flush pushes the staged entries of key. A flush requested while another one of
// the same key runs here makes that one drain again.
func (o *Outbox) Flush(ctx context.Context, key string) error {
	o.mu.Lock()
	if o.busy[key] {
		o.dirty[key] = true
		o.mu.Unlock()
		return nil
	}
	o.busy[key] = true
	o.mu.Unlock()

	for {
		err := o.drain(ctx, key)
		o.mu.Lock()
		if err != nil || !o.dirty[key] {
			delete(o.busy, key)
			delete(o.dirty, key)
			o.mu.Unlock()
			return err
		}
		delete(o.dirty, key)
		o.mu.Unlock()
	}
}

func (o *Outbox) drain(ctx context.Context, key string) error {
	owned, err := o.claim(ctx, key)
	if err != nil || !owned {
		return err
	}
	defer o.release(context.WithoutCancel(ctx), key)

	for {
		entries, err := core.InTx(ctx, o.store, func(ctx context.Context, tx core.Tx) ([]core.Entry, error) {
			return tx.List(ctx, outboxDir(key))
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return o.forget(ctx, key)
		}

		pushed := 0
		var pushErr error
		for _, e := range entries {
			if pushErr = o.queue.Push(ctx, key, e.Value); pushErr != nil {
				break
			}
			pushed++
		}
		if pushed > 0 {
			err := o.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
				for _, e := range entries[:pushed] {
					tx.Clear(outboxDir(key), e.Key)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("ack %d outbox entries of %s: %w", pushed, key, err)
			}
		}
		if pushErr != nil {
			return fmt.Errorf("push %s: %w", key, pushErr)
		}
		if owned, err = o.claim(ctx, key); err != nil || !owned {
			return err
		}
	}
}

// claim takes or renews the store lease on key. It reports false while another
// process holds it.
func (o *Outbox) claim(ctx context.Context, key string) (bool, error) {
	return core.InTx(ctx, o.store, func(ctx context.Context, tx core.Tx) (bool, error) {
		l, err := getJSON[outboxLease](ctx, tx, outboxLeaseDir, key)
		if err != nil {
			return false, err
		}
		now := time.Now()
		if l != nil && l.Owner != o.owner && now.Before(l.Until) {
			return false, nil
		}
		return true, setJSON(tx, outboxLeaseDir, key, outboxLease{Owner: o.owner, Until: now.Add(o.lease)})
	})
}

func (o *Outbox) release(ctx context.Context, key string) {
	err := o.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		l, err := getJSON[outboxLease](ctx, tx, outboxLeaseDir, key)
		if err != nil {
			return err
		}
		if l != nil && l.Owner == o.owner {
			tx.Clear(outboxLeaseDir, key)
		}
		return nil
	})
	if err != nil {
		log.Warn().Str("module", "scalable.outbox").Str("key", key).Err(err).Msg("failed to release lease")
	}
}

// forget drops key from the index unless an entry was staged meanwhile.
func (o *Outbox) forget(ctx context.Context, key string) error {
	return o.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		entries, err := tx.List(ctx, outboxDir(key))
		if err != nil || len(entries) > 0 {
			return err
		}
		tx.Clear(outboxIndexDir, key)
		return nil
	})
}

// Sweep flushes every key that still holds entries older than minAge.
func (o *Outbox) Sweep(ctx context.Context) error {
	type pending struct {
		key    string
		oldest string
	}
	keys, err := core.InTx(ctx, o.store, func(ctx context.Context, tx core.Tx) ([]pending, error) {
		index, err := tx.List(ctx, outboxIndexDir)
		if err != nil {
			return nil, err
		}
		out := make([]pending, 0, len(index))
		for _, e := range index {
			entries, err := tx.List(ctx, outboxDir(e.Key))
			if err != nil {
				return nil, err
			}
			p := pending{key: e.Key}
			if len(entries) > 0 {
				p.oldest = entries[0].Key
			}
			out = append(out, p)
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range keys {
		if p.oldest != "" && time.Since(stagedAt(p.oldest)) < o.minAge {
			continue
		}
		if err := o.Flush(ctx, p.key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stagedAt(id string) time.Time {
	if len(id) < 20 {
		return time.Time{}
	}
	n, err := strconv.ParseInt(id[:20], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run sweeps the outbox until ctx is done.
func (o *Outbox) Run(ctx context.Context) error {
	logger := log.With().Str("module", "scalable.outbox").Logger()
	t := time.NewTicker(o.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := o.Sweep(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("sweep left entries behind")
		}
	}
}
