package core

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned by a backend when a transaction lost a race and may be retried.
	ErrConflict = errors.New("transaction conflict")
	// ErrTooManyRetries is returned by Transact when the body kept conflicting.
	ErrTooManyRetries = errors.New("transaction retries exhausted")
)

// Entry is one key of a directory listing.
type Entry struct {
	Key   string
	Value []byte
}

// Tx is one attempt of an optimistic transaction over (dir, key) pairs.
// Writes are buffered and become visible to later reads of the same Tx.
type Tx interface {
	Get(ctx context.Context, dir, key string) ([]byte, bool, error)
	// List returns the entries of dir ordered by key.
	List(ctx context.Context, dir string) ([]Entry, error)
	Set(dir, key string, value []byte)
	Clear(dir, key string)
	// ClearDir removes every key of dir. Counters are not affected.
	ClearDir(dir string)

	// Add applies a commutative delta to a counter. It never conflicts.
	Add(dir, key string, delta int64)
	// Counter is a snapshot read of a counter including this Tx's pending deltas.
	// It does not register a read conflict.
	Counter(ctx context.Context, dir, key string) (int64, error)
	// WatchCounter reads a counter and makes the commit fail if it changed meanwhile.
	WatchCounter(ctx context.Context, dir, key string) (int64, error)

	// AfterCommit registers fn to run once this attempt committed.
	// Hooks of attempts that were retried or failed never run.
	AfterCommit(fn func(ctx context.Context))
}

// Store runs transaction bodies, re-executing them on conflict.
// A body must only have side effects through the Tx, everything else goes into AfterCommit.
type Store interface {
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// InTx runs fn in a transaction and returns the value of the attempt that committed.
func InTx[T any](ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := s.Transact(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
