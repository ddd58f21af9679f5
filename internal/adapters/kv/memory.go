package kv

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/core"
)

// MemoryStore is an in-process optimistic store. Reads record the version they
// observed and commit fails with core.ErrConflict when any of them moved.
type MemoryStore struct {
	mu       sync.Mutex
	clock    uint64
	dirs     map[string]map[string][]byte
	counters map[string]int64
	versions map[string]uint64

	maxRetries int
	retries    atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dirs:       make(map[string]map[string][]byte),
		counters:   make(map[string]int64),
		versions:   make(map[string]uint64),
		maxRetries: DefaultMaxRetries,
	}
}

// Retries returns how many attempts were re-executed because of conflicts.
func (s *MemoryStore) Retries() int64 { return s.retries.Load() }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Transact(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	return retry(ctx, s.maxRetries, func() { s.retries.Add(1) }, func(ctx context.Context) error {
		tx := &memoryTx{store: s, overlay: newOverlay(), reads: make(map[string]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := s.commit(tx); err != nil {
			return err
		}
		tx.runHooks(ctx)
		return nil
	})
}

func keyVersion(dir, key string) string     { return "k\x00" + dir + "\x00" + key }
func dirVersion(dir string) string          { return "d\x00" + dir }
func counterVersion(dir, key string) string { return "c\x00" + dir + "\x00" + key }

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range tx.reads {
		if s.versions[k] != v {
			return fmt.Errorf("%w: %s", core.ErrConflict, strings.ReplaceAll(k, "\x00", "/"))
		}
	}
	if tx.empty() {
		return nil
	}
	s.clock++
	for _, dir := range sortedKeys(tx.cleared) {
		for key := range s.dirs[dir] {
			s.versions[keyVersion(dir, key)] = s.clock
		}
		delete(s.dirs, dir)
		s.versions[dirVersion(dir)] = s.clock
	}
	for _, dir := range sortedKeys(tx.writes) {
		m, ok := s.dirs[dir]
		if !ok {
			m = make(map[string][]byte)
			s.dirs[dir] = m
		}
		for key, v := range tx.writes[dir] {
			if v == nil {
				delete(m, key)
			} else {
				m[key] = bytes.Clone(v)
			}
			s.versions[keyVersion(dir, key)] = s.clock
		}
		if len(m) == 0 {
			delete(s.dirs, dir)
		}
		s.versions[dirVersion(dir)] = s.clock
	}
	for dir, m := range tx.deltas {
		for key, d := range m {
			if d == 0 {
				continue
			}
			s.counters[counterVersion(dir, key)] += d
			s.versions[counterVersion(dir, key)] = s.clock
		}
	}
	return nil
}

type memoryTx struct {
	*overlay
	store *MemoryStore
	reads map[string]uint64
}

// observe records the version of a base read. The first observation wins so a
// value that changed between two reads of one attempt still conflicts.
func (t *memoryTx) observe(v string) {
	if _, ok := t.reads[v]; !ok {
		t.reads[v] = t.store.versions[v]
	}
}

func (t *memoryTx) Get(_ context.Context, dir, key string) ([]byte, bool, error) {
	if v, found, handled := t.lookup(dir, key); handled {
		return bytes.Clone(v), found, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.observe(keyVersion(dir, key))
	v, ok := t.store.dirs[dir][key]
	return bytes.Clone(v), ok, nil
}

func (t *memoryTx) List(_ context.Context, dir string) ([]core.Entry, error) {
	var base []core.Entry
	if !t.cleared[dir] {
		t.store.mu.Lock()
		t.observe(dirVersion(dir))
		for k, v := range t.store.dirs[dir] {
			base = append(base, core.Entry{Key: k, Value: bytes.Clone(v)})
		}
		t.store.mu.Unlock()
		sortEntries(base)
	}
	return t.merge(dir, base), nil
}

func (t *memoryTx) Set(dir, key string, value []byte) { t.set(dir, key, bytes.Clone(value)) }
func (t *memoryTx) Clear(dir, key string)              { t.clear(dir, key) }
func (t *memoryTx) ClearDir(dir string)                { t.clearDir(dir) }
func (t *memoryTx) Add(dir, key string, delta int64)   { t.add(dir, key, delta) }

func (t *memoryTx) Counter(_ context.Context, dir, key string) (int64, error) {
	t.store.mu.Lock()
	n := t.store.counters[counterVersion(dir, key)]
	t.store.mu.Unlock()
	return n + t.delta(dir, key), nil
}

func (t *memoryTx) WatchCounter(_ context.Context, dir, key string) (int64, error) {
	t.store.mu.Lock()
	t.observe(counterVersion(dir, key))
	n := t.store.counters[counterVersion(dir, key)]
	t.store.mu.Unlock()
	return n + t.delta(dir, key), nil
}

func (t *memoryTx) AfterCommit(fn func(ctx context.Context)) { t.afterCommit(fn) }
