// Package kv implements core.Store on top of memory, Redis and SQL databases.
package kv

import (
	"context"
	"sort"

	"github.com/dkeye/voicemesh/internal/core"
)

// overlay buffers the writes of one transaction attempt until commit.
type overlay struct {
	writes  map[string]map[string][]byte // nil value means cleared
	cleared map[string]bool
	deltas  map[string]map[string]int64
	hooks   []func(ctx context.Context)
}

func newOverlay() *overlay {
	return &overlay{
		writes:  make(map[string]map[string][]byte),
		cleared: make(map[string]bool),
		deltas:  make(map[string]map[string]int64),
	}
}

func (o *overlay) set(dir, key string, value []byte) {
	m, ok := o.writes[dir]
	if !ok {
		m = make(map[string][]byte)
		o.writes[dir] = m
	}
	if value == nil {
		value = []byte{}
	}
	m[key] = value
}

func (o *overlay) clear(dir, key string) {
	m, ok := o.writes[dir]
	if !ok {
		m = make(map[string][]byte)
		o.writes[dir] = m
	}
	m[key] = nil
}

func (o *overlay) clearDir(dir string) {
	delete(o.writes, dir)
	o.cleared[dir] = true
}

func (o *overlay) add(dir, key string, delta int64) {
	m, ok := o.deltas[dir]
	if !ok {
		m = make(map[string]int64)
		o.deltas[dir] = m
	}
	m[key] += delta
}

// lookup reports the buffered state of a key. handled is false when the
// backend has to be asked.
func (o *overlay) lookup(dir, key string) (value []byte, found, handled bool) {
	if m, ok := o.writes[dir]; ok {
		if v, ok := m[key]; ok {
			return v, v != nil, true
		}
	}
	if o.cleared[dir] {
		return nil, false, true
	}
	return nil, false, false
}

// merge applies the buffered writes of dir on top of a backend listing.
func (o *overlay) merge(dir string, base []core.Entry) []core.Entry {
	if o.cleared[dir] {
		base = nil
	}
	m := o.writes[dir]
	if len(m) == 0 {
		return base
	}
	out := make([]core.Entry, 0, len(base)+len(m))
	for _, e := range base {
		if _, ok := m[e.Key]; ok {
			continue
		}
		out = append(out, e)
	}
	for k, v := range m {
		if v != nil {
			out = append(out, core.Entry{Key: k, Value: v})
		}
	}
	sortEntries(out)
	return out
}

func (o *overlay) delta(dir, key string) int64 {
	return o.deltas[dir][key]
}

func (o *overlay) empty() bool {
	return len(o.writes) == 0 && len(o.cleared) == 0 && len(o.deltas) == 0
}

func (o *overlay) afterCommit(fn func(ctx context.Context)) {
	o.hooks = append(o.hooks, fn)
}

func (o *overlay) runHooks(ctx context.Context) {
	for _, h := range o.hooks {
		h(ctx)
	}
}

func sortEntries(es []core.Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Key < es[j].Key })
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
