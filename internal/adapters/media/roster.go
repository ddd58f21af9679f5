package media

import (
	"io"
	"sort"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Roster is the set of media workers this process can reach.
type Roster struct {
	mu      sync.RWMutex
	workers map[domain.WorkerID]core.MediaWorker
}

var _ core.Roster = (*Roster)(nil)

func NewRoster() *Roster {
	return &Roster{workers: make(map[domain.WorkerID]core.MediaWorker)}
}

func (r *Roster) Add(id domain.WorkerID, w core.MediaWorker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[id] = w
	log.Info().Str("module", "media.roster").Str("worker", string(id)).Msg("worker added")
}

// Remove forgets a worker and closes its connection if it has one.
func (r *Roster) Remove(id domain.WorkerID) {
	r.mu.Lock()
	w, ok := r.workers[id]
	delete(r.workers, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	if c, ok := w.(io.Closer); ok {
		_ = c.Close()
	}
	log.Info().Str("module", "media.roster").Str("worker", string(id)).Msg("worker removed")
}

func (r *Roster) Worker(id domain.WorkerID) (core.MediaWorker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

func (r *Roster) IDs() []domain.WorkerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.WorkerID, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close closes every remote worker connection.
func (r *Roster) Close() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}
