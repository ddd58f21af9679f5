package domain

import "sort"

const (
	// ShardProducers and ShardConsumers size the initial reservation of a new shard.
	ShardProducers = 5
	ShardConsumers = 10
)

// Budget approximates the worst case full-mesh cost of a shard.
func Budget(producers, consumers int) int {
	return producers + consumers + producers*consumers
}

// ShardBudget is the reservation taken by a freshly opened shard.
func ShardBudget() int {
	return Budget(ShardProducers, ShardConsumers)
}

// ConsumerBudget is the fixed cost one consumer adds to a shard.
func ConsumerBudget() int {
	return Budget(ShardProducers, 1) - Budget(ShardProducers, 0)
}

// ShardState is one allocation bound to one worker.
type ShardState struct {
	AllocatedBudget int             `json:"allocatedBudget"`
	UsedBudget      int             `json:"usedBudget"`
	Worker          WorkerID        `json:"worker"`
	Consumers       map[PeerID]bool `json:"consumers"`
}

// ConsumerCount returns the number of consumers currently bound to the shard.
func (s *ShardState) ConsumerCount() int {
	n := 0
	for _, v := range s.Consumers {
		if v {
			n++
		}
	}
	return n
}

// ShardRegion is the sharding topology of one session.
type ShardRegion struct {
	Producers map[PeerID]bool         `json:"producers"`
	Shards    map[ShardID]*ShardState `json:"shards"`
	// Waiting holds consumers no worker had room for yet.
	Waiting map[PeerID]bool `json:"waiting,omitempty"`
}

// ShardMode is the per (conversation, session) sharding record.
type ShardMode struct {
	Region ShardRegion `json:"region"`
}

func NewShardMode() *ShardMode {
	return &ShardMode{Region: ShardRegion{
		Producers: make(map[PeerID]bool),
		Shards:    make(map[ShardID]*ShardState),
	}}
}

// Normalize fills nil maps left by decoding.
func (m *ShardMode) Normalize() {
	if m.Region.Producers == nil {
		m.Region.Producers = make(map[PeerID]bool)
	}
	if m.Region.Shards == nil {
		m.Region.Shards = make(map[ShardID]*ShardState)
	}
	for _, s := range m.Region.Shards {
		if s.Consumers == nil {
			s.Consumers = make(map[PeerID]bool)
		}
	}
}

// ShardIDs returns the shard ids in a stable order.
func (m *ShardMode) ShardIDs() []ShardID {
	ids := make([]ShardID, 0, len(m.Region.Shards))
	for id := range m.Region.Shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WaitingConsumers returns the consumers still waiting for a shard in a stable order.
func (m *ShardMode) WaitingConsumers() []PeerID {
	out := make([]PeerID, 0, len(m.Region.Waiting))
	for pid := range m.Region.Waiting {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ActiveProducers returns the producing peers in a stable order.
func (m *ShardMode) ActiveProducers() []PeerID {
	out := make([]PeerID, 0, len(m.Region.Producers))
	for pid, on := range m.Region.Producers {
		if on {
			out = append(out, pid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ShardOf returns the shard a consumer is bound to.
func (m *ShardMode) ShardOf(pid PeerID) (ShardID, bool) {
	for _, id := range m.ShardIDs() {
		if m.Region.Shards[id].Consumers[pid] {
			return id, true
		}
	}
	return "", false
}
