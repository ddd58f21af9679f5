package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget(t *testing.T) {
	assert.Equal(t, 3, Budget(1, 1))
	assert.Equal(t, 65, Budget(5, 10))
	assert.Equal(t, 0, Budget(0, 0))
	assert.Equal(t, 65, ShardBudget())
	assert.Equal(t, 6, ConsumerBudget())
	// a fresh shard holds exactly ShardConsumers consumers
	assert.Equal(t, ShardConsumers, ShardBudget()/ConsumerBudget())
}

func TestShardModeDecodeNormalizes(t *testing.T) {
	var m ShardMode
	require.NoError(t, json.Unmarshal([]byte(`{"region":{"shards":{"s1":{"worker":"w1"}}}}`), &m))
	m.Normalize()

	require.NotNil(t, m.Region.Producers)
	require.NotNil(t, m.Region.Shards["s1"].Consumers)
	_, ok := m.ShardOf("p1")
	assert.False(t, ok)

	m.Region.Shards["s1"].Consumers["p1"] = true
	m.Region.Producers["p2"] = true
	m.Region.Producers["p3"] = false
	id, ok := m.ShardOf("p1")
	assert.True(t, ok)
	assert.Equal(t, ShardID("s1"), id)
	assert.Equal(t, []PeerID{"p2"}, m.ActiveProducers())
}

func TestShardTaskRoundTrip(t *testing.T) {
	k := ShardKey{Cid: "c", Session: "s", Shard: "sh"}
	tasks := []ShardTask{
		StartTask{ShardKey: k, Worker: "w1"},
		StopTask{ShardKey: k, Budget: 65},
		OfferTask{ShardKey: k, Pid: "p", Sid: "e", SDP: "v=0"},
	}
	for _, task := range tasks {
		data, err := EncodeShardTask(task)
		require.NoError(t, err)
		back, err := DecodeShardTask(data)
		require.NoError(t, err)
		assert.Equal(t, task, back)
		assert.Equal(t, "shard:c/s/sh", back.Target().QueueKey())
	}

	_, err := DecodeShardTask([]byte(`{"type":"explode"}`))
	assert.ErrorIs(t, err, ErrUnknownTask)
}
