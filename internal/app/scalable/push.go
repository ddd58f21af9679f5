package scalable

import (
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

// PushShardTask stages t under the queue key of its shard. Transaction bodies may run
// several times, only the committed attempt reaches the queue.
func PushShardTask(tx core.Tx, out *Outbox, t domain.ShardTask) error {
	payload, err := domain.EncodeShardTask(t)
	if err != nil {
		return err
	}
	out.Stage(tx, t.Target().QueueKey(), payload)
	return nil
}

func PushSessionTask(tx core.Tx, out *Outbox, t domain.SessionTask) error {
	payload, err := domain.EncodeSessionTask(t)
	if err != nil {
		return err
	}
	out.Stage(tx, domain.SessionQueueKey(t.Cid), payload)
	return nil
}
