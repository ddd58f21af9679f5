package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownTask = errors.New("unknown task type")

// ShardKey addresses one shard of one session.
type ShardKey struct {
	Cid     ConversationID `json:"cid"`
	Session SessionID      `json:"session"`
	Shard   ShardID        `json:"shard"`
}

// QueueKey is the work queue key shard tasks are pushed under.
// Tasks with the same key are delivered in push order.
func (k ShardKey) QueueKey() string {
	return "shard:" + string(k.Cid) + "/" + string(k.Session) + "/" + string(k.Shard)
}

// SessionQueueKey is the work queue key of session tasks of a conversation.
func SessionQueueKey(cid ConversationID) string {
	return "session:" + string(cid)
}

type ShardTaskType string

const (
	TaskStart          ShardTaskType = "start"
	TaskStop           ShardTaskType = "stop"
	TaskAddProducer    ShardTaskType = "add-producer"
	TaskRemoveProducer ShardTaskType = "remove-producer"
	TaskAddConsumer    ShardTaskType = "add-consumer"
	TaskRemoveConsumer ShardTaskType = "remove-consumer"
	TaskOffer          ShardTaskType = "offer"
	TaskAnswer         ShardTaskType = "answer"
)

// ShardTask is one unit of work for a shard. The set of variants is closed.
type ShardTask interface {
	Type() ShardTaskType
	Target() ShardKey
	isShardTask()
}

type StartTask struct {
	ShardKey
	Worker WorkerID
}

// StopTask tears a shard down and releases Budget on Worker.
type StopTask struct {
	ShardKey
	Worker WorkerID
	Budget int
}

type AddProducerTask struct {
	ShardKey
	Pid PeerID
}

type RemoveProducerTask struct {
	ShardKey
	Pid PeerID
}

type AddConsumerTask struct {
	ShardKey
	Pid PeerID
}

type RemoveConsumerTask struct {
	ShardKey
	Pid PeerID
}

type OfferTask struct {
	ShardKey
	Pid PeerID
	Sid EndStreamID
	SDP string
}

type AnswerTask struct {
	ShardKey
	Pid PeerID
	Sid EndStreamID
	SDP string
}

func (StartTask) Type() ShardTaskType          { return TaskStart }
func (StopTask) Type() ShardTaskType           { return TaskStop }
func (AddProducerTask) Type() ShardTaskType    { return TaskAddProducer }
func (RemoveProducerTask) Type() ShardTaskType { return TaskRemoveProducer }
func (AddConsumerTask) Type() ShardTaskType    { return TaskAddConsumer }
func (RemoveConsumerTask) Type() ShardTaskType { return TaskRemoveConsumer }
func (OfferTask) Type() ShardTaskType          { return TaskOffer }
func (AnswerTask) Type() ShardTaskType         { return TaskAnswer }

func (k ShardKey) Target() ShardKey { return k }

func (StartTask) isShardTask()          {}
func (StopTask) isShardTask()           {}
func (AddProducerTask) isShardTask()    {}
func (RemoveProducerTask) isShardTask() {}
func (AddConsumerTask) isShardTask()    {}
func (RemoveConsumerTask) isShardTask() {}
func (OfferTask) isShardTask()          {}
func (AnswerTask) isShardTask()         {}

type shardTaskWire struct {
	Type    ShardTaskType  `json:"type"`
	Cid     ConversationID `json:"cid"`
	Session SessionID      `json:"session"`
	Shard   ShardID        `json:"shard"`
	Pid     PeerID         `json:"pid,omitempty"`
	Worker  WorkerID       `json:"worker,omitempty"`
	Budget  int            `json:"budget,omitempty"`
	SDP     string         `json:"sdp,omitempty"`
	Sid     EndStreamID    `json:"sid,omitempty"`
}

// EncodeShardTask serializes a task into its queue payload.
func EncodeShardTask(t ShardTask) ([]byte, error) {
	k := t.Target()
	w := shardTaskWire{Type: t.Type(), Cid: k.Cid, Session: k.Session, Shard: k.Shard}
	switch v := t.(type) {
	case StartTask:
		w.Worker = v.Worker
	case StopTask:
		w.Worker, w.Budget = v.Worker, v.Budget
	case AddProducerTask:
		w.Pid = v.Pid
	case RemoveProducerTask:
		w.Pid = v.Pid
	case AddConsumerTask:
		w.Pid = v.Pid
	case RemoveConsumerTask:
		w.Pid = v.Pid
	case OfferTask:
		w.Pid, w.Sid, w.SDP = v.Pid, v.Sid, v.SDP
	case AnswerTask:
		w.Pid, w.Sid, w.SDP = v.Pid, v.Sid, v.SDP
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTask, t)
	}
	return json.Marshal(w)
}

// DecodeShardTask parses a queue payload into a task variant.
func DecodeShardTask(data []byte) (ShardTask, error) {
	var w shardTaskWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode shard task: %w", err)
	}
	k := ShardKey{Cid: w.Cid, Session: w.Session, Shard: w.Shard}
	switch w.Type {
	case TaskStart:
		return StartTask{ShardKey: k, Worker: w.Worker}, nil
	case TaskStop:
		return StopTask{ShardKey: k, Worker: w.Worker, Budget: w.Budget}, nil
	case TaskAddProducer:
		return AddProducerTask{ShardKey: k, Pid: w.Pid}, nil
	case TaskRemoveProducer:
		return RemoveProducerTask{ShardKey: k, Pid: w.Pid}, nil
	case TaskAddConsumer:
		return AddConsumerTask{ShardKey: k, Pid: w.Pid}, nil
	case TaskRemoveConsumer:
		return RemoveConsumerTask{ShardKey: k, Pid: w.Pid}, nil
	case TaskOffer:
		return OfferTask{ShardKey: k, Pid: w.Pid, Sid: w.Sid, SDP: w.SDP}, nil
	case TaskAnswer:
		return AnswerTask{ShardKey: k, Pid: w.Pid, Sid: w.Sid, SDP: w.SDP}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTask, w.Type)
}

type SessionTaskType string

const (
	SessionAdd        SessionTaskType = "add"
	SessionRoleChange SessionTaskType = "role-change"
	SessionRemove     SessionTaskType = "remove"
)

// SessionTask is a raw peer membership event of a conversation.
type SessionTask struct {
	Type SessionTaskType `json:"type"`
	Cid  ConversationID  `json:"cid"`
	Pid  PeerID          `json:"pid"`
	Role Role            `json:"role,omitempty"`
}

func EncodeSessionTask(t SessionTask) ([]byte, error) {
	switch t.Type {
	case SessionAdd, SessionRoleChange, SessionRemove:
		return json.Marshal(t)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTask, t.Type)
}

func DecodeSessionTask(data []byte) (SessionTask, error) {
	var t SessionTask
	if err := json.Unmarshal(data, &t); err != nil {
		return SessionTask{}, fmt.Errorf("decode session task: %w", err)
	}
	switch t.Type {
	case SessionAdd, SessionRoleChange, SessionRemove:
		return t, nil
	}
	return SessionTask{}, fmt.Errorf("%w: %q", ErrUnknownTask, t.Type)
}
