// Package domain contains the records and value types of the scalable call engine, without I/O.
package domain

import "github.com/google/uuid"

type (
	// ConversationID identifies the call a peer joins.
	ConversationID string
	// PeerID identifies a participant inside a conversation.
	PeerID string
	// SessionID is the opaque token of the live call instance of a conversation.
	SessionID string
	// ShardID identifies one allocation bound to one worker.
	ShardID string
	// WorkerID identifies a media worker.
	WorkerID string
	// EndStreamID identifies a client-facing negotiation record.
	EndStreamID string
)

func NewSessionID() SessionID     { return SessionID(uuid.NewString()) }
func NewShardID() ShardID         { return ShardID(uuid.NewString()) }
func NewEndStreamID() EndStreamID { return EndStreamID(uuid.NewString()) }
