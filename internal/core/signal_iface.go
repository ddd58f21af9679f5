package core

import "github.com/dkeye/voicemesh/internal/domain"

// Frame is a raw message payload.
type Frame []byte

// SignalConnection abstracts a client messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Notifier is told about state changes clients have to learn about.
type Notifier interface {
	PeerChanged(cid domain.ConversationID, pid domain.PeerID)
	ConversationStarted(cid domain.ConversationID)
}
