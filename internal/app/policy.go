package app

import (
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickPeer
	DropFrame
)

// Policy decides what happens to a peer whose connection refused a frame.
type Policy interface {
	OnBackPressure(pid domain.PeerID, conn core.SignalConnection) BackpressureAction
}

// SimplePolicy kicks slow peers. Streams snapshots are complete states, so a kicked
// client resyncs on reconnect.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.PeerID, core.SignalConnection) BackpressureAction {
	return KickPeer
}
