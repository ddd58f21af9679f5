package domain

import "errors"

var ErrUnknownRole = errors.New("unknown role")

// Role of a peer inside a call. Speakers produce and consume, listeners only consume.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSpeaker, RoleListener:
		return Role(s), nil
	}
	return "", ErrUnknownRole
}

// Collection is a named membership set of a conversation.
type Collection string

const (
	CollectionMain     Collection = "main"
	CollectionSpeaker  Collection = "speaker"
	CollectionListener Collection = "listener"
	CollectionProducer Collection = "producer"
)

// PeerState is the desired media state of one peer.
type PeerState struct {
	Pid      PeerID `json:"pid"`
	Producer bool   `json:"producer"`
	Consumer bool   `json:"consumer"`
}

// StateForRole maps a role to the media state the peer should have.
func StateForRole(pid PeerID, role Role) PeerState {
	return PeerState{Pid: pid, Producer: role == RoleSpeaker, Consumer: true}
}
