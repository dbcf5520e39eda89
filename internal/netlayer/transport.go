// Package netlayer drives a process through host/client role negotiation for
// a room and keeps it in the room across host departures.
package netlayer

import (
	"context"
	"fmt"
)

// PeerID identifies a network participant within one room session.
type PeerID = uint64

// ServerID is the id of the host under the room server's addressing scheme.
const ServerID PeerID = 0

// Cause tells why the local role ended or an attempt failed.
type Cause uint8

const (
	CauseUnknown Cause = iota
	CauseTimeout
	CauseShutdown
	CauseKicked
	CauseRoomConflict // claiming host failed: the room already has one
	CauseRoomNotFound // joining failed: the room has no host
	CauseHostLeft
)

var causeNames = [...]string{
	CauseUnknown:      "unknown",
	CauseTimeout:      "timeout",
	CauseShutdown:     "shutdown",
	CauseKicked:       "kicked",
	CauseRoomConflict: "room_conflict",
	CauseRoomNotFound: "room_not_found",
	CauseHostLeft:     "host_left",
}

func (c Cause) String() string {
	if int(c) < len(causeNames) {
		return causeNames[c]
	}
	return fmt.Sprintf("cause(%d)", c)
}

// ParseCause maps a wire name back to a Cause. Unknown names map to CauseUnknown.
func ParseCause(s string) Cause {
	for c, name := range causeNames {
		if name == s {
			return Cause(c)
		}
	}
	return CauseUnknown
}

// EventType identifies a transport notification.
type EventType uint8

const (
	// EventPeerConnected: Peer was admitted to the room (on a client this
	// includes the local peer itself).
	EventPeerConnected EventType = iota + 1
	// EventPeerDisconnected: Peer left the room.
	EventPeerDisconnected
	// EventDisconnected: the local role ended or an attempt failed, see Cause.
	EventDisconnected
	// EventMasterChanged: the room's host disappeared; Peer is the
	// transport's own choice of successor.
	EventMasterChanged
	// EventMessage: application payload Data sent by Peer.
	EventMessage
)

// Event is a notification from the Transport to the Layer.
type Event struct {
	Type  EventType
	Peer  PeerID
	Cause Cause
	Data  []byte
}

// Transport is the contract the Layer consumes. BecomeHost and BecomeClient
// block until the role is established, the attempt fails or ctx is cancelled.
// A failed attempt, like a role that ends, is also reported through an
// EventDisconnected; a cancelled attempt is not.
type Transport interface {
	BecomeHost(ctx context.Context, room string) error
	BecomeClient(ctx context.Context, room string) error
	Shutdown() error
	LocalID() PeerID
	Events() <-chan Event
}
