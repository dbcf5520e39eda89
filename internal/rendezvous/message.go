// Package rendezvous implements the room server: peers claim or join named
// rooms over a WebSocket, the server assigns peer ids, reports membership
// changes to the room's host and relays session messages between members.
package rendezvous

// MessageType identifies the kind of control frame.
type MessageType string

// Peer -> server.
const (
	MsgHost      MessageType = "host"      // claim Room as its host
	MsgJoin      MessageType = "join"      // join Room as a client
	MsgLeave     MessageType = "leave"     // leave the current room, keep the socket
	MsgSend      MessageType = "send"      // relay Data to Peer
	MsgBroadcast MessageType = "broadcast" // relay Data to every other member
)

// Server -> peer.
const (
	MsgAccepted      MessageType = "accepted"       // claim/join succeeded, Peer is the assigned id
	MsgRejected      MessageType = "rejected"       // claim/join failed, see Reason
	MsgPeerJoined    MessageType = "peer_joined"    // Peer was admitted
	MsgPeerLeft      MessageType = "peer_left"      // Peer left the room
	MsgMasterChanged MessageType = "master_changed" // the host left, Peer is the lowest remaining id
	MsgClosed        MessageType = "closed"         // the room is gone, see Reason
	MsgMessage       MessageType = "message"        // Data relayed from Peer
)

// Reasons carried by rejected and closed frames. They share their wire names
// with netlayer.Cause.
const (
	ReasonRoomConflict = "room_conflict"
	ReasonRoomNotFound = "room_not_found"
	ReasonHostLeft     = "host_left"
)

// Message is the JSON frame exchanged with the room server. Peer is always
// present on the wire because the host's id is 0.
type Message struct {
	Type   MessageType `json:"type"`
	Room   string      `json:"room,omitempty"`
	Peer   uint64      `json:"peer"`
	Reason string      `json:"reason,omitempty"`
	Data   []byte      `json:"data,omitempty"`
}
