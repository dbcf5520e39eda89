// Package protocol defines the session message format exchanged between the
// host and its clients.
package protocol

// Packet type constants.
const (
	TypeSpawnRequest uint8 = 0x01 // client -> host: spawn my player at Pose
	TypeSpawned      uint8 = 0x02 // host -> all: a player object now exists
	TypeFallbackHost uint8 = 0x03 // host -> peers: who takes over if the host leaves
	TypeVoiceRoom    uint8 = 0x04 // host -> peer: secondary (voice) room name
	TypeSignal       uint8 = 0x05 // direct link SDP/ICE, JSON payload
)

// HeaderSize is the fixed header size: Type(1) + Peer(8).
const HeaderSize = 9

// poseSize is the payload size of a Pose: 3 + 4 float32.
const poseSize = 7 * 4

// Packet represents a session message. Peer is the subject of the message:
// the requesting peer, the object owner, the elected fallback host or the
// signaling sender, depending on Type.
type Packet struct {
	Type    uint8
	Peer    uint64
	Payload []byte
}

// Vec3 is a position in world space.
type Vec3 struct {
	X, Y, Z float32
}

// Quat is a rotation quaternion.
type Quat struct {
	X, Y, Z, W float32
}

// Pose bundles a position and a rotation.
type Pose struct {
	Position Vec3
	Rotation Quat
}

// IdentityQuat is the rotation that does nothing.
var IdentityQuat = Quat{W: 1}
