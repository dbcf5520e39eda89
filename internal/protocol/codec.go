package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrShortPacket = errors.New("packet too short")
	ErrUnknownType = errors.New("unknown packet type")
)

// Encode serializes a Packet into a byte slice.
func Encode(pkt *Packet) []byte {
	buf := make([]byte, HeaderSize+len(pkt.Payload))
	buf[0] = pkt.Type
	binary.BigEndian.PutUint64(buf[1:9], pkt.Peer)
	if len(pkt.Payload) > 0 {
		copy(buf[HeaderSize:], pkt.Payload)
	}
	return buf
}

// Decode deserializes a byte slice into a Packet.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortPacket, len(data), HeaderSize)
	}
	if data[0] < TypeSpawnRequest || data[0] > TypeSignal {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, data[0])
	}
	pkt := &Packet{
		Type: data[0],
		Peer: binary.BigEndian.Uint64(data[1:9]),
	}
	if len(data) > HeaderSize {
		pkt.Payload = make([]byte, len(data)-HeaderSize)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}

// ---------------------------------------------------------------------------
// Typed constructors
// ---------------------------------------------------------------------------

// SpawnRequest builds a TypeSpawnRequest packet for peer.
func SpawnRequest(peer uint64, pose Pose) []byte {
	return Encode(&Packet{Type: TypeSpawnRequest, Peer: peer, Payload: appendPose(nil, pose)})
}

// Spawned builds a TypeSpawned packet announcing object id owned by owner.
func Spawned(owner, id uint64, pose Pose) []byte {
	payload := make([]byte, 8, 8+poseSize)
	binary.BigEndian.PutUint64(payload, id)
	return Encode(&Packet{Type: TypeSpawned, Peer: owner, Payload: appendPose(payload, pose)})
}

// FallbackHost builds a TypeFallbackHost packet.
func FallbackHost(peer uint64) []byte {
	return Encode(&Packet{Type: TypeFallbackHost, Peer: peer})
}

// VoiceRoom builds a TypeVoiceRoom packet addressed to peer.
func VoiceRoom(peer uint64, room string) []byte {
	return Encode(&Packet{Type: TypeVoiceRoom, Peer: peer, Payload: []byte(room)})
}

// Signal builds a TypeSignal packet sent by peer.
func Signal(peer uint64, payload []byte) []byte {
	return Encode(&Packet{Type: TypeSignal, Peer: peer, Payload: payload})
}

// ---------------------------------------------------------------------------
// Payload accessors
// ---------------------------------------------------------------------------

// Pose decodes the pose carried by a TypeSpawnRequest packet.
func (p *Packet) Pose() (Pose, error) {
	return readPose(p.Payload)
}

// Object decodes the object id and pose carried by a TypeSpawned packet.
func (p *Packet) Object() (uint64, Pose, error) {
	if len(p.Payload) < 8 {
		return 0, Pose{}, fmt.Errorf("%w: spawned payload %d bytes", ErrShortPacket, len(p.Payload))
	}
	pose, err := readPose(p.Payload[8:])
	if err != nil {
		return 0, Pose{}, err
	}
	return binary.BigEndian.Uint64(p.Payload[:8]), pose, nil
}

func appendPose(buf []byte, pose Pose) []byte {
	for _, f := range []float32{
		pose.Position.X, pose.Position.Y, pose.Position.Z,
		pose.Rotation.X, pose.Rotation.Y, pose.Rotation.Z, pose.Rotation.W,
	} {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func readPose(b []byte) (Pose, error) {
	if len(b) < poseSize {
		return Pose{}, fmt.Errorf("%w: pose %d bytes (need %d)", ErrShortPacket, len(b), poseSize)
	}
	f := func(i int) float32 {
		return math.Float32frombits(binary.BigEndian.Uint32(b[i*4 : i*4+4]))
	}
	return Pose{
		Position: Vec3{X: f(0), Y: f(1), Z: f(2)},
		Rotation: Quat{X: f(3), Y: f(4), Z: f(5), W: f(6)},
	}, nil
}
