// Package session implements the host-authoritative session coordinator:
// fallback host bookkeeping, the voice room name handed to joining peers,
// and spawn requests for player objects.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/spaces/internal/election"
	"github.com/1ureka/spaces/internal/netlayer"
	"github.com/1ureka/spaces/internal/protocol"
	"github.com/1ureka/spaces/internal/util"
)

type (
	PeerID = netlayer.PeerID
	Vec3   = protocol.Vec3
	Quat   = protocol.Quat
)

// ErrNotHost is returned by host-only operations called while the local
// process is a client.
var ErrNotHost = errors.New("session: not the host")

// Sender delivers session messages to other peers of the room.
type Sender interface {
	Send(to PeerID, data []byte) error
	Broadcast(data []byte) error
}

// Coordinator is the session state of one process. On the host it owns the
// roster and decides the fallback host; on a client it holds a read-only
// cache of what the host announced.
type Coordinator struct {
	out  Sender
	self func() PeerID

	mu          sync.Mutex
	host        bool
	roster      *election.Roster // nil unless host
	fallback    PeerID
	voiceRoom   string
	displayName string
	nameKnown   chan struct{}
	objects     map[uint64]PlayerObject
	nextObject  uint64
	changed     chan struct{} // closed and replaced on every cache update
}

// New creates a Coordinator that sends through out. self reports the local
// peer id in the current room.
func New(out Sender, self func() PeerID) *Coordinator {
	return &Coordinator{
		out:       out,
		self:      self,
		fallback:  election.Unset,
		nameKnown: make(chan struct{}),
		objects:   make(map[uint64]PlayerObject),
		changed:   make(chan struct{}),
	}
}

// BecomeHost resets the coordinator for a freshly claimed (or restored) host
// role: an empty roster, no fallback host, no objects. The voice room is the
// host's display name, once known.
func (c *Coordinator) BecomeHost() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.host = true
	c.roster = election.NewRoster(netlayer.ServerID)
	c.fallback = election.Unset
	c.voiceRoom = c.displayName
	c.objects = make(map[uint64]PlayerObject)
	c.nextObject = 0
	c.notifyLocked()
}

// BecomeClient drops host state before joining a room as a client. The
// cached fallback host is kept: it is the only hint left if the next host
// disappears before announcing a new one.
func (c *Coordinator) BecomeClient() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.host = false
	c.roster = nil
	c.voiceRoom = ""
	c.objects = make(map[uint64]PlayerObject)
	c.notifyLocked()
}

// IsHost reports whether the coordinator currently acts for the host.
func (c *Coordinator) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// SetDisplayName records the local user's display name. The first non-empty
// name releases every pending SetVoiceRoom.
func (c *Coordinator) SetDisplayName(name string) {
	if name == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	first := c.displayName == ""
	c.displayName = name
	if c.host && c.voiceRoom == "" {
		c.voiceRoom = name
		c.notifyLocked()
	}
	if first {
		close(c.nameKnown)
	}
}

// ---------------------------------------------------------------------------
// Host side
// ---------------------------------------------------------------------------

// PeerJoined adds peer to the roster. A new fallback host is broadcast to
// everyone; otherwise only the joining peer is told the current one.
func (c *Coordinator) PeerJoined(peer PeerID) error {
	c.mu.Lock()
	if !c.host {
		c.mu.Unlock()
		return ErrNotHost
	}
	fallback, changed := c.roster.Join(peer)
	c.fallback = fallback
	c.mu.Unlock()

	util.Stats.AddJoin()
	msg := protocol.FallbackHost(fallback)
	if changed {
		util.LogInfo("fallback host is now peer %d", fallback)
		return c.out.Broadcast(msg)
	}
	return c.out.Send(peer, msg)
}

// PeerLeft removes peer from the roster and its player objects from the
// registry. If peer was the fallback host, the new one is broadcast.
func (c *Coordinator) PeerLeft(peer PeerID) error {
	c.mu.Lock()
	if !c.host {
		c.mu.Unlock()
		return ErrNotHost
	}
	fallback, changed := c.roster.Leave(peer)
	c.fallback = fallback
	for id, obj := range c.objects {
		if obj.Owner == peer {
			delete(c.objects, id)
		}
	}
	c.notifyLocked()
	c.mu.Unlock()

	util.Stats.AddLeave()
	if !changed {
		return nil
	}
	if fallback == election.Unset {
		util.LogInfo("fallback host left, no peer remains to take over")
	} else {
		util.LogInfo("fallback host left, peer %d takes over", fallback)
	}
	return c.out.Broadcast(protocol.FallbackHost(fallback))
}

// SetVoiceRoom sends the voice room name to peer. It waits until the
// display name is known, or until ctx is done.
func (c *Coordinator) SetVoiceRoom(ctx context.Context, peer PeerID) error {
	select {
	case <-c.nameKnown:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	host, room := c.host, c.voiceRoom
	c.mu.Unlock()

	if !host {
		return ErrNotHost
	}
	return c.out.Send(peer, protocol.VoiceRoom(peer, room))
}

// HandleSpawnRequest spawns a player object owned by peer and announces it to
// every peer. Any peer may ask, including for an id it does not own yet.
func (c *Coordinator) HandleSpawnRequest(peer PeerID, position Vec3, rotation Quat) (PlayerObject, error) {
	c.mu.Lock()
	if !c.host {
		c.mu.Unlock()
		return PlayerObject{}, ErrNotHost
	}
	c.nextObject++
	obj := PlayerObject{ID: c.nextObject, Owner: peer, Position: position, Rotation: rotation}
	c.objects[obj.ID] = obj
	c.notifyLocked()
	c.mu.Unlock()

	util.Stats.AddSpawn()
	util.LogDebug("spawned object %d for peer %d at %v", obj.ID, peer, position)
	return obj, c.out.Broadcast(protocol.Spawned(peer, obj.ID, obj.Pose()))
}

// ---------------------------------------------------------------------------
// Any role
// ---------------------------------------------------------------------------

// RequestSpawn asks the host to spawn a player object for peer. On the host
// the spawn happens in place.
func (c *Coordinator) RequestSpawn(peer PeerID, position Vec3, rotation Quat) error {
	if c.IsHost() {
		_, err := c.HandleSpawnRequest(peer, position, rotation)
		return err
	}
	return c.out.Send(netlayer.ServerID, protocol.SpawnRequest(peer, protocol.Pose{Position: position, Rotation: rotation}))
}

// Handle applies a session message received from peer from.
func (c *Coordinator) Handle(from PeerID, data []byte) error {
	pkt, err := protocol.Decode(data)
	if err != nil {
		return fmt.Errorf("session message from peer %d: %w", from, err)
	}

	if pkt.Type == protocol.TypeSpawnRequest {
		pose, err := pkt.Pose()
		if err != nil {
			return fmt.Errorf("spawn request from peer %d: %w", from, err)
		}
		_, err = c.HandleSpawnRequest(pkt.Peer, pose.Position, pose.Rotation)
		return err
	}

	// Everything else is host-announced state.
	if from != netlayer.ServerID {
		return fmt.Errorf("session message type 0x%02x from non-host peer %d", pkt.Type, from)
	}

	switch pkt.Type {
	case protocol.TypeFallbackHost:
		c.setFallback(pkt.Peer)

	case protocol.TypeVoiceRoom:
		c.mu.Lock()
		c.voiceRoom = string(pkt.Payload)
		c.notifyLocked()
		c.mu.Unlock()
		util.LogInfo("voice room to join: %q", pkt.Payload)

	case protocol.TypeSpawned:
		id, pose, err := pkt.Object()
		if err != nil {
			return fmt.Errorf("spawned from host: %w", err)
		}
		c.mu.Lock()
		c.objects[id] = PlayerObject{ID: id, Owner: pkt.Peer, Position: pose.Position, Rotation: pose.Rotation}
		c.notifyLocked()
		c.mu.Unlock()

	default:
		return fmt.Errorf("session message type 0x%02x: %w", pkt.Type, protocol.ErrUnknownType)
	}
	return nil
}

func (c *Coordinator) setFallback(peer PeerID) {
	c.mu.Lock()
	if c.host {
		c.mu.Unlock()
		return
	}
	same := c.fallback == peer
	c.fallback = peer
	c.notifyLocked()
	c.mu.Unlock()

	if same {
		return
	}
	switch {
	case peer == election.Unset:
		util.LogInfo("no fallback host")
	case peer == c.self():
		util.LogWarning("you are the new fallback host")
	default:
		util.LogInfo("fallback host is peer %d", peer)
	}
}

// FallbackHost returns the fallback host known to this process, or
// election.Unset.
func (c *Coordinator) FallbackHost() PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback
}

// VoiceRoom returns the voice room name, or "" while it is unknown.
func (c *Coordinator) VoiceRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceRoom
}

// AwaitVoiceRoom blocks until the voice room name is known.
func (c *Coordinator) AwaitVoiceRoom(ctx context.Context) (string, error) {
	return await(ctx, c, func() (string, bool) {
		return c.voiceRoom, c.voiceRoom != ""
	})
}

func (c *Coordinator) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// await re-evaluates get after every cache update until it reports true or
// ctx is done. get runs with c.mu held.
func await[T any](ctx context.Context, c *Coordinator, get func() (T, bool)) (T, error) {
	for {
		c.mu.Lock()
		v, ok := get()
		changed := c.changed
		c.mu.Unlock()

		if ok {
			return v, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
