package session

import (
	"context"
	"sort"

	"github.com/1ureka/spaces/internal/protocol"
)

// PlayerObject is a spawned player representation owned by one peer.
type PlayerObject struct {
	ID       uint64
	Owner    PeerID
	Position Vec3
	Rotation Quat
}

// Pose returns the object's position and rotation.
func (o PlayerObject) Pose() protocol.Pose {
	return protocol.Pose{Position: o.Position, Rotation: o.Rotation}
}

// Player returns the player object owned by owner, if one exists.
func (c *Coordinator) Player(owner PeerID) (PlayerObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerLocked(owner)
}

func (c *Coordinator) playerLocked(owner PeerID) (PlayerObject, bool) {
	for _, obj := range c.objects {
		if obj.Owner == owner {
			return obj, true
		}
	}
	return PlayerObject{}, false
}

// Objects returns every known player object ordered by id.
func (c *Coordinator) Objects() []PlayerObject {
	c.mu.Lock()
	defer c.mu.Unlock()

	objs := make([]PlayerObject, 0, len(c.objects))
	for _, obj := range c.objects {
		objs = append(objs, obj)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
	return objs
}

// AwaitPlayer blocks until a player object owned by owner exists.
func (c *Coordinator) AwaitPlayer(ctx context.Context, owner PeerID) (PlayerObject, error) {
	return await(ctx, c, func() (PlayerObject, bool) {
		return c.playerLocked(owner)
	})
}
