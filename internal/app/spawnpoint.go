package app

import (
	"math"
	"sync"

	"github.com/1ureka/spaces/internal/protocol"
)

// DefaultSpawnPose is where players appear when nothing else applies: at
// floor height, turned 270 degrees around the vertical axis.
var DefaultSpawnPose = protocol.Pose{
	Position: protocol.Vec3{X: 0, Y: 0.24, Z: 0},
	Rotation: yaw(270),
}

// yaw returns the rotation of deg degrees around the Y axis.
func yaw(deg float64) protocol.Quat {
	half := deg * math.Pi / 360
	return protocol.Quat{Y: float32(math.Sin(half)), W: float32(math.Cos(half))}
}

// SpawnPoint is the pose new players of this process spawn at. Arriving
// through a portal places the player at the anchor matching the way it
// came; anchors are keyed by the scene the player leaves when heading to the
// lobby, and by Lobby for every other trip.
type SpawnPoint struct {
	mu      sync.Mutex
	pose    protocol.Pose
	anchors map[string]protocol.Pose
}

// NewSpawnPoint creates a spawn point at DefaultSpawnPose.
func NewSpawnPoint(anchors map[string]protocol.Pose) *SpawnPoint {
	if anchors == nil {
		anchors = make(map[string]protocol.Pose)
	}
	return &SpawnPoint{pose: DefaultSpawnPose, anchors: anchors}
}

// Pose returns the current spawn pose.
func (s *SpawnPoint) Pose() protocol.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}

// Reset restores DefaultSpawnPose.
func (s *SpawnPoint) Reset() {
	s.mu.Lock()
	s.pose = DefaultSpawnPose
	s.mu.Unlock()
}

// Move places the spawn point for a trip from scene to destination. Trips
// without an anchor fall back to DefaultSpawnPose.
func (s *SpawnPoint) Move(destination, from string) {
	key := Lobby
	if destination == Lobby {
		key = from
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pose, ok := s.anchors[key]; ok {
		s.pose = pose
		return
	}
	if pose, ok := s.anchors[PurpleRoom]; ok && destination == Lobby {
		s.pose = pose
		return
	}
	s.pose = DefaultSpawnPose
}
