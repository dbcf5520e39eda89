package app

import (
	"testing"

	"github.com/1ureka/spaces/internal/protocol"
)

// TestSpawnPointMove verifies anchor selection for portal trips.
func TestSpawnPointMove(t *testing.T) {
	fromBlue := protocol.Pose{Position: protocol.Vec3{X: 4}, Rotation: protocol.IdentityQuat}
	fromPurple := protocol.Pose{Position: protocol.Vec3{X: -4}, Rotation: protocol.IdentityQuat}
	fromLobby := protocol.Pose{Position: protocol.Vec3{Z: 2}, Rotation: protocol.IdentityQuat}

	sp := NewSpawnPoint(map[string]protocol.Pose{
		"BlueRoom": fromBlue,
		PurpleRoom: fromPurple,
		Lobby:      fromLobby,
	})

	testCases := []struct {
		name        string
		destination string
		from        string
		want        protocol.Pose
	}{
		{"blue to lobby", Lobby, "BlueRoom", fromBlue},
		{"unknown room to lobby", Lobby, "GreenRoom", fromPurple},
		{"lobby to red", "RedRoom", Lobby, fromLobby},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sp.Move(tc.destination, tc.from)
			if got := sp.Pose(); got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}

	sp.Reset()
	if sp.Pose() != DefaultSpawnPose {
		t.Errorf("Reset did not restore the default pose")
	}
}

// TestSpawnPointWithoutAnchors verifies the default fallback.
func TestSpawnPointWithoutAnchors(t *testing.T) {
	sp := NewSpawnPoint(nil)
	sp.Move("BlueRoom", Lobby)
	if sp.Pose() != DefaultSpawnPose {
		t.Errorf("got %+v", sp.Pose())
	}
}
