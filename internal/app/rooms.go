package app

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Destinations with special naming rules.
const (
	Lobby      = "Lobby"
	PurpleRoom = "PurpleRoom"
)

// NewApplicationID returns a short random id for this process: a 32-bit
// value in lower-case hex.
func NewApplicationID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", binary.BigEndian.Uint32(id[:4]))
}

// LobbyID returns the lobby session id owned by application appID.
func LobbyID(appID string) string {
	return "Lobby-" + appID
}

// NormalizeLobbyID shortens lobby session ids that were generated outside
// the application (a bare 128-bit hex string) to "Lobby-" and their first
// 8 hex digits. Ids already containing "Lobby" are returned unchanged.
func NormalizeLobbyID(id string) string {
	if strings.Contains(id, Lobby) {
		return id
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return "Lobby-" + id
}

// MatchSessionID returns the match session id for destination: none in the
// lobby, the shared PurpleRoom as-is, and any other room scoped to the lobby.
func MatchSessionID(destination, lobbyID string) string {
	switch destination {
	case Lobby:
		return ""
	case PurpleRoom:
		return destination
	default:
		return destination + lobbyID
	}
}

// Presence is where the local user is: the destination (scene) and the
// lobby and match sessions that name the room on the server.
type Presence struct {
	Destination string
	LobbyID     string
	MatchID     string
}

// NewPresence returns the presence of a freshly started application: its
// own lobby.
func NewPresence(appID string) Presence {
	return Presence{Destination: Lobby, LobbyID: LobbyID(appID)}
}

// PresenceAt returns the presence of a user invited to destination in
// lobby session lobbyID.
func PresenceAt(destination, lobbyID string) Presence {
	return Presence{
		Destination: destination,
		LobbyID:     lobbyID,
		MatchID:     MatchSessionID(destination, lobbyID),
	}
}

// RoomName returns the room to connect to: the match session if any, else
// the lobby session.
func (p Presence) RoomName() string {
	if p.MatchID != "" {
		return p.MatchID
	}
	return p.LobbyID
}

// GoTo returns the presence after travelling to destination. When
// destination is the lobby, lobbyID selects which one; otherwise the
// current lobby is kept.
func (p Presence) GoTo(destination, lobbyID string) Presence {
	if destination == Lobby {
		return PresenceAt(destination, lobbyID)
	}
	return PresenceAt(destination, p.LobbyID)
}
