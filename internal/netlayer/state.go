package netlayer

import "fmt"

// State is the connection state of the local process.
type State uint8

const (
	StartingHost State = iota
	StartingClient
	MigratingHost
	MigratingClient
	RestoringHost
	RestoringClient
	SwitchingRoom
	Connected
)

var stateNames = [...]string{
	StartingHost:    "StartingHost",
	StartingClient:  "StartingClient",
	MigratingHost:   "MigratingHost",
	MigratingClient: "MigratingClient",
	RestoringHost:   "RestoringHost",
	RestoringClient: "RestoringClient",
	SwitchingRoom:   "SwitchingRoom",
	Connected:       "Connected",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Hosting reports whether an attempt started from s claims the host role.
func (s State) Hosting() bool {
	return s == StartingHost || s == RestoringHost
}

// Restoring reports whether s is part of a migration rather than a fresh start.
func (s State) Restoring() bool {
	return s == RestoringHost || s == RestoringClient
}

// Action is the transport command a transition asks for.
type Action uint8

const (
	ActionNone Action = iota
	ActionBecomeHost
	ActionBecomeClient
)

func (a Action) String() string {
	switch a {
	case ActionBecomeHost:
		return "become_host"
	case ActionBecomeClient:
		return "become_client"
	default:
		return "none"
	}
}
