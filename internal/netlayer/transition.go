package netlayer

// Transition computes the next state and the transport command for ev.
//
// Only EventDisconnected and EventMasterChanged move the machine. For
// EventMasterChanged, ev.Peer must already be the elected successor; local
// is the id the process held in the room that lost its host.
//
// Outside Connected the cause of a disconnect is not inspected: any failure
// of an attempt is retried with the opposite role (or, while migrating,
// with the role the election gave us).
func Transition(s State, ev Event, local PeerID) (State, Action) {
	switch ev.Type {
	case EventMasterChanged:
		if ev.Peer == local {
			return MigratingHost, ActionNone
		}
		return MigratingClient, ActionNone

	case EventDisconnected:
		switch s {
		case StartingHost:
			return StartingClient, ActionBecomeClient
		case StartingClient:
			return StartingHost, ActionBecomeHost
		case MigratingHost:
			return RestoringHost, ActionBecomeHost
		case MigratingClient:
			return RestoringClient, ActionBecomeClient
		case RestoringHost:
			return RestoringClient, ActionBecomeClient
		case RestoringClient:
			return RestoringHost, ActionBecomeHost
		case SwitchingRoom:
			return StartingClient, ActionBecomeClient
		case Connected:
			if ev.Cause == CauseTimeout {
				return RestoringClient, ActionBecomeClient
			}
		}
	}
	return s, ActionNone
}
