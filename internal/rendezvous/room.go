package rendezvous

import (
	"github.com/1ureka/spaces/internal/util"
)

// HostID is the peer id the room server gives to a room's host.
const HostID uint64 = 0

type room struct {
	name    string
	host    *member
	members map[uint64]*member // clients only
	nextID  uint64
}

// lowest returns the member with the lowest id, or nil.
func (r *room) lowest() *member {
	var min *member
	for _, m := range r.members {
		if min == nil || m.id < min.id {
			min = m
		}
	}
	return min
}

func (r *room) lookup(id uint64) *member {
	if id == HostID {
		return r.host
	}
	return r.members[id]
}

// ---------------------------------------------------------------------------
// Dispatch (all with s.mu held)
// ---------------------------------------------------------------------------

func (s *Server) dispatch(m *member, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Type {
	case MsgHost:
		s.claimLocked(m, msg.Room)
	case MsgJoin:
		s.joinLocked(m, msg.Room)
	case MsgLeave:
		s.departLocked(m)
	case MsgSend:
		s.relayLocked(m, msg.Peer, msg.Data)
	case MsgBroadcast:
		s.broadcastLocked(m, msg.Data)
	default:
		util.LogDebug("unknown frame type %q from %s", msg.Type, m.addr)
	}
}

func (s *Server) claimLocked(m *member, name string) {
	if m.room != nil {
		m.enqueue(Message{Type: MsgRejected, Room: name, Reason: ReasonRoomConflict})
		return
	}
	if _, ok := s.rooms[name]; ok {
		s.metrics.Conflicts.Add(1)
		m.enqueue(Message{Type: MsgRejected, Room: name, Reason: ReasonRoomConflict})
		return
	}

	r := &room{name: name, host: m, members: make(map[uint64]*member), nextID: HostID + 1}
	s.rooms[name] = r
	m.room, m.id = r, HostID

	s.metrics.Claims.Add(1)
	s.metrics.Rooms.Set(float64(len(s.rooms)))
	s.metrics.Peers.Add(1)
	util.LogInfo("room %q claimed by %s", name, m.addr)

	m.enqueue(Message{Type: MsgAccepted, Room: name, Peer: HostID})
}

func (s *Server) joinLocked(m *member, name string) {
	r, ok := s.rooms[name]
	if !ok || m.room != nil {
		s.metrics.NotFound.Add(1)
		m.enqueue(Message{Type: MsgRejected, Room: name, Reason: ReasonRoomNotFound})
		return
	}

	id := r.nextID
	r.nextID++
	r.members[id] = m
	m.room, m.id = r, id

	s.metrics.Joins.Add(1)
	s.metrics.Peers.Add(1)
	util.LogInfo("peer %d (%s) joined room %q", id, m.addr, name)

	m.enqueue(Message{Type: MsgAccepted, Room: name, Peer: id})
	m.enqueue(Message{Type: MsgPeerJoined, Room: name, Peer: id})
	r.host.enqueue(Message{Type: MsgPeerJoined, Room: name, Peer: id})
}

// departLocked removes m from its room. When m hosted the room, the room is
// closed: every member learns the lowest remaining id and then that the
// room is gone, so the fallback host can claim the name again.
func (s *Server) departLocked(m *member) {
	r := m.room
	if r == nil {
		return
	}
	m.room = nil
	s.metrics.Peers.Add(-1)

	if m != r.host {
		delete(r.members, m.id)
		util.LogInfo("peer %d left room %q", m.id, r.name)
		r.host.enqueue(Message{Type: MsgPeerLeft, Room: r.name, Peer: m.id})
		return
	}

	delete(s.rooms, r.name)
	s.metrics.Rooms.Set(float64(len(s.rooms)))

	next := r.lowest()
	if next == nil {
		util.LogInfo("room %q closed", r.name)
		return
	}

	s.metrics.HostLeft.Add(1)
	util.LogWarning("host of room %q left, %d member(s) migrate, lowest id %d", r.name, len(r.members), next.id)
	for _, other := range r.members {
		other.room = nil
		s.metrics.Peers.Add(-1)
		other.enqueue(Message{Type: MsgMasterChanged, Room: r.name, Peer: next.id})
		other.enqueue(Message{Type: MsgClosed, Room: r.name, Reason: ReasonHostLeft})
	}
}

func (s *Server) relayLocked(m *member, to uint64, data []byte) {
	if m.room == nil {
		return
	}
	target := m.room.lookup(to)
	if target == nil || target == m {
		util.LogDebug("dropping message from peer %d to unknown peer %d in %q", m.id, to, m.room.name)
		return
	}
	s.metrics.Relayed.Add(1)
	target.enqueue(Message{Type: MsgMessage, Peer: m.id, Data: data})
}

func (s *Server) broadcastLocked(m *member, data []byte) {
	r := m.room
	if r == nil {
		return
	}
	msg := Message{Type: MsgMessage, Peer: m.id, Data: data}
	if r.host != m {
		r.host.enqueue(msg)
	}
	for _, other := range r.members {
		if other != m {
			other.enqueue(msg)
		}
	}
	s.metrics.Relayed.Add(1)
}
