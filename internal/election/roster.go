// Package election keeps the host-side roster of connected peers and the
// deterministic choice of the fallback host: the lowest connected peer id.
package election

import (
	"math"
	"sort"
)

// Unset is the fallback host value when no peer can take over.
const Unset uint64 = math.MaxUint64

// Roster is the host-only set of connected peers. It is not safe for
// concurrent use; the session coordinator serializes access.
type Roster struct {
	host     uint64
	peers    map[uint64]struct{}
	fallback uint64
}

// NewRoster creates an empty roster for the host with id host. The host is
// never a member and never the fallback.
func NewRoster(host uint64) *Roster {
	return &Roster{
		host:     host,
		peers:    make(map[uint64]struct{}),
		fallback: Unset,
	}
}

// Join records peer as connected. It returns the fallback host after the
// join and whether it changed, in which case it must be broadcast to every
// peer; otherwise only the joining peer needs the current value.
func (r *Roster) Join(peer uint64) (fallback uint64, changed bool) {
	if peer == r.host || peer == Unset {
		return r.fallback, false
	}
	r.peers[peer] = struct{}{}

	if peer < r.fallback {
		r.fallback = peer
		return r.fallback, true
	}
	return r.fallback, false
}

// Leave removes peer. When the departing peer was the fallback host, the
// minimum remaining id is elected and changed is true (the new value, which
// may be Unset, must be broadcast).
func (r *Roster) Leave(peer uint64) (fallback uint64, changed bool) {
	delete(r.peers, peer)

	if peer != r.fallback {
		return r.fallback, false
	}

	r.fallback = Unset
	for id := range r.peers {
		if id < r.fallback {
			r.fallback = id
		}
	}
	return r.fallback, true
}

// Fallback returns the current fallback host, or Unset.
func (r *Roster) Fallback() uint64 { return r.fallback }

// Len returns the number of connected non-host peers.
func (r *Roster) Len() int { return len(r.peers) }

// Contains reports whether peer is connected.
func (r *Roster) Contains(peer uint64) bool {
	_, ok := r.peers[peer]
	return ok
}

// Peers returns the connected peers in ascending order.
func (r *Roster) Peers() []uint64 {
	ids := make([]uint64, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
