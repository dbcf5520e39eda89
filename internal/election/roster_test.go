package election_test

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/1ureka/spaces/internal/election"
)

const hostID = 0

// TestJoinOrder walks the join order 5, 2, 9 into a fresh host and then
// removes peer 2.
func TestJoinOrder(t *testing.T) {
	r := election.NewRoster(hostID)
	if got := r.Fallback(); got != election.Unset {
		t.Fatalf("fresh roster: got %d, want Unset", got)
	}

	steps := []struct {
		peer        uint64
		want        uint64
		wantChanged bool
	}{
		{5, 5, true},
		{2, 2, true},
		{9, 2, false},
	}
	for _, s := range steps {
		got, changed := r.Join(s.peer)
		if got != s.want || changed != s.wantChanged {
			t.Fatalf("Join(%d): got (%d, %v), want (%d, %v)", s.peer, got, changed, s.want, s.wantChanged)
		}
	}

	got, changed := r.Leave(2)
	if got != 5 || !changed {
		t.Fatalf("Leave(2): got (%d, %v), want (5, true)", got, changed)
	}
}

// TestLeaveNonFallbackIsNoop verifies that only the fallback host's
// departure triggers a recompute.
func TestLeaveNonFallbackIsNoop(t *testing.T) {
	r := election.NewRoster(hostID)
	r.Join(3)
	r.Join(8)

	got, changed := r.Leave(8)
	if got != 3 || changed {
		t.Fatalf("Leave(8): got (%d, %v), want (3, false)", got, changed)
	}
	if r.Contains(8) {
		t.Error("peer 8 still in roster")
	}
}

// TestLastPeerLeaves verifies that the fallback becomes Unset when only the
// host is left.
func TestLastPeerLeaves(t *testing.T) {
	r := election.NewRoster(hostID)
	r.Join(4)

	got, changed := r.Leave(4)
	if got != election.Unset || !changed {
		t.Fatalf("Leave(4): got (%d, %v), want (Unset, true)", got, changed)
	}
	if r.Len() != 0 {
		t.Errorf("roster should be empty, has %d", r.Len())
	}
}

// TestHostNeverElected verifies the host's own id is never a candidate,
// including hosts whose id is not the reserved server id.
func TestHostNeverElected(t *testing.T) {
	for _, host := range []uint64{0, 1, 7} {
		r := election.NewRoster(host)
		r.Join(host)
		if r.Fallback() == host || r.Contains(host) {
			t.Errorf("host %d joined its own roster", host)
		}
		r.Join(host + 10)
		if r.Fallback() != host+10 {
			t.Errorf("host %d: fallback %d, want %d", host, r.Fallback(), host+10)
		}
	}
}

// TestDuplicateJoin verifies that joining twice does not alter the outcome.
func TestDuplicateJoin(t *testing.T) {
	r := election.NewRoster(hostID)
	r.Join(6)
	r.Join(6)

	if got, changed := r.Join(6); got != 6 || changed {
		t.Fatalf("third Join(6): got (%d, %v), want (6, false)", got, changed)
	}
	if r.Len() != 1 {
		t.Errorf("roster has %d members, want 1", r.Len())
	}
}

// TestFallbackIsMinimum checks, for arbitrary join/leave sequences, that the
// fallback host equals the smallest connected peer, or Unset when there is none.
func TestFallbackIsMinimum(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := election.NewRoster(hostID)
		model := map[uint64]bool{}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			peer := rapid.Uint64Range(0, 16).Draw(t, "peer")
			if rapid.Bool().Draw(t, "join") {
				r.Join(peer)
				if peer != hostID {
					model[peer] = true
				}
			} else {
				r.Leave(peer)
				delete(model, peer)
			}

			want := election.Unset
			for id := range model {
				if id < want {
					want = id
				}
			}
			if got := r.Fallback(); got != want {
				t.Fatalf("step %d: fallback %d, want %d (roster %v)", i, got, want, r.Peers())
			}
			if r.Len() != len(model) {
				t.Fatalf("step %d: roster has %d peers, want %d", i, r.Len(), len(model))
			}
		}
	})
}
