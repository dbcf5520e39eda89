package signaling

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHandoverHoldsLinkMessages verifies that messages arriving over a link
// wait for the relayed marker and are then delivered in arrival order,
// followed by later link messages.
func TestHandoverHoldsLinkMessages(t *testing.T) {
	var h handover
	var got []string
	deliver := func(data []byte) { got = append(got, string(data)) }

	h.receive([]byte("link-1"), deliver)
	h.receive([]byte("link-2"), deliver)
	assert.Empty(t, got)

	// Relayed messages sent before the switch are delivered by the relay
	// path ahead of the marker.
	deliver([]byte("relay-0"))
	h.release(deliver)
	h.receive([]byte("link-3"), deliver)
	h.release(deliver)

	assert.Equal(t, []string{"relay-0", "link-1", "link-2", "link-3"}, got)
}

// TestHandoverMarksOnce verifies that the marker is relayed once, and again
// only after a failed attempt.
func TestHandoverMarksOnce(t *testing.T) {
	var h handover
	calls := 0
	fail := errors.New("relay down")

	err := h.mark(func() error { calls++; return fail })
	require.ErrorIs(t, err, fail)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.mark(func() error { calls++; return nil }))
	}
	assert.Equal(t, 2, calls)
}
