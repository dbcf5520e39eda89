package netlayer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nl "github.com/1ureka/spaces/internal/netlayer"
)

// ---------------------------------------------------------------------------
// Scripted transport
// ---------------------------------------------------------------------------

// call is one request the Layer made to the fake transport. Attempts block
// until the test answers on reply or the attempt's context is cancelled.
type call struct {
	op    string // "host", "client" or "shutdown"
	room  string
	ctx   context.Context
	reply chan error
}

type fakeTransport struct {
	local  atomic.Uint64
	events chan nl.Event
	calls  chan call
}

var _ nl.Transport = (*fakeTransport)(nil)

func newFakeTransport(local nl.PeerID) *fakeTransport {
	ft := &fakeTransport{
		events: make(chan nl.Event, 16),
		calls:  make(chan call, 16),
	}
	ft.local.Store(local)
	return ft
}

func (f *fakeTransport) attempt(ctx context.Context, op, room string) error {
	c := call{op: op, room: room, ctx: ctx, reply: make(chan error, 1)}
	f.calls <- c
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) BecomeHost(ctx context.Context, room string) error {
	return f.attempt(ctx, "host", room)
}

func (f *fakeTransport) BecomeClient(ctx context.Context, room string) error {
	return f.attempt(ctx, "client", room)
}

func (f *fakeTransport) Shutdown() error {
	f.calls <- call{op: "shutdown"}
	return nil
}

func (f *fakeTransport) LocalID() nl.PeerID     { return f.local.Load() }
func (f *fakeTransport) Events() <-chan nl.Event { return f.events }

func (f *fakeTransport) emit(ev nl.Event) { f.events <- ev }

// next returns the Layer's next request or fails the test.
func (f *fakeTransport) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a transport call")
		return call{}
	}
}

// quiet asserts that the Layer makes no request for a short while.
func (f *fakeTransport) quiet(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected transport call %q", c.op)
	case <-time.After(100 * time.Millisecond):
	}
}

// ---------------------------------------------------------------------------
// Callback recorder
// ---------------------------------------------------------------------------

type recorder struct {
	mu        sync.Mutex
	fired     []string
	restoring []bool
	elect     func(nl.PeerID) nl.PeerID
	notify    chan string
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan string, 16)}
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	r.fired = append(r.fired, name)
	r.mu.Unlock()
	r.notify <- name
}

func (r *recorder) callbacks() nl.Callbacks {
	return nl.Callbacks{
		OnHostStarted:    func() { r.record("host_started") },
		OnClientStarted:  func() { r.record("client_started") },
		OnHostRestored:   func() { r.record("host_restored") },
		OnClientRestored: func() { r.record("client_restored") },
		Elect: func(p nl.PeerID) nl.PeerID {
			if r.elect != nil {
				return r.elect(p)
			}
			return p
		},
		ClientReady: func(ctx context.Context, restoring bool) error {
			r.mu.Lock()
			r.restoring = append(r.restoring, restoring)
			r.mu.Unlock()
			return nil
		},
	}
}

func (r *recorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.notify:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

// start runs the Layer in the background and returns a function that stops
// it and returns Run's error.
func start(t *testing.T, l *nl.Layer) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func awaitState(t *testing.T, l *nl.Layer, want nl.State) {
	t.Helper()
	require.Eventually(t, func() bool { return l.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s (is %s)", want, l.State())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestFirstPeerBecomesHost verifies that a Layer starts by claiming the host
// role and reports host_started exactly once.
func TestFirstPeerBecomesHost(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(nl.ServerID)
	rec := newRecorder()
	l := nl.New(ft, "Lobby-abc", rec.callbacks())
	stop := start(t, l)

	c := ft.next(t)
	require.Equal(t, "host", c.op)
	require.Equal(t, "Lobby-abc", c.room)
	c.reply <- nil

	rec.wait(t, "host_started")
	awaitState(t, l, nl.Connected)

	require.ErrorIs(t, stop(), context.Canceled)
	assert.Equal(t, []string{"host_started"}, rec.snapshot())
}

// TestConflictFallsBackToClient verifies that a rejected host claim leads to
// exactly one client attempt and never to a host_started callback.
func TestConflictFallsBackToClient(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(3)
	rec := newRecorder()
	l := nl.New(ft, "Lobby-abc", rec.callbacks())
	stop := start(t, l)

	c := ft.next(t)
	require.Equal(t, "host", c.op)
	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseRoomConflict})
	c.reply <- errors.New("room already has a host")

	c = ft.next(t)
	require.Equal(t, "client", c.op)
	require.Equal(t, "Lobby-abc", c.room)
	c.reply <- nil

	rec.wait(t, "client_started")
	awaitState(t, l, nl.Connected)
	ft.quiet(t)

	stop()
	assert.Equal(t, []string{"client_started"}, rec.snapshot())
	assert.Equal(t, []bool{false}, rec.restoring)
}

// TestSwitchRoomShutsDownBeforeJoining verifies that the current role is
// shut down before the new room is contacted, and that the new room is
// joined as a client.
func TestSwitchRoomShutsDownBeforeJoining(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(nl.ServerID)
	rec := newRecorder()
	l := nl.New(ft, "Lobby-abc", rec.callbacks())
	stop := start(t, l)

	ft.next(t).reply <- nil
	rec.wait(t, "host_started")

	require.NoError(t, l.SwitchRoom(context.Background(), "PurpleRoom"))

	c := ft.next(t)
	require.Equal(t, "shutdown", c.op)
	awaitState(t, l, nl.SwitchingRoom)
	assert.Equal(t, "PurpleRoom", l.Room())

	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseShutdown})

	c = ft.next(t)
	require.Equal(t, "client", c.op)
	require.Equal(t, "PurpleRoom", c.room)
	c.reply <- nil

	rec.wait(t, "client_started")
	stop()
}

// TestMigrationToLocalPeer verifies that when the election picks the local
// peer, the Layer restores the room as its host.
func TestMigrationToLocalPeer(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(2)
	rec := newRecorder()
	// The transport suggests peer 1, but the session knows peer 2 was announced.
	rec.elect = func(nl.PeerID) nl.PeerID { return 2 }
	l := nl.New(ft, "Lobby-abc", rec.callbacks())
	stop := start(t, l)

	ft.next(t)
	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseRoomConflict})
	ft.next(t).reply <- nil
	rec.wait(t, "client_started")

	ft.emit(nl.Event{Type: nl.EventMasterChanged, Peer: 1})
	awaitState(t, l, nl.MigratingHost)

	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseHostLeft})
	c := ft.next(t)
	require.Equal(t, "host", c.op)
	c.reply <- nil

	rec.wait(t, "host_restored")
	awaitState(t, l, nl.Connected)
	stop()
}

// TestMigrationToRemotePeer verifies that the peers not elected rejoin as
// clients and report a restoring client.
func TestMigrationToRemotePeer(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(5)
	rec := newRecorder()
	l := nl.New(ft, "Lobby-abc", rec.callbacks())
	stop := start(t, l)

	ft.next(t)
	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseRoomConflict})
	ft.next(t).reply <- nil
	rec.wait(t, "client_started")

	ft.emit(nl.Event{Type: nl.EventMasterChanged, Peer: 1})
	awaitState(t, l, nl.MigratingClient)
	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseHostLeft})

	c := ft.next(t)
	require.Equal(t, "client", c.op)
	c.reply <- nil
	rec.wait(t, "client_restored")

	stop()
	assert.Equal(t, []bool{false, true}, rec.restoring)
}

// TestRestoringClientRetriesAsHost verifies that a restoring client that
// finds the room without a host claims it.
func TestRestoringClientRetriesAsHost(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(nl.ServerID)
	rec := newRecorder()
	l := nl.New(ft, "Lobby-abc", rec.callbacks())
	stop := start(t, l)

	ft.next(t).reply <- nil
	rec.wait(t, "host_started")

	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseTimeout})
	c := ft.next(t)
	require.Equal(t, "client", c.op)
	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseRoomNotFound})

	c = ft.next(t)
	require.Equal(t, "host", c.op)
	c.reply <- nil
	rec.wait(t, "host_restored")
	stop()
}

// TestSupersededResultIsDiscarded verifies that a late success from an
// attempt that was already replaced has no effect.
func TestSupersededResultIsDiscarded(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(3)
	rec := newRecorder()
	l := nl.New(ft, "Lobby-abc", rec.callbacks())
	stop := start(t, l)

	stale := ft.next(t)
	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseRoomConflict})

	fresh := ft.next(t)
	require.Equal(t, "client", fresh.op)
	require.Error(t, stale.ctx.Err(), "superseded attempt should be cancelled")

	stale.reply <- nil
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, nl.StartingClient, l.State())
	assert.Empty(t, rec.snapshot())

	fresh.reply <- nil
	rec.wait(t, "client_started")
	stop()
	assert.Equal(t, []string{"client_started"}, rec.snapshot())
}

// TestConnectedIgnoresNonTimeoutDisconnect verifies that only a timeout
// moves a connected peer into restoration.
func TestConnectedIgnoresNonTimeoutDisconnect(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(nl.ServerID)
	rec := newRecorder()
	l := nl.New(ft, "Lobby-abc", rec.callbacks())
	stop := start(t, l)

	ft.next(t).reply <- nil
	rec.wait(t, "host_started")

	for _, cause := range []nl.Cause{nl.CauseKicked, nl.CauseShutdown, nl.CauseUnknown} {
		ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: cause})
	}
	ft.quiet(t)
	assert.Equal(t, nl.Connected, l.State())

	ft.emit(nl.Event{Type: nl.EventDisconnected, Cause: nl.CauseTimeout})
	c := ft.next(t)
	require.Equal(t, "client", c.op)
	c.reply <- nil
	rec.wait(t, "client_restored")
	stop()
}

// TestPeerEventsForwarded verifies that peer and message events reach the
// callbacks in arrival order.
func TestPeerEventsForwarded(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(nl.ServerID)
	got := make(chan string, 8)
	l := nl.New(ft, "Lobby-abc", nl.Callbacks{
		OnPeerConnected:    func(p nl.PeerID) { got <- "join" },
		OnPeerDisconnected: func(p nl.PeerID) { got <- "leave" },
		OnMessage:          func(from nl.PeerID, data []byte) { got <- "msg:" + string(data) },
	})
	stop := start(t, l)
	ft.next(t)

	ft.emit(nl.Event{Type: nl.EventPeerConnected, Peer: 1})
	ft.emit(nl.Event{Type: nl.EventMessage, Peer: 1, Data: []byte("hi")})
	ft.emit(nl.Event{Type: nl.EventPeerDisconnected, Peer: 1})

	for _, want := range []string{"join", "msg:hi", "leave"} {
		select {
		case g := <-got:
			assert.Equal(t, want, g)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	stop()
}

// TestRunStopsWhenEventsClose verifies that Run returns ErrTransportClosed
// once the transport closes its event stream.
func TestRunStopsWhenEventsClose(t *testing.T) {
	defer leaktest.Check(t)()

	ft := newFakeTransport(nl.ServerID)
	l := nl.New(ft, "Lobby-abc", nl.Callbacks{})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	ft.next(t)
	close(ft.events)

	select {
	case err := <-done:
		require.ErrorIs(t, err, nl.ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
