package netlayer

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/spaces/internal/util"
)

// ErrTransportClosed is returned by Run when the transport's event stream ends.
var ErrTransportClosed = errors.New("transport event stream closed")

// Callbacks connects the Layer to application code. Every callback runs on
// the Layer's event loop except ClientReady, which runs with the attempt it
// belongs to. Nil callbacks are skipped.
type Callbacks struct {
	// OnAttempt is called right before a become_host/become_client attempt
	// starts from state s, so role-scoped state can be prepared before any
	// event of that role arrives.
	OnAttempt func(s State)

	OnHostStarted    func()
	OnClientStarted  func()
	OnHostRestored   func()
	OnClientRestored func()

	OnPeerConnected    func(peer PeerID)
	OnPeerDisconnected func(peer PeerID)
	OnMessage          func(from PeerID, data []byte)

	// Elect maps the transport's reported successor to the peer that takes
	// over as host. Defaults to the reported peer.
	Elect func(reported PeerID) PeerID

	// ClientReady is awaited after a client attempt is admitted and before
	// the Layer enters Connected. ctx is cancelled if the attempt is superseded.
	ClientReady func(ctx context.Context, restoring bool) error
}

// Option configures a Layer.
type Option func(*Layer)

// WithMetrics sets the metrics the Layer reports to.
func WithMetrics(m *Metrics) Option {
	return func(l *Layer) { l.metrics = m }
}

type attemptResult struct {
	gen  uint64
	from State
	err  error
}

// Layer is the connection state machine. All transitions happen on the
// goroutine executing Run; at most one attempt is outstanding at any time.
type Layer struct {
	tr      Transport
	cb      Callbacks
	metrics *Metrics

	switchCh chan string
	results  chan attemptResult

	mu    sync.RWMutex
	state State
	room  string

	// Owned by the Run goroutine.
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Layer that will negotiate a role for room over tr.
func New(tr Transport, room string, cb Callbacks, opts ...Option) *Layer {
	l := &Layer{
		tr:       tr,
		cb:       cb,
		metrics:  NopMetrics(),
		switchCh: make(chan string),
		results:  make(chan attemptResult),
		state:    StartingHost,
		room:     room,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current connection state.
func (l *Layer) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Room returns the room the Layer is in or trying to reach.
func (l *Layer) Room() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.room
}

// SwitchRoom asks the running Layer to leave its room and join room as a
// client. The current role is shut down before the new room is contacted.
func (l *Layer) SwitchRoom(ctx context.Context, room string) error {
	select {
	case l.switchCh <- room:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts by claiming the host role and then processes transport events
// until ctx is cancelled or the transport's event stream closes. Outstanding
// attempts are cancelled and awaited before Run returns.
func (l *Layer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		l.wg.Wait()
	}()

	util.LogInfo("joining room %q", l.Room())
	l.begin(ctx, StartingHost, ActionBecomeHost)

	events := l.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case room := <-l.switchCh:
			l.switchRoom(room)

		case res := <-l.results:
			l.complete(res)

		case ev, ok := <-events:
			if !ok {
				return ErrTransportClosed
			}
			l.handle(ctx, ev)
		}
	}
}

// ---------------------------------------------------------------------------
// Event loop internals
// ---------------------------------------------------------------------------

func (l *Layer) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventPeerConnected:
		util.LogDebug("peer %d connected", ev.Peer)
		if l.cb.OnPeerConnected != nil {
			l.cb.OnPeerConnected(ev.Peer)
		}

	case EventPeerDisconnected:
		util.LogDebug("peer %d disconnected", ev.Peer)
		if l.cb.OnPeerDisconnected != nil {
			l.cb.OnPeerDisconnected(ev.Peer)
		}

	case EventMessage:
		if l.cb.OnMessage != nil {
			l.cb.OnMessage(ev.Peer, ev.Data)
		}

	case EventMasterChanged:
		elected := ev.Peer
		if l.cb.Elect != nil {
			elected = l.cb.Elect(ev.Peer)
		}
		util.LogWarning("host left, migrating (successor: peer %d)", elected)
		l.metrics.Migrations.Add(1)

		// Whatever was in flight belonged to the room that just lost its host.
		l.cancelAttempt()
		next, _ := Transition(l.State(), Event{Type: EventMasterChanged, Peer: elected}, l.tr.LocalID())
		l.setState(next)

	case EventDisconnected:
		prev := l.State()
		next, action := Transition(prev, ev, l.tr.LocalID())
		if next == prev && action == ActionNone {
			util.LogDebug("disconnected (%s) while %s, ignoring", ev.Cause, prev)
			return
		}
		util.LogWarning("disconnected (%s) while %s: %s", ev.Cause, prev, describe(next))
		l.begin(ctx, next, action)
	}
}

func (l *Layer) switchRoom(room string) {
	util.LogInfo("switching room %q -> %q", l.Room(), room)

	l.cancelAttempt()
	l.mu.Lock()
	l.room = room
	l.mu.Unlock()
	l.setState(SwitchingRoom)

	// The resulting EventDisconnected drives SwitchingRoom -> StartingClient.
	if err := l.tr.Shutdown(); err != nil {
		util.LogWarning("shutdown for room switch: %v", err)
	}
}

// begin moves to state next and, unless action is ActionNone, starts the
// matching transport attempt, superseding any outstanding one.
func (l *Layer) begin(ctx context.Context, next State, action Action) {
	l.cancelAttempt()
	l.setState(next)
	if action == ActionNone {
		return
	}

	if l.cb.OnAttempt != nil {
		l.cb.OnAttempt(next)
	}

	gen, room := l.gen, l.Room()
	actx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.metrics.Attempts.With("action", action.String()).Add(1)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := l.attempt(actx, next, action, room)
		select {
		case l.results <- attemptResult{gen: gen, from: next, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (l *Layer) attempt(ctx context.Context, from State, action Action, room string) error {
	switch action {
	case ActionBecomeHost:
		return l.tr.BecomeHost(ctx, room)

	case ActionBecomeClient:
		if err := l.tr.BecomeClient(ctx, room); err != nil {
			return err
		}
		if l.cb.ClientReady != nil {
			return l.cb.ClientReady(ctx, from.Restoring())
		}
	}
	return nil
}

// complete applies the outcome of an attempt. Failures are only logged: the
// transport reports them again as EventDisconnected, which drives the retry.
func (l *Layer) complete(res attemptResult) {
	if res.gen != l.gen {
		l.metrics.StaleResults.Add(1)
		util.LogDebug("discarding superseded %s attempt result", res.from)
		return
	}
	l.cancel()
	l.cancel = nil

	if res.err != nil {
		util.LogWarning("%s attempt failed: %v", res.from, res.err)
		return
	}

	l.setState(Connected)

	var fn func()
	switch res.from {
	case StartingHost:
		util.LogSuccess("you are the host of %q", l.Room())
		fn = l.cb.OnHostStarted
	case StartingClient:
		util.LogSuccess("you are a client of %q", l.Room())
		fn = l.cb.OnClientStarted
	case RestoringHost:
		util.LogSuccess("you are the host of %q (restored)", l.Room())
		fn = l.cb.OnHostRestored
	case RestoringClient:
		util.LogSuccess("you are a client of %q (restored)", l.Room())
		fn = l.cb.OnClientRestored
	}
	if fn != nil {
		fn()
	}
}

// cancelAttempt cancels the outstanding attempt, if any, and invalidates its
// result.
func (l *Layer) cancelAttempt() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
}

func (l *Layer) setState(next State) {
	l.mu.Lock()
	prev := l.state
	l.state = next
	l.mu.Unlock()

	if prev != next {
		l.metrics.Transitions.With("from", prev.String(), "to", next.String()).Add(1)
		util.LogDebug("state %s -> %s", prev, next)
	}
}

func describe(next State) string {
	switch next {
	case StartingClient:
		return "joining as client instead"
	case StartingHost:
		return "hosting instead"
	case RestoringHost:
		return "restoring as host"
	case RestoringClient:
		return "restoring as client"
	}
	return next.String()
}
