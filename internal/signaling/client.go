// Package signaling connects a peer to the room server. Client implements
// the netlayer Transport (host/client role attempts, membership events) and
// the session Sender (relayed or direct-link messaging).
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"

	"github.com/1ureka/spaces/internal/netlayer"
	"github.com/1ureka/spaces/internal/rendezvous"
	"github.com/1ureka/spaces/internal/transport"
	"github.com/1ureka/spaces/internal/util"
)

var (
	// ErrRoomConflict is returned by BecomeHost when the room already has a host.
	ErrRoomConflict = errors.New("signaling: room already has a host")
	// ErrRoomNotFound is returned by BecomeClient when the room has no host.
	ErrRoomNotFound = errors.New("signaling: room has no host")
	// ErrClosed is returned when no role is active.
	ErrClosed = errors.New("signaling: not connected")
)

// Option configures a Client.
type Option func(*Client)

// WithDirectLinks makes the host negotiate a WebRTC DataChannel with every
// admitted client. Session messages use the link once it is open.
func WithDirectLinks(opts ...transport.Option) Option {
	return func(c *Client) {
		c.direct = true
		c.linkOpts = opts
	}
}

// WithDial sets how many times, and with which initial backoff, the room
// server is dialled per role attempt.
func WithDial(attempts uint, delay time.Duration) Option {
	if attempts == 0 {
		attempts = 1 // retry-go treats 0 as unlimited
	}
	return func(c *Client) {
		c.dialAttempts = attempts
		c.dialDelay = delay
	}
}

// WithReadTimeout sets how long the connection may stay silent (no frame,
// no ping) before the role is considered lost to a timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// Client is a peer's connection to the room server. Each role attempt uses
// its own WebSocket; events from a connection that was replaced or shut down
// are never reported.
type Client struct {
	url          string
	direct       bool
	linkOpts     []transport.Option
	dialAttempts uint
	dialDelay    time.Duration
	readTimeout  time.Duration

	events    chan netlayer.Event
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	queue []netlayer.Event
	conn  *conn
	local netlayer.PeerID
}

var _ netlayer.Transport = (*Client)(nil)

// NewClient creates a Client for the room server WebSocket at url. Close
// releases it.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		dialAttempts: 3,
		dialDelay:    200 * time.Millisecond,
		readTimeout:  15 * time.Second,
		events:       make(chan netlayer.Event),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.pump()
	return c
}

// ---------------------------------------------------------------------------
// netlayer.Transport
// ---------------------------------------------------------------------------

// BecomeHost claims room. On rejection it reports EventDisconnected with
// CauseRoomConflict and returns ErrRoomConflict.
func (c *Client) BecomeHost(ctx context.Context, room string) error {
	return c.attempt(ctx, true, room)
}

// BecomeClient joins room. On rejection it reports EventDisconnected with
// CauseRoomNotFound and returns ErrRoomNotFound.
func (c *Client) BecomeClient(ctx context.Context, room string) error {
	return c.attempt(ctx, false, room)
}

// Shutdown ends the active role. Exactly one EventDisconnected with
// CauseShutdown follows, even when no role is active.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.enqueueLocked(netlayer.Event{Type: netlayer.EventDisconnected, Cause: netlayer.CauseShutdown})
	c.mu.Unlock()

	if cn != nil {
		_ = cn.write(rendezvous.Message{Type: rendezvous.MsgLeave})
		cn.close()
	}
	return nil
}

// LocalID returns the id assigned in the last room this Client was admitted
// to. It is kept after the role ends, until the next admission.
func (c *Client) LocalID() netlayer.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Events returns the event stream. It is closed by Close.
func (c *Client) Events() <-chan netlayer.Event {
	return c.events
}

// Close shuts the active connection down without reporting it and closes
// the event stream.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		cn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if cn != nil {
			cn.close()
		}
	})
	return nil
}

// ---------------------------------------------------------------------------
// session.Sender
// ---------------------------------------------------------------------------

// Send delivers data to peer to, over a direct link when one is open.
func (c *Client) Send(to netlayer.PeerID, data []byte) error {
	cn := c.current()
	if cn == nil {
		return ErrClosed
	}
	if l := cn.link(to); l != nil && l.Open() {
		err := l.handover.mark(func() error {
			return c.sendSignal(cn, to, signal{Type: signalHandover})
		})
		if err == nil {
			return l.Send(data)
		}
	}
	util.Stats.AddSent(len(data))
	return cn.write(rendezvous.Message{Type: rendezvous.MsgSend, Peer: to, Data: data})
}

// Broadcast delivers data to every other member of the room.
func (c *Client) Broadcast(data []byte) error {
	cn := c.current()
	if cn == nil {
		return ErrClosed
	}
	if !c.direct || !cn.host {
		util.Stats.AddSent(len(data))
		return cn.write(rendezvous.Message{Type: rendezvous.MsgBroadcast, Data: data})
	}

	var errs []error
	for _, peer := range cn.peerList() {
		if err := c.Send(peer, data); err != nil {
			errs = append(errs, fmt.Errorf("peer %d: %w", peer, err))
		}
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Attempts
// ---------------------------------------------------------------------------

func (c *Client) attempt(ctx context.Context, host bool, room string) error {
	cn, err := c.attach(ctx, host)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// An unreachable server fails the attempt like any other timeout.
		c.mu.Lock()
		c.enqueueLocked(netlayer.Event{Type: netlayer.EventDisconnected, Cause: netlayer.CauseTimeout})
		c.mu.Unlock()
		return fmt.Errorf("dial room server: %w", err)
	}

	typ := rendezvous.MsgJoin
	if host {
		typ = rendezvous.MsgHost
	}
	if err := cn.write(rendezvous.Message{Type: typ, Room: room}); err != nil {
		c.finish(cn, &netlayer.Event{Type: netlayer.EventDisconnected, Cause: netlayer.CauseTimeout})
		return fmt.Errorf("send %s: %w", typ, err)
	}

	select {
	case msg := <-cn.admit:
		if msg.Type == rendezvous.MsgAccepted {
			return nil
		}
		cause := netlayer.ParseCause(msg.Reason)
		c.finish(cn, &netlayer.Event{Type: netlayer.EventDisconnected, Cause: cause})
		return rejection(cause)

	case <-cn.ctx.Done():
		// The reader already reported why the connection ended.
		return ErrClosed

	case <-ctx.Done():
		c.finish(cn, nil)
		return ctx.Err()
	}
}

func rejection(cause netlayer.Cause) error {
	switch cause {
	case netlayer.CauseRoomConflict:
		return ErrRoomConflict
	case netlayer.CauseRoomNotFound:
		return ErrRoomNotFound
	}
	return fmt.Errorf("signaling: rejected (%s)", cause)
}

// attach replaces the current connection, if any, with a freshly dialled one.
func (c *Client) attach(ctx context.Context, host bool) (*conn, error) {
	c.mu.Lock()
	old := c.conn
	c.conn = nil
	c.mu.Unlock()
	if old != nil {
		old.close()
	}

	ws, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	cn := newConn(ws, host)
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		cn.close()
		return nil, ctx.Err()
	}
	c.conn = cn
	c.mu.Unlock()

	go c.readLoop(cn)
	return cn, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var ws *websocket.Conn
	err := retry.Do(
		func() error {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err != nil {
				return err
			}
			ws = conn
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.dialAttempts),
		retry.Delay(c.dialDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			util.LogWarning("failed to reach room server %s, attempt: %d: %v", c.url, attempt+1, err)
		}),
	)
	return ws, err
}

func (c *Client) current() *conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// finish ends cn. If cn is still the current connection, ev (when not nil)
// is reported; otherwise cn was superseded and nothing is reported.
func (c *Client) finish(cn *conn, ev *netlayer.Event) {
	c.mu.Lock()
	if c.conn == cn {
		if ev != nil {
			c.enqueueLocked(*ev)
		}
		c.conn = nil
	}
	c.mu.Unlock()
	cn.close()
}

// emit reports ev if cn is still the current connection.
func (c *Client) emit(cn *conn, ev netlayer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == cn {
		c.enqueueLocked(ev)
	}
}

// ---------------------------------------------------------------------------
// Event queue
// ---------------------------------------------------------------------------

// enqueueLocked appends ev to the unbounded queue drained by pump, so that
// no reader ever blocks on a consumer that is itself calling into Client.
func (c *Client) enqueueLocked(ev netlayer.Event) {
	c.queue = append(c.queue, ev)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) pump() {
	defer close(c.events)

	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			ev := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}
