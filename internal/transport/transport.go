// Package transport provides direct host<->client links: one PeerConnection
// with a single pre-negotiated DataChannel per remote peer, used to carry
// session messages once open.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/spaces/internal/util"
)

// ErrLinkClosed is returned by Send after the link has shut down.
var ErrLinkClosed = errors.New("transport: link closed")

// Option configures a Link.
type Option func(*linkConfig)

type linkConfig struct {
	iceServers []string
}

// WithICEServers replaces the default STUN servers. An empty list disables
// server-reflexive candidates, leaving host candidates only.
func WithICEServers(urls ...string) Option {
	return func(c *linkConfig) { c.iceServers = urls }
}

// Link is the direct path to one remote peer. The room client negotiates it
// over the relay and prefers it for session messages while Open reports
// true; otherwise messages keep going through the room server.
//
// A Link ends when its DataChannel closes, its PeerConnection fails, a
// write fails, or the room connection it belongs to (ctx) ends.
type Link struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	out    *outbox
	opened chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	path webrtc.PeerConnectionState
}

// NewLink creates an unnegotiated Link. The caller exchanges SDP and ICE
// candidates through CreateOffer, CreateAnswer and friends.
func NewLink(ctx context.Context, opts ...Option) (*Link, error) {
	cfg := linkConfig{iceServers: stunServers}
	for _, opt := range opts {
		opt(&cfg)
	}

	pc, err := newPeerConnection(cfg.iceServers)
	if err != nil {
		return nil, err
	}
	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &Link{
		pc:     pc,
		dc:     dc,
		opened: make(chan struct{}),
		ctx:    lctx,
		cancel: cancel,
		path:   webrtc.PeerConnectionStateNew,
	}

	var once sync.Once
	dc.OnOpen(func() { once.Do(func() { close(l.opened) }) })
	dc.OnClose(func() {
		util.LogDebug("direct link DataChannel closed")
		cancel()
	})
	pc.OnConnectionStateChange(l.setPath)

	l.out = startOutbox(lctx, dc, l.opened, cancel)
	return l, nil
}

// setPath records the PeerConnection state. A failed or closed connection
// ends the link.
func (l *Link) setPath(state webrtc.PeerConnectionState) {
	util.LogDebug("direct link PeerConnection state: %s", state)
	l.mu.Lock()
	l.path = state
	l.mu.Unlock()

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		l.cancel()
	}
}

// usable reports whether a PeerConnection in state can carry messages.
// Disconnected may recover, but messages sent meanwhile would stall.
func usable(state webrtc.PeerConnectionState) bool {
	switch state {
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		return false
	}
	return true
}

// Ready is closed once the DataChannel opens.
func (l *Link) Ready() <-chan struct{} { return l.opened }

// Done is closed when the link ends.
func (l *Link) Done() <-chan struct{} { return l.ctx.Done() }

// Open reports whether messages should use this link right now.
func (l *Link) Open() bool {
	if l.ctx.Err() != nil {
		return false
	}
	select {
	case <-l.opened:
	default:
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return usable(l.path)
}

// Close ends the link.
func (l *Link) Close() error {
	l.cancel()
	return errors.Join(l.dc.Close(), l.pc.Close())
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

func (l *Link) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sdp)
}

func (l *Link) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

// HasRemoteDescription reports whether remote candidates can be applied yet.
func (l *Link) HasRemoteDescription() bool {
	return l.pc.RemoteDescription() != nil
}

// OnICECandidate registers fn for local candidates; nil ends gathering.
func (l *Link) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	l.pc.OnICECandidate(fn)
}

func (l *Link) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// Send queues a session message. Messages queued before the DataChannel
// opens are written once it does.
func (l *Link) Send(msg []byte) error {
	if !l.out.push(l.ctx, msg) {
		return ErrLinkClosed
	}
	return nil
}

// OnMessage registers fn for inbound session messages.
func (l *Link) OnMessage(fn func([]byte)) {
	l.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		fn(msg.Data)
	})
}
