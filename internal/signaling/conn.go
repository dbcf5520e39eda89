package signaling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/spaces/internal/netlayer"
	"github.com/1ureka/spaces/internal/protocol"
	"github.com/1ureka/spaces/internal/rendezvous"
	"github.com/1ureka/spaces/internal/util"
)

const writeWait = 10 * time.Second

// conn is the WebSocket of one role attempt, from dial until the role ends.
// Direct links negotiated over it share its lifetime.
type conn struct {
	ws    *websocket.Conn
	host  bool
	admit chan rendezvous.Message

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	writeMu sync.Mutex

	mu    sync.Mutex
	peers map[netlayer.PeerID]struct{} // admitted clients, host only
	links map[netlayer.PeerID]*peerLink
}

func newConn(ws *websocket.Conn, host bool) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		ws:     ws,
		host:   host,
		admit:  make(chan rendezvous.Message, 1),
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[netlayer.PeerID]struct{}),
		links:  make(map[netlayer.PeerID]*peerLink),
	}
}

// write sends one frame, serialized with every other writer.
func (cn *conn) write(msg rendezvous.Message) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return cn.ws.WriteJSON(msg)
}

// close tears the connection and its links down. Safe to call multiple times.
func (cn *conn) close() {
	cn.once.Do(func() {
		cn.cancel()
		cn.ws.Close()

		cn.mu.Lock()
		links := cn.links
		cn.links = make(map[netlayer.PeerID]*peerLink)
		cn.mu.Unlock()

		for _, l := range links {
			_ = l.Close()
		}
	})
}

func (cn *conn) addPeer(peer netlayer.PeerID) {
	cn.mu.Lock()
	cn.peers[peer] = struct{}{}
	cn.mu.Unlock()
}

func (cn *conn) removePeer(peer netlayer.PeerID) {
	cn.mu.Lock()
	delete(cn.peers, peer)
	l := cn.links[peer]
	delete(cn.links, peer)
	cn.mu.Unlock()

	if l != nil {
		_ = l.Close()
	}
}

func (cn *conn) peerList() []netlayer.PeerID {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	ids := make([]netlayer.PeerID, 0, len(cn.peers))
	for id := range cn.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (cn *conn) link(peer netlayer.PeerID) *peerLink {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.links[peer]
}

// setLink installs l for peer, closing the link it replaces. It fails when
// the connection is already closed.
func (cn *conn) setLink(peer netlayer.PeerID, l *peerLink) bool {
	cn.mu.Lock()
	if cn.ctx.Err() != nil {
		cn.mu.Unlock()
		return false
	}
	old := cn.links[peer]
	cn.links[peer] = l
	cn.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return true
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

func (c *Client) readLoop(cn *conn) {
	extend := func() { _ = cn.ws.SetReadDeadline(time.Now().Add(c.readTimeout)) }
	extend()
	cn.ws.SetPingHandler(func(data string) error {
		extend()
		err := cn.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	admitted := false
	for {
		var msg rendezvous.Message
		if err := cn.ws.ReadJSON(&msg); err != nil {
			c.finish(cn, &netlayer.Event{Type: netlayer.EventDisconnected, Cause: netlayer.CauseTimeout})
			return
		}
		extend()

		switch msg.Type {
		case rendezvous.MsgAccepted, rendezvous.MsgRejected:
			if admitted {
				continue
			}
			admitted = true
			if msg.Type == rendezvous.MsgAccepted {
				c.mu.Lock()
				if c.conn == cn {
					c.local = msg.Peer
				}
				c.mu.Unlock()
			}
			cn.admit <- msg

		case rendezvous.MsgPeerJoined:
			if cn.host && msg.Peer != rendezvous.HostID {
				cn.addPeer(msg.Peer)
			}
			c.emit(cn, netlayer.Event{Type: netlayer.EventPeerConnected, Peer: msg.Peer})
			if c.direct && cn.host && msg.Peer != rendezvous.HostID {
				go c.offerLink(cn, msg.Peer)
			}

		case rendezvous.MsgPeerLeft:
			cn.removePeer(msg.Peer)
			c.emit(cn, netlayer.Event{Type: netlayer.EventPeerDisconnected, Peer: msg.Peer})

		case rendezvous.MsgMasterChanged:
			c.emit(cn, netlayer.Event{Type: netlayer.EventMasterChanged, Peer: msg.Peer})

		case rendezvous.MsgClosed:
			c.finish(cn, &netlayer.Event{Type: netlayer.EventDisconnected, Cause: netlayer.ParseCause(msg.Reason)})
			return

		case rendezvous.MsgMessage:
			util.Stats.AddRecv(len(msg.Data))
			c.deliver(cn, msg.Peer, msg.Data)

		default:
			util.LogDebug("unexpected frame %q from room server", msg.Type)
		}
	}
}

// deliver routes an inbound payload: link signaling is consumed here,
// everything else is reported as EventMessage.
func (c *Client) deliver(cn *conn, from netlayer.PeerID, data []byte) {
	if len(data) > 0 && data[0] == protocol.TypeSignal {
		if c.direct {
			c.handleSignal(cn, from, data)
		}
		return
	}
	c.emit(cn, netlayer.Event{Type: netlayer.EventMessage, Peer: from, Data: data})
}
