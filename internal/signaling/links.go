package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/spaces/internal/netlayer"
	"github.com/1ureka/spaces/internal/protocol"
	"github.com/1ureka/spaces/internal/rendezvous"
	"github.com/1ureka/spaces/internal/transport"
	"github.com/1ureka/spaces/internal/util"
)

// signalType identifies the kind of link signaling message.
type signalType string

const (
	signalOffer     signalType = "offer"
	signalAnswer    signalType = "answer"
	signalCandidate signalType = "candidate"
	signalHandover  signalType = "handover" // last relayed message before the link takes over
)

// signal is the JSON payload of a protocol.TypeSignal message, relayed
// through the room server while a direct link is negotiated.
type signal struct {
	Type      signalType `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// peerLink is a direct link plus the local candidates gathered before the
// SDP carrying them was sent; the remote side cannot apply a candidate that
// arrives ahead of its description.
type peerLink struct {
	*transport.Link
	handover handover

	mu        sync.Mutex
	described bool
	early     []string
}

// handover orders the switch from the relay to a direct link. Before its
// first message over the link a peer relays a handover marker; the other
// side holds link messages until the marker arrives, so nothing relayed
// earlier is overtaken.
type handover struct {
	mu       sync.Mutex
	marked   bool // the marker was relayed
	released bool // the remote marker arrived
	held     [][]byte
}

// mark relays the marker once. Until relay succeeds the link is not used.
func (h *handover) mark(relay func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.marked {
		return nil
	}
	if err := relay(); err != nil {
		return err
	}
	h.marked = true
	return nil
}

// receive delivers a message that arrived over the link, or holds it until
// release.
func (h *handover) receive(data []byte, deliver func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.released {
		h.held = append(h.held, data)
		return
	}
	deliver(data)
}

// release delivers the held messages in arrival order.
func (h *handover) release(deliver func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	for _, data := range h.held {
		deliver(data)
	}
	h.held = nil
}

// newPeerLink creates the link to peer and registers it on cn.
func (c *Client) newPeerLink(cn *conn, peer netlayer.PeerID) (*peerLink, error) {
	l, err := transport.NewLink(cn.ctx, c.linkOpts...)
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}
	pl := &peerLink{Link: l}
	deliver := func(data []byte) { c.deliver(cn, peer, data) }

	// Trickle ICE candidates.
	l.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, _ := json.Marshal(cand.ToJSON())

		pl.mu.Lock()
		if !pl.described {
			pl.early = append(pl.early, string(data))
			pl.mu.Unlock()
			return
		}
		pl.mu.Unlock()
		c.sendSignal(cn, peer, signal{Type: signalCandidate, Candidate: string(data)})
	})

	l.OnMessage(func(data []byte) {
		pl.handover.receive(data, deliver)
	})

	if !cn.setLink(peer, pl) {
		_ = l.Close()
		return nil, ErrClosed
	}

	go func() {
		select {
		case <-l.Ready():
			util.LogInfo("direct link to peer %d open", peer)
		case <-l.Done():
		}
	}()
	return pl, nil
}

// describe sends the local SDP and then the candidates gathered so far.
func (c *Client) describe(cn *conn, peer netlayer.PeerID, pl *peerLink, sdp webrtc.SessionDescription, typ signalType) error {
	if err := pl.SetLocalDescription(sdp); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	c.sendSignal(cn, peer, signal{Type: typ, SDP: sdp.SDP})

	pl.mu.Lock()
	pl.described = true
	early := pl.early
	pl.early = nil
	pl.mu.Unlock()

	for _, cand := range early {
		c.sendSignal(cn, peer, signal{Type: signalCandidate, Candidate: cand})
	}
	return nil
}

// offerLink is run by the host for every admitted client.
func (c *Client) offerLink(cn *conn, peer netlayer.PeerID) {
	pl, err := c.newPeerLink(cn, peer)
	if err != nil {
		util.LogWarning("direct link to peer %d: %v", peer, err)
		return
	}

	offer, err := pl.CreateOffer()
	if err != nil {
		util.LogWarning("direct link to peer %d: CreateOffer: %v", peer, err)
		return
	}
	if err := c.describe(cn, peer, pl, offer, signalOffer); err != nil {
		util.LogWarning("direct link to peer %d: %v", peer, err)
	}
}

// handleSignal applies a signaling message relayed from peer from.
func (c *Client) handleSignal(cn *conn, from netlayer.PeerID, data []byte) {
	pkt, err := protocol.Decode(data)
	if err != nil {
		util.LogDebug("malformed link signal from peer %d: %v", from, err)
		return
	}
	var sig signal
	if err := json.Unmarshal(pkt.Payload, &sig); err != nil {
		util.LogDebug("malformed link signal from peer %d: %v", from, err)
		return
	}

	switch sig.Type {
	case signalOffer:
		pl, err := c.newPeerLink(cn, from)
		if err != nil {
			util.LogWarning("direct link to peer %d: %v", from, err)
			return
		}
		if err := pl.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
			util.LogWarning("direct link to peer %d: SetRemoteDescription: %v", from, err)
			return
		}
		answer, err := pl.CreateAnswer()
		if err != nil {
			util.LogWarning("direct link to peer %d: CreateAnswer: %v", from, err)
			return
		}
		if err := c.describe(cn, from, pl, answer, signalAnswer); err != nil {
			util.LogWarning("direct link to peer %d: %v", from, err)
		}

	case signalAnswer:
		pl := cn.link(from)
		if pl == nil {
			return
		}
		if err := pl.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}); err != nil {
			util.LogWarning("direct link to peer %d: SetRemoteDescription: %v", from, err)
		}

	case signalCandidate:
		pl := cn.link(from)
		if pl == nil || !pl.HasRemoteDescription() {
			return
		}
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(sig.Candidate), &init); err != nil {
			util.LogDebug("malformed ICE candidate from peer %d: %v", from, err)
			return
		}
		if err := pl.AddICECandidate(init); err != nil {
			util.LogWarning("direct link to peer %d: AddICECandidate: %v", from, err)
		}

	case signalHandover:
		if pl := cn.link(from); pl != nil {
			pl.handover.release(func(data []byte) { c.deliver(cn, from, data) })
		}
	}
}

// sendSignal relays sig to peer through the room server. Negotiation is
// best-effort: a failed link only means messages keep using the relay.
func (c *Client) sendSignal(cn *conn, peer netlayer.PeerID, sig signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	data := protocol.Signal(c.LocalID(), payload)
	if err := cn.write(rendezvous.Message{Type: rendezvous.MsgSend, Peer: peer, Data: data}); err != nil {
		util.LogDebug("relay %s to peer %d: %v", sig.Type, peer, err)
		return err
	}
	return nil
}
