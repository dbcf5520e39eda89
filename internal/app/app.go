// Package app wires the connection state machine, the session coordinator
// and a transport into a running shared-spaces peer.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/spaces/internal/election"
	"github.com/1ureka/spaces/internal/netlayer"
	"github.com/1ureka/spaces/internal/protocol"
	"github.com/1ureka/spaces/internal/session"
	"github.com/1ureka/spaces/internal/util"
)

// Transport is what the App needs from the network: role negotiation and
// session messaging.
type Transport interface {
	netlayer.Transport
	session.Sender
}

// Option configures an App.
type Option func(*App)

// WithLayerOptions passes options to the connection state machine.
func WithLayerOptions(opts ...netlayer.Option) Option {
	return func(a *App) { a.layerOpts = append(a.layerOpts, opts...) }
}

// WithSpawnAnchors sets the portal arrival poses, see SpawnPoint.
func WithSpawnAnchors(anchors map[string]protocol.Pose) Option {
	return func(a *App) { a.spawn = NewSpawnPoint(anchors) }
}

// App is one peer of a shared space.
type App struct {
	tr        Transport
	layer     *netlayer.Layer
	session   *session.Coordinator
	spawn     *SpawnPoint
	layerOpts []netlayer.Option

	mu       sync.Mutex
	presence Presence
	pose     protocol.Pose // last known pose of the local player
	runCtx   context.Context
	roleCtx  context.Context
	roleStop context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an App that starts in presence's room.
func New(tr Transport, presence Presence, opts ...Option) *App {
	a := &App{
		tr:       tr,
		spawn:    NewSpawnPoint(nil),
		presence: presence,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.pose = a.spawn.Pose()
	a.session = session.New(tr, tr.LocalID)
	a.layer = netlayer.New(tr, presence.RoomName(), a.callbacks(), a.layerOpts...)
	return a
}

// Run drives the peer until ctx is cancelled. Work started for the current
// role is cancelled and awaited before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	err := a.layer.Run(ctx)

	a.mu.Lock()
	if a.roleStop != nil {
		a.roleStop()
	}
	a.mu.Unlock()
	a.wg.Wait()
	return err
}

// State returns the connection state.
func (a *App) State() netlayer.State { return a.layer.State() }

// Session returns the session coordinator.
func (a *App) Session() *session.Coordinator { return a.session }

// Presence returns where the local user currently is.
func (a *App) Presence() Presence {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.presence
}

// Pose returns the last known pose of the local player.
func (a *App) Pose() protocol.Pose {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pose
}

// SetDisplayName records the local user's name once the platform login
// reports it. The host uses it as the voice room.
func (a *App) SetDisplayName(name string) {
	a.session.SetDisplayName(name)
}

// Move records the local player's latest pose; it is where the player
// respawns after a host migration.
func (a *App) Move(pose protocol.Pose) {
	a.mu.Lock()
	a.pose = pose
	a.mu.Unlock()
}

// GoTo travels through a portal to destination, keeping the current lobby.
func (a *App) GoTo(ctx context.Context, destination string) error {
	a.mu.Lock()
	from := a.presence
	a.presence = from.GoTo(destination, from.LobbyID)
	room := a.presence.RoomName()
	a.mu.Unlock()

	a.spawn.Move(destination, from.Destination)
	util.LogInfo("portal %s -> %s (room %q)", from.Destination, destination, room)
	return a.layer.SwitchRoom(ctx, room)
}

// Join follows an invitation to destination in lobby session lobbyID.
func (a *App) Join(ctx context.Context, destination, lobbyID string) error {
	lobbyID = NormalizeLobbyID(lobbyID)

	a.mu.Lock()
	a.presence = PresenceAt(destination, lobbyID)
	room := a.presence.RoomName()
	a.mu.Unlock()

	a.spawn.Reset()
	util.LogInfo("joining %s in %s (room %q)", destination, lobbyID, room)
	return a.layer.SwitchRoom(ctx, room)
}

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

func (a *App) callbacks() netlayer.Callbacks {
	return netlayer.Callbacks{
		OnAttempt:          a.onAttempt,
		OnHostStarted:      func() { a.spawnSelf(a.spawn.Pose()) },
		OnHostRestored:     func() { a.spawnSelf(a.Pose()) },
		OnClientStarted:    a.startVoice,
		OnClientRestored:   a.startVoice,
		OnPeerConnected:    a.onPeerConnected,
		OnPeerDisconnected: a.onPeerDisconnected,
		OnMessage:          a.onMessage,
		Elect:              a.elect,
		ClientReady:        a.clientReady,
	}
}

// onAttempt switches the session to the role being attempted and cancels
// work left over from the previous role.
func (a *App) onAttempt(s netlayer.State) {
	a.mu.Lock()
	if a.roleStop != nil {
		a.roleStop()
	}
	a.roleCtx, a.roleStop = context.WithCancel(a.runCtx)
	a.mu.Unlock()

	if s.Hosting() {
		a.session.BecomeHost()
	} else {
		a.session.BecomeClient()
	}
}

// roleWork runs fn in the background until it returns or the role ends.
func (a *App) roleWork(fn func(ctx context.Context)) {
	a.mu.Lock()
	ctx := a.roleCtx
	a.mu.Unlock()
	if ctx == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(ctx)
	}()
}

func (a *App) spawnSelf(pose protocol.Pose) {
	if err := a.session.RequestSpawn(a.tr.LocalID(), pose.Position, pose.Rotation); err != nil {
		util.LogWarning("spawn own player: %v", err)
	}
	a.Move(pose)
	a.startVoice()
}

func (a *App) startVoice() {
	a.roleWork(func(ctx context.Context) {
		room, err := a.session.AwaitVoiceRoom(ctx)
		if err != nil {
			return
		}
		util.LogInfo("joining voice room %q", room)
	})
}

func (a *App) onPeerConnected(peer netlayer.PeerID) {
	if !a.session.IsHost() || peer == a.tr.LocalID() {
		return
	}
	if err := a.session.PeerJoined(peer); err != nil {
		util.LogWarning("announce fallback host to peer %d: %v", peer, err)
	}
	a.roleWork(func(ctx context.Context) {
		if err := a.session.SetVoiceRoom(ctx, peer); err != nil && !errors.Is(err, context.Canceled) {
			util.LogWarning("send voice room to peer %d: %v", peer, err)
		}
	})
}

func (a *App) onPeerDisconnected(peer netlayer.PeerID) {
	if !a.session.IsHost() {
		return
	}
	if err := a.session.PeerLeft(peer); err != nil {
		util.LogWarning("announce fallback host after peer %d left: %v", peer, err)
	}
}

func (a *App) onMessage(from netlayer.PeerID, data []byte) {
	if err := a.session.Handle(from, data); err != nil {
		util.LogWarning("%v", err)
	}
}

// elect prefers the fallback host the previous host announced; the
// transport's suggestion only applies when none was announced.
func (a *App) elect(reported netlayer.PeerID) netlayer.PeerID {
	if fb := a.session.FallbackHost(); fb != election.Unset {
		return fb
	}
	return reported
}

// clientReady asks the host for a player object and waits until it exists.
// A restoring client keeps its previous pose.
func (a *App) clientReady(ctx context.Context, restoring bool) error {
	pose := a.spawn.Pose()
	if restoring {
		pose = a.Pose()
	}

	self := a.tr.LocalID()
	if err := a.session.RequestSpawn(self, pose.Position, pose.Rotation); err != nil {
		return err
	}
	obj, err := a.session.AwaitPlayer(ctx, self)
	if err != nil {
		return err
	}
	a.Move(obj.Pose())
	return nil
}
