package rendezvous

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/spaces/internal/util"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	outboxSize     = 256
	outboxGrace    = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics the Server reports to.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithKeepalive sets how often members are pinged and how long the server
// waits for a pong before treating the member as gone.
func WithKeepalive(ping, pongWait time.Duration) Option {
	return func(s *Server) {
		s.pingInterval = ping
		s.pongWait = pongWait
	}
}

// Server is the room server. Room state lives behind a single mutex; each
// connection has a reader (the HTTP handler goroutine) and a writer goroutine
// draining its outbox.
type Server struct {
	metrics      *Metrics
	pingInterval time.Duration
	pongWait     time.Duration

	mu      sync.Mutex
	rooms   map[string]*room
	members map[*member]struct{}
}

// NewServer creates a room server. Frames for a member are queued in an
// outbox of 256; when it is full the sender waits up to 250ms for the
// member's writer, then the member is disconnected. Bursts toward a member
// that keeps reading are therefore slowed down, not dropped.
func NewServer(opts ...Option) *Server {
	s := &Server{
		metrics:      NopMetrics(),
		pingInterval: 5 * time.Second,
		pongWait:     15 * time.Second,
		rooms:        make(map[string]*room),
		members:      make(map[*member]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler serving /ws and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve accepts connections on l until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.Close()
	}()

	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects every member. Upgraded connections are not tracked by
// net/http, so shutting down the HTTP server alone leaves them open.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for m := range s.members {
		m.conn.Close()
	}
}

// Rooms returns the number of members of every open room, host included.
func (s *Server) Rooms() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.rooms))
	for name, r := range s.rooms {
		out[name] = len(r.members) + 1
	}
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m := &member{
		addr: r.RemoteAddr,
		conn: conn,
		out:  make(chan Message, outboxSize),
		done: make(chan struct{}),
	}
	util.LogDebug("connection from %s", m.addr)

	s.mu.Lock()
	s.members[m] = struct{}{}
	s.mu.Unlock()

	go m.writeLoop(s.pingInterval)
	s.readLoop(m)
}

func (s *Server) readLoop(m *member) {
	defer func() {
		s.mu.Lock()
		s.departLocked(m)
		delete(s.members, m)
		s.mu.Unlock()
		m.close()
		util.LogDebug("connection from %s closed", m.addr)
	}()

	m.conn.SetReadLimit(maxMessageSize)
	_ = m.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		var msg Message
		if err := m.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = m.conn.SetReadDeadline(time.Now().Add(s.pongWait))
		s.dispatch(m, msg)
	}
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// member is one WebSocket connection. room and id are guarded by Server.mu.
type member struct {
	addr string
	conn *websocket.Conn
	out  chan Message
	done chan struct{}
	once sync.Once

	room *room
	id   uint64
}

// enqueue queues msg for the writer. When the outbox is full it waits up to
// outboxGrace; a member that cannot catch up by then is disconnected.
func (m *member) enqueue(msg Message) {
	select {
	case m.out <- msg:
		return
	case <-m.done:
		return
	default:
	}

	timer := time.NewTimer(outboxGrace)
	defer timer.Stop()
	select {
	case m.out <- msg:
	case <-m.done:
	case <-timer.C:
		util.LogWarning("outbox of %s is full, disconnecting", m.addr)
		m.close()
	}
}

func (m *member) close() {
	m.once.Do(func() { close(m.done) })
}

func (m *member) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		m.conn.Close()
	}()

	for {
		select {
		case msg := <-m.out:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteJSON(msg); err != nil {
				m.close()
				return
			}

		case <-ticker.C:
			if err := m.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				m.close()
				return
			}

		case <-m.done:
			return
		}
	}
}
