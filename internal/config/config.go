// Package config loads the settings of the spaces binaries. Values come from
// SPACES_* environment variables and may be overridden by command line flags.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/vrischmann/envconfig"
)

// Peer configures a spaces peer.
type Peer struct {
	ServerURL     string        `envconfig:"SPACES_SERVER,default=ws://127.0.0.1:8080/ws"`
	AppID         string        `envconfig:"SPACES_APP_ID,optional"` // random when empty
	LobbyID       string        `envconfig:"SPACES_LOBBY,optional"`  // join someone else's lobby
	Destination   string        `envconfig:"SPACES_DESTINATION,default=Lobby"`
	Name          string        `envconfig:"SPACES_NAME,optional"`
	Direct        bool          `envconfig:"SPACES_DIRECT,default=false"`
	ICEServers    []string      `envconfig:"SPACES_ICE_SERVERS,default=stun:stun.l.google.com:19302"`
	DialAttempts  uint          `envconfig:"SPACES_DIAL_ATTEMPTS,default=3"`
	DialDelay     time.Duration `envconfig:"SPACES_DIAL_DELAY,default=500ms"`
	ReadTimeout   time.Duration `envconfig:"SPACES_READ_TIMEOUT,default=15s"`
	MetricsAddr   string        `envconfig:"SPACES_METRICS,optional"`
	StatsInterval time.Duration `envconfig:"SPACES_STATS_INTERVAL,default=10s"`
	Debug         bool          `envconfig:"SPACES_DEBUG,default=false"`
}

// Server configures the room server.
type Server struct {
	Listen       string        `envconfig:"SPACES_LISTEN,default=:8080"`
	PingInterval time.Duration `envconfig:"SPACES_PING_INTERVAL,default=5s"`
	PongWait     time.Duration `envconfig:"SPACES_PONG_WAIT,default=15s"`
	Namespace    string        `envconfig:"SPACES_METRICS_NAMESPACE,default=spaces"`
	Debug        bool          `envconfig:"SPACES_DEBUG,default=false"`
}

// LoadPeer reads the peer settings from the environment, then applies the
// flags in args. It returns pflag.ErrHelp when help was requested.
func LoadPeer(name string, args []string) (Peer, error) {
	var cfg Peer
	if err := envconfig.Init(&cfg); err != nil {
		return Peer{}, fmt.Errorf("read environment: %w", err)
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&cfg.ServerURL, "server", "s", cfg.ServerURL, "room server URL (ws://, wss:// or a bare host; path defaults to /ws)")
	fs.StringVar(&cfg.AppID, "app-id", cfg.AppID, "application id that names the own lobby")
	fs.StringVarP(&cfg.LobbyID, "lobby", "l", cfg.LobbyID, "join this lobby session instead of the own one")
	fs.StringVarP(&cfg.Destination, "destination", "d", cfg.Destination, "scene to start in")
	fs.StringVarP(&cfg.Name, "name", "n", cfg.Name, "display name, used as the voice room when hosting")
	fs.BoolVar(&cfg.Direct, "direct", cfg.Direct, "open direct WebRTC links to peers")
	fs.StringSliceVar(&cfg.ICEServers, "ice", cfg.ICEServers, "STUN/TURN server URLs for direct links")
	fs.UintVar(&cfg.DialAttempts, "dial-attempts", cfg.DialAttempts, "dial attempts per connection attempt")
	fs.DurationVar(&cfg.DialDelay, "dial-delay", cfg.DialDelay, "initial delay between dial attempts")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "silence after which the server is considered gone")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	fs.DurationVar(&cfg.StatsInterval, "stats", cfg.StatsInterval, "traffic report interval, 0 disables it")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return Peer{}, err
	}

	u, err := NormalizeServerURL(cfg.ServerURL)
	if err != nil {
		return Peer{}, err
	}
	cfg.ServerURL = u
	if cfg.DialAttempts == 0 {
		return Peer{}, fmt.Errorf("dial attempts must be at least 1")
	}
	return cfg, nil
}

// LoadServer reads the room server settings from the environment, then
// applies the flags in args.
func LoadServer(name string, args []string) (Server, error) {
	var cfg Server
	if err := envconfig.Init(&cfg); err != nil {
		return Server{}, fmt.Errorf("read environment: %w", err)
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "address to listen on")
	fs.DurationVar(&cfg.PingInterval, "ping", cfg.PingInterval, "keepalive ping interval")
	fs.DurationVar(&cfg.PongWait, "pong-wait", cfg.PongWait, "drop members silent for this long")
	fs.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Prometheus metric namespace")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}

	if cfg.PongWait <= cfg.PingInterval {
		return Server{}, fmt.Errorf("pong wait (%s) must exceed the ping interval (%s)", cfg.PongWait, cfg.PingInterval)
	}
	return cfg, nil
}

// NormalizeServerURL validates a room server address and returns its
// WebSocket endpoint. Addresses without a ws or wss scheme use wss. A path
// and query are kept; a bare host gets the default /ws path.
func NormalizeServerURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid room server URL: %q", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	u.Fragment = ""
	return u.String(), nil
}
