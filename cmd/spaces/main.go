// Spaces peer entry point.
//
// A spaces peer joins a room on the room server and takes part in the shared
// session: the first peer in a room hosts it, later ones join as clients,
// and when the host leaves the announced fallback host takes over.
//
// Settings come from SPACES_* environment variables and flags (see --help).
// While running, stdin accepts portal commands:
//
//	goto <destination>            travel within the current lobby
//	join <lobby> [destination]    follow an invitation
//	status                        print the current room and role
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/spaces/internal/app"
	"github.com/1ureka/spaces/internal/config"
	"github.com/1ureka/spaces/internal/netlayer"
	"github.com/1ureka/spaces/internal/signaling"
	"github.com/1ureka/spaces/internal/transport"
	"github.com/1ureka/spaces/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadPeer("spaces", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Spaces v%s", version))
	pterm.Println()

	a, client := build(cfg)
	defer client.Close()

	p := a.Presence()
	util.LogWith("starting peer",
		"server", cfg.ServerURL,
		"destination", p.Destination,
		"lobby", p.LobbyID,
		"room", p.RoomName(),
		"direct", cfg.Direct,
	)

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr)
	}
	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}
	go readCommands(ctx, a)

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("session ended: %v", err)
		os.Exit(1)
	}

	if err := client.Shutdown(); err != nil {
		util.LogWarning("leave room: %v", err)
	}
	util.LogInfo("left the shared space")
}

// build wires the room server client and the App from cfg.
func build(cfg config.Peer) (*app.App, *signaling.Client) {
	opts := []signaling.Option{
		signaling.WithDial(cfg.DialAttempts, cfg.DialDelay),
		signaling.WithReadTimeout(cfg.ReadTimeout),
	}
	if cfg.Direct {
		opts = append(opts, signaling.WithDirectLinks(transport.WithICEServers(cfg.ICEServers...)))
	}
	client := signaling.NewClient(cfg.ServerURL, opts...)

	appID := cfg.AppID
	if appID == "" {
		appID = app.NewApplicationID()
	}
	presence := app.NewPresence(appID)
	switch {
	case cfg.LobbyID != "":
		presence = app.PresenceAt(cfg.Destination, app.NormalizeLobbyID(cfg.LobbyID))
	case cfg.Destination != app.Lobby:
		presence = presence.GoTo(cfg.Destination, presence.LobbyID)
	}

	var appOpts []app.Option
	if cfg.MetricsAddr != "" {
		appOpts = append(appOpts, app.WithLayerOptions(netlayer.WithMetrics(netlayer.PrometheusMetrics("spaces"))))
	}

	a := app.New(client, presence, appOpts...)
	if cfg.Name != "" {
		a.SetDisplayName(cfg.Name)
	}
	return a, client
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	util.LogInfo("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.LogWarning("metrics server: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Portal commands
// ---------------------------------------------------------------------------

// readCommands executes portal commands read from stdin until EOF or ctx is
// cancelled.
func readCommands(ctx context.Context, a *app.App) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := execute(ctx, a, strings.Fields(scanner.Text())); err != nil {
			util.LogWarning("%v", err)
		}
	}
}

func execute(ctx context.Context, a *app.App, fields []string) error {
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "goto":
		if len(fields) != 2 {
			return errors.New("usage: goto <destination>")
		}
		return a.GoTo(ctx, fields[1])

	case "join":
		destination := app.Lobby
		switch len(fields) {
		case 2:
		case 3:
			destination = fields[2]
		default:
			return errors.New("usage: join <lobby> [destination]")
		}
		return a.Join(ctx, destination, fields[1])

	case "status":
		p := a.Presence()
		role := "client"
		if a.Session().IsHost() {
			role = "host"
		}
		util.LogInfo("%s in %q as %s (%s), %d player(s)",
			p.Destination, p.RoomName(), role, a.State(), len(a.Session().Objects()))
		return nil

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
