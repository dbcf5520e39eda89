// Spaces room server: the rendezvous point of spaces peers.
//
// Peers connect over WebSocket at /ws, claim or join rooms and relay session
// messages through the server. Prometheus metrics are served at /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/spaces/internal/config"
	"github.com/1ureka/spaces/internal/rendezvous"
	"github.com/1ureka/spaces/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadServer("roomserver", os.Args[1:])
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

	pterm.Info.Println(fmt.Sprintf("Spaces room server v%s", version))
	pterm.Println()

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		util.LogError("failed to listen on %s: %v", cfg.Listen, err)
		os.Exit(1)
	}

	srv := rendezvous.NewServer(
		rendezvous.WithMetrics(rendezvous.PrometheusMetrics(cfg.Namespace)),
		rendezvous.WithKeepalive(cfg.PingInterval, cfg.PongWait),
	)

	util.LogWith("room server listening",
		"addr", l.Addr().String(),
		"ping", cfg.PingInterval.String(),
		"pongWait", cfg.PongWait.String(),
	)
	if err := srv.Serve(ctx, l); err != nil {
		util.LogError("room server stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("room server closed")
}
