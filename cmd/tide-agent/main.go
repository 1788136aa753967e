package main

import (
	"context"
	"flag"
	"net"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tidectl/internal/cluster"
	"github.com/danmuck/tidectl/internal/observability"
)

// tide-agent exposes one execution cluster over the wire protocol the
// engine's agent client speaks. The in-memory backend stands in for a real
// cluster in development and soak setups.
func main() {
	observability.InitLogger("tide-agent")

	addr := flag.String("addr", ":9400", "listen address")
	flag.Parse()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("failed to listen")
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("agent listening")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := cluster.NewAgentServer(cluster.NewMemory())
	if err := srv.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("agent stopped")
	}
	log.Info().Msg("agent shut down")
}
