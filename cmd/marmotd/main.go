// Command marmotd runs marmot's server: the publish/subscribe notification
// bus described in the project's wire protocol, backed by a Redis-compatible
// stream store.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/marmot/internal/config"
	"github.com/adred-codev/marmot/internal/server"
)

func main() {
	var (
		docPath = flag.String("config", "", "path to the server configuration document (JSON, server.clients/channels)")
		debug   = flag.Bool("debug", false, "enable debug logging (overrides MARMOT_LOG_LEVEL)")
	)
	flag.Parse()

	env, err := config.LoadEnv(nil)
	if err != nil {
		os.Stderr.WriteString("marmotd: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *debug {
		env.LogLevel = "debug"
	}

	logger := server.NewLogger(env)
	logger.Info().
		Str("addr", env.Addr).
		Str("redis_url", env.RedisURL).
		Int("max_connections", env.MaxConnections).
		Dur("trim_freq", env.TrimFreq).
		Msg("marmotd: starting")

	lc, err := server.New(env, logger, *docPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("marmotd: failed to build server")
	}

	if err := lc.Start(); err != nil {
		logger.Fatal().Err(err).Msg("marmotd: failed to start")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("marmotd: signal received, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := lc.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("marmotd: error during shutdown")
	}
}
