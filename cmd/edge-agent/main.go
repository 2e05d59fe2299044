package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/avelkov/edge-agent/internal/agent"
	"github.com/avelkov/edge-agent/internal/config"
	"github.com/avelkov/edge-agent/internal/logging"
	"github.com/avelkov/edge-agent/internal/runtime"
	"github.com/avelkov/edge-agent/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := logging.New("info")
		bootstrap.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.LogLevel).With().Str("device", cfg.DeviceName).Logger()
	logger.Info().Msg("edge-agent starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.NewDockerRuntime(cfg.DockerHost, runtime.WithStopTimeout(cfg.StopTimeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to container runtime")
	}
	defer rt.Close()

	if err := rt.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Str("host", cfg.DockerHost).Msg("container runtime unreachable")
	}

	snapshots, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		logger.Warn().Err(err).Str("data_dir", cfg.DataDir).Msg("snapshot store unavailable, running without persistence")
		snapshots = nil
	} else {
		defer snapshots.Close()
	}

	a := agent.New(logger, cfg, rt, snapshots)
	if err := a.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("agent exited with error")
		os.Exit(1)
	}
}
