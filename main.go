package main

import (
	"fmt"
	"net/http"

	"poold/internal/config"
	"poold/internal/observability"
	"poold/internal/pool"
	"poold/internal/scan"
	"poold/internal/server"
	"poold/pkg/shell"
)

func main() {
	cfg, err := config.FromEnv()
	logger := server.Logger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}

	runner := shell.Exec{Timeout: cfg.Storage.CommandTimeout}
	scanner := scan.New(runner, *logger)
	store := pool.NewStore(cfg.StateDir)
	metrics := observability.New()
	svc := pool.New(cfg.Storage, store, scanner, runner, *logger, metrics)

	if _, err := svc.StartScheduler(); err != nil {
		logger.Warn().Err(err).Msg("sync scheduler not started")
	}
	defer svc.StopScheduler()

	r := server.NewRouter(cfg, svc, metrics)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	logger.Info().Msgf("poold listening on http://%s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
