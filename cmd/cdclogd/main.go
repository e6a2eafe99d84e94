// Package main wires the CDC-aware commit-log allocator into a runnable
// process: it loads configuration, starts the size tracker's recalc worker,
// and exposes a metrics and debug status endpoint over HTTP.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/komuw/cdclog"
	"github.com/komuw/cdclog/cdcconfig"
	"github.com/komuw/cdclog/cdcmetrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	logger := log.With().Str("component", "cdclogd").Logger()

	cfg, err := cdcconfig.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if !cfg.CDCEnabled {
		logger.Info().Msg("cdc is disabled; cdclogd has nothing to do")
		select {}
	}

	metrics := cdcmetrics.New(prometheus.DefaultRegisterer)

	errHandler := func(err error) {
		// This process has no surrounding disk-failure policy to defer to,
		// unlike the host this allocator was designed to live inside; log and
		// carry on, since a failed recalc just means size_bytes stays stale
		// until the next one succeeds.
		logger.Error().Err(err).Msg("cdc recalc failed")
	}

	sys, err := cdclog.New(cfg, 1<<30 /*1GiB*/, 7*24*time.Hour, errHandler, logger, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start cdc commit log")
	}
	defer sys.Shutdown()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/cdc", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			SizeBytes   int64  `json:"size_bytes"`
			BudgetBytes int64  `json:"budget_bytes"`
			LogPath     string `json:"log_path"`
		}{
			SizeBytes:   sys.Tracker.SizeBytes(),
			BudgetBytes: cfg.BudgetBytes(),
			LogPath:     sys.Log.Path(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	addr := os.Getenv("CDCLOGD_ADDR")
	if addr == "" {
		addr = "0.0.0.0:9102"
	}
	logger.Info().Str("addr", addr).Msg("starting cdclogd")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
