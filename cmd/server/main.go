package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mortgage-exchange/internal/api"
	"mortgage-exchange/internal/config"
	"mortgage-exchange/internal/db"
	"mortgage-exchange/internal/engine"
	"mortgage-exchange/internal/metrics"
	"mortgage-exchange/internal/ws"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db open")
	}
	log.Info().Msg("connected to database")

	if err := store.Migrate(cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	log.Info().Msg("migrations applied")

	opts, err := cfg.EngineOptions()
	if err != nil {
		log.Fatal().Err(err).Msg("engine options")
	}

	hub := ws.NewHub()
	reg := metrics.NewRegistry()

	mgr := engine.NewManager(store, hub.Publish, opts, reg)
	if err := mgr.Boot(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("engine boot")
	}

	srv := api.NewServer(store, mgr, hub, cfg.JWTSecret)
	log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Router()); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}
