package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aaronwang/vehicle-auctions/internal/config"
	"github.com/aaronwang/vehicle-auctions/internal/events"
	"github.com/aaronwang/vehicle-auctions/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Info().Msg("starting bid event archiver")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := store.Open(cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer db.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.InitSchema(initCtx, db); err != nil {
		cancelInit()
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	cancelInit()
	log.Info().Msg("connected to PostgreSQL, schema ready")

	archiver, err := events.NewArchiver(cfg.NatsURL, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create archiver")
	}
	defer archiver.Close()
	log.Info().Str("url", cfg.NatsURL).Msg("connected to NATS")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := archiver.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("archiver error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down archiver")
	cancel()
	log.Info().Msg("archiver stopped gracefully")
}
