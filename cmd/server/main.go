package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aaronwang/vehicle-auctions/internal/auction"
	"github.com/aaronwang/vehicle-auctions/internal/auth"
	"github.com/aaronwang/vehicle-auctions/internal/config"
	"github.com/aaronwang/vehicle-auctions/internal/events"
	"github.com/aaronwang/vehicle-auctions/internal/handlers"
	"github.com/aaronwang/vehicle-auctions/internal/store"
	"github.com/aaronwang/vehicle-auctions/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Info().Msg("starting vehicle auctions server")

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

	sessions, err := auth.NewRedisSessions(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer sessions.Close()
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	natsConn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer natsConn.Close()
	log.Info().Str("url", cfg.NatsURL).Msg("connected to NATS")

	pubRedis := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer pubRedis.Close()

	publisher, err := events.NewPublisher(natsConn, pubRedis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	gateway := auth.NewGateway(sessions, auth.NewPostgresCredentials(db), cfg.SessionTTL)
	auctions := auction.New(db, publisher, auction.Config{
		MinIncrement:   cfg.MinIncrement,
		BidRetries:     cfg.BidRetries,
		StorageTimeout: cfg.StorageTimeout,
	})

	handler := handlers.NewHandler(auctions, gateway)
	router := handler.SetupRoutes()

	// Live feed: Redis pub/sub -> WebSocket clients.
	wsManager := ws.NewManager()
	go wsManager.Run()
	ws.NewHandler(wsManager).RegisterRoutes(router)

	subscriber, err := events.NewSubscriber(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pub/sub subscriber")
	}
	defer subscriber.Close()

	feedCtx, cancelFeed := context.WithCancel(context.Background())
	defer cancelFeed()
	if err := subscriber.SubscribeAll(feedCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to bid events")
	}

	messages := make(chan *events.Message, 256)
	go func() {
		if err := subscriber.Listen(feedCtx, messages); err != nil && feedCtx.Err() == nil {
			log.Error().Err(err).Msg("pub/sub listener stopped")
		}
	}()
	go func() {
		for msg := range messages {
			wsManager.Broadcast(msg.AuctionID, []byte(msg.Payload))
		}
	}()

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	cancelFeed()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped gracefully")
}
