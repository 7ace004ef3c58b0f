package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/aaronwang/vehicle-auctions/internal/models"
)

const archiverConsumer = "bid-archiver"

// Archiver consumes accepted-bid events from JetStream and records them
// in the audit table. Inserts are idempotent on event id, so redelivered
// messages are harmless.
type Archiver struct {
	conn *nats.Conn
	js   jetstream.JetStream
	db   *sql.DB
}

// NewArchiver connects to NATS and prepares the JetStream context.
func NewArchiver(natsURL string, db *sql.DB) (*Archiver, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Archiver{conn: conn, js: js, db: db}, nil
}

// Run consumes bid events until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	cons, err := a.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:   archiverConsumer,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		a.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	log.Info().Str("stream", StreamName).Msg("archiving bid events")
	<-ctx.Done()
	return nil
}

func (a *Archiver) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var event models.BidEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal bid event")
		// Poison message; ack so it does not redeliver forever.
		_ = msg.Ack()
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.recordEvent(dbCtx, &event); err != nil {
		log.Error().Err(err).Str("event_id", event.EventID).Msg("failed to record bid event")
		// No ack: let JetStream redeliver.
		return
	}

	log.Info().
		Str("event_id", event.EventID).
		Int64("auction_id", event.AuctionID).
		Str("bidder", event.BidderUsername).
		Int64("amount", event.Amount).
		Msg("bid event recorded")
	_ = msg.Ack()
}

func (a *Archiver) recordEvent(ctx context.Context, event *models.BidEvent) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO bid_events (event_id, auction_id, bid_id, bidder_username, amount, previous_amount, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.AuctionID, event.BidID, event.BidderUsername, event.Amount, event.PreviousAmount, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert bid event: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (a *Archiver) Close() error {
	a.conn.Close()
	return nil
}
