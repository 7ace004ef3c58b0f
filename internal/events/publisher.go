// Package events fans accepted-bid events out to the live WebSocket feed
// (Redis pub/sub) and the audit archiver (NATS JetStream). Publishing is
// best effort and never sits on the bid transaction path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aaronwang/vehicle-auctions/internal/models"
)

const (
	// StreamName is the JetStream stream holding accepted-bid events
	// until the archiver consumes them.
	StreamName = "BID_EVENTS"

	streamSubjects = "bid.events.*"
	publishTimeout = 5 * time.Second
)

// Publisher publishes accepted-bid events.
type Publisher struct {
	redis *redis.Client
	js    jetstream.JetStream
}

// NewPublisher creates the publisher and ensures the JetStream stream
// exists.
func NewPublisher(natsConn *nats.Conn, redisClient *redis.Client) (*Publisher, error) {
	js, err := jetstream.New(natsConn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Accepted bid events for audit archival",
		Subjects:    []string{streamSubjects},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	return &Publisher{redis: redisClient, js: js}, nil
}

// BidAccepted publishes the event to both destinations. Failures are
// logged and dropped: the bid is already committed and the feeds are
// advisory.
func (p *Publisher) BidAccepted(event models.BidEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.EventID).Msg("failed to marshal bid event")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		channel := BroadcastChannel(event.AuctionID)
		if err := p.redis.Publish(ctx, channel, payload).Err(); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("failed to publish bid event to Redis")
		}
	}()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		subject := fmt.Sprintf("bid.events.%d", event.AuctionID)
		ack, err := p.js.Publish(ctx, subject, payload)
		if err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("failed to publish bid event to JetStream")
			return
		}
		log.Debug().Str("subject", subject).Uint64("seq", ack.Sequence).Msg("bid event archived")
	}()
}

// BroadcastChannel is the Redis pub/sub channel for an auction's feed.
func BroadcastChannel(auctionID int64) string {
	return fmt.Sprintf("bid_events:%d", auctionID)
}
