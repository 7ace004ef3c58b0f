package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const broadcastChannelPrefix = "bid_events:"

// Message is a bid event received from Redis pub/sub, keyed by the
// auction whose feed it belongs to.
type Message struct {
	AuctionID string
	Payload   string
}

// Subscriber listens on the Redis pub/sub bid-event channels and feeds
// the WebSocket broadcast.
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
}

// NewSubscriber connects to Redis and verifies the connection.
func NewSubscriber(addr, password string, db int) (*Subscriber, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Subscriber{client: rdb}, nil
}

// SubscribeAll subscribes to the bid-event feeds of every auction.
func (s *Subscriber) SubscribeAll(ctx context.Context) error {
	s.pubsub = s.client.PSubscribe(ctx, broadcastChannelPrefix+"*")
	return nil
}

// Listen forwards pub/sub messages to out until ctx is cancelled.
// Blocking; run in a goroutine.
func (s *Subscriber) Listen(ctx context.Context, out chan<- *Message) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			out <- &Message{
				AuctionID: auctionIDFromChannel(msg.Channel),
				Payload:   msg.Payload,
			}
		}
	}
}

// auctionIDFromChannel extracts the auction id from a channel name,
// e.g. "bid_events:42" -> "42".
func auctionIDFromChannel(channel string) string {
	return strings.TrimPrefix(channel, broadcastChannelPrefix)
}

// Close closes the subscription and the Redis connection.
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	return s.client.Close()
}
