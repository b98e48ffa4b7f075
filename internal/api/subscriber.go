package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bozbot/internal/events"
)

// maxReconnectBackoff caps the subscriber's retry delay.
const maxReconnectBackoff = 30 * time.Second

// Subscriber holds the one persistent pub/sub connection and forwards
// every received message to the hub.
type Subscriber struct {
	opts *redis.Options
	hub  *Hub
	log  zerolog.Logger
}

func NewSubscriber(redisURL string, hub *Hub, log zerolog.Logger) (*Subscriber, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		opts: opts,
		hub:  hub,
		log:  log.With().Str("component", "subscriber").Logger(),
	}, nil
}

// Run subscribes to the events channel and pumps messages until the
// context is canceled. A dropped connection reconnects with exponential
// backoff; the attempt counter resets after a successful subscribe.
func (s *Subscriber) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.pump(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
		s.log.Warn().Err(err).Dur("backoff", backoff).Int("attempt", attempt).
			Msg("subscription lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// A fresh successful pump resets the counter inside pump.
		if s.subscribeSucceeded(ctx) {
			attempt = 0
		}
	}
}

// subscribeSucceeded probes the broker so the backoff counter only resets
// once the connection is actually back.
func (s *Subscriber) subscribeSucceeded(ctx context.Context) bool {
	client := redis.NewClient(s.opts)
	defer client.Close()
	return client.Ping(ctx).Err() == nil
}

// pump holds one subscription open and forwards messages until it fails.
func (s *Subscriber) pump(ctx context.Context) error {
	client := redis.NewClient(s.opts)
	defer client.Close()

	sub := client.Subscribe(ctx, events.Channel)
	defer sub.Close()

	// Confirm the subscription before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	s.log.Info().Str("channel", events.Channel).Msg("subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.hub.Broadcast([]byte(msg.Payload))
		}
	}
}
