// Package events publishes domain events to the Redis channel that the
// front-end subscriber fans out to WebSocket clients. Publishing is
// best-effort: a broker failure never breaks a trading decision.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Channel is the single pub/sub channel all events flow through.
const Channel = "boz:events"

// EventType labels a WebSocket event.
type EventType string

const (
	EventTradeExecuted     EventType = "trade.executed"
	EventTradeQueued       EventType = "trade.queued"
	EventTradeSettled      EventType = "trade.settled"
	EventTradeExpired      EventType = "trade.expired"
	EventTradeSynced       EventType = "trade.synced"
	EventPredictionUpdated EventType = "prediction.updated"
)

// Event is the wire shape pushed to WebSocket clients.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publisher writes events to the channel. Each publish opens its own
// connection from the pool; there is no persistent state to wedge.
type Publisher struct {
	opts *redis.Options
	log  zerolog.Logger
}

// NewPublisher parses the Redis URL once; connections are per publish.
func NewPublisher(redisURL string, log zerolog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		opts: opts,
		log:  log.With().Str("component", "events").Logger(),
	}, nil
}

// Publish sends one event. Errors are logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, eventType EventType, data map[string]any) {
	event := Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Str("type", string(eventType)).Msg("marshal event")
		return
	}

	client := redis.NewClient(p.opts)
	defer client.Close()

	if err := client.Publish(ctx, Channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("type", string(eventType)).Msg("event publish failed")
	}
}
