// Package scheduler contains the beat calendar, the Redis task broker and
// the worker pool that runs the periodic jobs.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Broker keys. Reserved tasks sit on a per-worker processing list until
// acked, so a dead worker's tasks survive for reclaim.
const (
	queueKey         = "boz:tasks"
	delayedKey       = "boz:tasks:delayed"
	deadKey          = "boz:tasks:dead"
	processingPrefix = "boz:tasks:processing:"
)

// Task is one unit of work on the queue.
type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Broker is a Redis list/zset task queue with acks-late semantics.
type Broker struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewBroker(redisURL string, log zerolog.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Broker{
		client: redis.NewClient(opts),
		log:    log.With().Str("component", "broker").Logger(),
	}, nil
}

func (b *Broker) Close() error { return b.client.Close() }

// Enqueue pushes a fresh task onto the queue.
func (b *Broker) Enqueue(ctx context.Context, name string) error {
	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, queueKey, payload).Err()
}

// Reserve blocks up to the given duration for a task, moving it onto the
// worker's processing list. A nil task means the wait timed out.
func (b *Broker) Reserve(ctx context.Context, workerID string, block time.Duration) (*Task, string, error) {
	raw, err := b.client.BRPopLPush(ctx, queueKey, processingPrefix+workerID, block).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// Unparseable payload: dead-letter it rather than loop forever.
		b.log.Error().Err(err).Str("raw", raw).Msg("malformed task dead-lettered")
		pipe := b.client.TxPipeline()
		pipe.LPush(ctx, deadKey, raw)
		pipe.LRem(ctx, processingPrefix+workerID, 1, raw)
		_, perr := pipe.Exec(ctx)
		return nil, "", perr
	}
	return &task, raw, nil
}

// Ack removes a finished task from the worker's processing list. Called
// only after the job body returns.
func (b *Broker) Ack(ctx context.Context, workerID, raw string) error {
	return b.client.LRem(ctx, processingPrefix+workerID, 1, raw).Err()
}

// Retry schedules another attempt after the delay and acks the current
// delivery.
func (b *Broker) Retry(ctx context.Context, workerID, raw string, task *Task, delay time.Duration) error {
	next := *task
	next.Attempt++
	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}

	score := float64(time.Now().Add(delay).Unix())
	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: payload})
	pipe.LRem(ctx, processingPrefix+workerID, 1, raw)
	_, err = pipe.Exec(ctx)
	return err
}

// DeadLetter parks a task that exhausted its retries.
func (b *Broker) DeadLetter(ctx context.Context, workerID, raw string) error {
	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, deadKey, raw)
	pipe.LRem(ctx, processingPrefix+workerID, 1, raw)
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteDelayed moves every due delayed task back onto the main queue.
func (b *Broker) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	due, err := b.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	var moved int
	for _, payload := range due {
		pipe := b.client.TxPipeline()
		pipe.LPush(ctx, queueKey, payload)
		pipe.ZRem(ctx, delayedKey, payload)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Reclaim pushes a worker's orphaned processing entries back onto the
// queue. Run at worker startup so a crash mid-job re-delivers.
func (b *Broker) Reclaim(ctx context.Context, workerID string) (int, error) {
	var moved int
	for {
		_, err := b.client.RPopLPush(ctx, processingPrefix+workerID, queueKey).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}
