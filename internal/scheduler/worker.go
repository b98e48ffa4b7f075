package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// reserveBlock bounds each BRPOPLPUSH wait so workers notice shutdown.
const reserveBlock = 5 * time.Second

// promoteInterval is how often due delayed tasks move back to the queue.
const promoteInterval = time.Second

// JobFunc is one job body. The context carries the soft timeout; a body
// that honors cancellation unwinds cleanly with no half-committed state.
type JobFunc func(ctx context.Context) error

// JobSpec pairs a job body with its execution contract.
type JobSpec struct {
	Name        string
	SoftTimeout time.Duration
	HardTimeout time.Duration
	MaxRetries  int
	Backoff     time.Duration
	Run         JobFunc
}

// errHardTimeout marks a job body that ignored its context past the hard
// deadline. The delivery is retried or dead-lettered like any failure.
var errHardTimeout = errors.New("job exceeded hard timeout")

// Pool consumes tasks with prefetch=1 per worker and acks late.
type Pool struct {
	broker  *Broker
	jobs    map[string]JobSpec
	workers int
	log     zerolog.Logger
}

func NewPool(broker *Broker, workers int, log zerolog.Logger) *Pool {
	return &Pool{
		broker:  broker,
		jobs:    make(map[string]JobSpec),
		workers: workers,
		log:     log.With().Str("component", "workers").Logger(),
	}
}

// Register adds a job to the registry. Unregistered task names are
// dead-lettered on delivery.
func (p *Pool) Register(spec JobSpec) {
	p.jobs[spec.Name] = spec
}

// Run blocks until the context is canceled, driving the promoter loop and
// all worker loops.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.promoteLoop(ctx) })
	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error { return p.workerLoop(ctx, workerID) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := p.broker.PromoteDelayed(ctx, now); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("promoting delayed tasks failed")
			}
		}
	}
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) error {
	log := p.log.With().Str("worker", workerID).Logger()

	if reclaimed, err := p.broker.Reclaim(ctx, workerID); err != nil {
		return err
	} else if reclaimed > 0 {
		log.Warn().Int("tasks", reclaimed).Msg("reclaimed orphaned tasks")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		task, raw, err := p.broker.Reserve(ctx, workerID, reserveBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("reserve failed")
			continue
		}
		if task == nil {
			continue
		}
		p.dispatch(ctx, log, workerID, task, raw)
	}
}

func (p *Pool) dispatch(ctx context.Context, log zerolog.Logger, workerID string, task *Task, raw string) {
	spec, ok := p.jobs[task.Name]
	if !ok {
		log.Error().Str("task", task.Name).Msg("unknown task dead-lettered")
		if err := p.broker.DeadLetter(ctx, workerID, raw); err != nil {
			log.Error().Err(err).Msg("dead-letter failed")
		}
		return
	}

	started := time.Now()
	err := p.execute(ctx, spec)
	elapsed := time.Since(started)

	if err == nil {
		if aerr := p.broker.Ack(ctx, workerID, raw); aerr != nil {
			log.Error().Err(aerr).Str("task", task.Name).Msg("ack failed")
		}
		log.Info().Str("task", task.Name).Dur("elapsed", elapsed).Msg("job completed")
		return
	}

	if task.Attempt <= spec.MaxRetries {
		log.Warn().Err(err).Str("task", task.Name).Int("attempt", task.Attempt).
			Dur("backoff", spec.Backoff).Msg("job failed, retrying")
		if rerr := p.broker.Retry(ctx, workerID, raw, task, spec.Backoff); rerr != nil {
			log.Error().Err(rerr).Str("task", task.Name).Msg("retry enqueue failed")
		}
		return
	}

	log.Error().Err(err).Str("task", task.Name).Int("attempt", task.Attempt).
		Msg("job failed permanently, dead-lettered")
	if derr := p.broker.DeadLetter(ctx, workerID, raw); derr != nil {
		log.Error().Err(derr).Str("task", task.Name).Msg("dead-letter failed")
	}
}

// execute runs the body under the soft timeout; the hard timeout abandons
// a body that ignores cancellation.
func (p *Pool) execute(ctx context.Context, spec JobSpec) error {
	jobCtx, cancel := context.WithTimeout(ctx, spec.SoftTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- spec.Run(jobCtx) }()

	hard := time.NewTimer(spec.HardTimeout)
	defer hard.Stop()

	select {
	case err := <-done:
		return err
	case <-hard.C:
		cancel()
		return errHardTimeout
	}
}
