package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the dispatch buffer has no room. Producers
// on the registration path treat it as a dropped message, never a failure.
var ErrQueueFull = errors.New("dispatch queue full")

// Envelope carries one message through the dispatch pool.
type Envelope[T any] struct {
	ID         string
	Kind       string
	Body       T
	Attempt    int
	EnqueuedAt time.Time
}

// Handler consumes one envelope. A non-nil error triggers a delayed retry
// up to the configured attempt limit.
type Handler[T any] func(context.Context, Envelope[T]) error

// Options tunes the worker pool.
type Options struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue is an in-memory dispatch pool. Enqueue never blocks: when the
// buffer is full the envelope is rejected with ErrQueueFull so callers on
// the hot path can log and move on.
type Queue[T any] struct {
	name    string
	handler Handler[T]

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	envelopes chan Envelope[T]
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	started   bool
}

// New builds a dispatch queue for the given handler.
func New[T any](name string, handler Handler[T], opts Options) *Queue[T] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = opts.Workers * 8
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Queue[T]{
		name:       name,
		handler:    handler,
		workers:    opts.Workers,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger.With(zap.String("queue", name)),
		envelopes:  make(chan Envelope[T], opts.BufferSize),
	}
}

// Start launches the worker pool. Subsequent calls are no-ops.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	q.started = true
	q.logger.Info("dispatch queue started", zap.Int("workers", q.workers))
}

// Stop cancels the workers and waits for them to exit.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Info("dispatch queue stopped")
}

// Enqueue offers an envelope to the pool without blocking.
func (q *Queue[T]) Enqueue(env Envelope[T]) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.envelopes <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue[T]) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case env := <-q.envelopes:
			if err := q.handler(q.ctx, env); err != nil {
				q.retry(env, err)
			}
		}
	}
}

func (q *Queue[T]) retry(env Envelope[T], err error) {
	env.Attempt++
	if env.Attempt > q.maxRetries {
		q.logger.Error("envelope exceeded retries",
			zap.String("envelope_id", env.ID),
			zap.String("kind", env.Kind),
			zap.Error(err),
		)
		return
	}
	q.logger.Warn("envelope handling failed, retrying",
		zap.String("envelope_id", env.ID),
		zap.String("kind", env.Kind),
		zap.Int("attempt", env.Attempt),
		zap.Error(err),
	)

	go func(e Envelope[T]) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
			if err := q.Enqueue(e); err != nil {
				q.logger.Error("failed to requeue envelope",
					zap.String("envelope_id", e.ID),
					zap.Error(err),
				)
			}
		}
	}(env)
}
