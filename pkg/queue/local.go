// Package queue is the in-process stand-in for the webhook broker: a
// bounded buffer drained by a fixed worker pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// DefaultMaxTries matches the broker consumer's retry budget.
const DefaultMaxTries = 5

var (
	ErrFull   = errors.New("queue full")
	ErrClosed = errors.New("queue closed")
)

// Handler processes one item. Returning backoff.Permanent(err) skips the
// remaining retries.
type Handler[T any] func(ctx context.Context, item T) error

type Local[T any] struct {
	items           chan T
	handler         Handler[T]
	numWorkers      int
	maxTries        uint
	initialInterval time.Duration

	mu     sync.RWMutex
	closed bool
}

type Option func(*localOptions)

type localOptions struct {
	maxTries        uint
	initialInterval time.Duration
}

// WithRetry sets the attempt budget per item and the first backoff interval.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(o *localOptions) {
		if maxTries > 0 {
			o.maxTries = maxTries
		}
		if initial > 0 {
			o.initialInterval = initial
		}
	}
}

func NewLocal[T any](size, numWorkers int, handler Handler[T], opts ...Option) *Local[T] {
	if size < 1 {
		size = 1
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	o := localOptions{maxTries: DefaultMaxTries, initialInterval: backoff.DefaultInitialInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return &Local[T]{
		items:           make(chan T, size),
		handler:         handler,
		numWorkers:      numWorkers,
		maxTries:        o.maxTries,
		initialInterval: o.initialInterval,
	}
}

// Enqueue never blocks: a full buffer is reported so the caller can answer
// the provider with a retryable status.
func (q *Local[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.items <- item:
		return nil
	default:
		return ErrFull
	}
}

// Run drains the queue until ctx is cancelled, then finishes buffered items
// and returns.
func (q *Local[T]) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 1; i <= q.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for item := range q.items {
				q.process(ctx, workerId, item)
			}
		}(i)
	}

	<-ctx.Done()
	q.mu.Lock()
	q.closed = true
	close(q.items)
	q.mu.Unlock()
	wg.Wait()
	return ctx.Err()
}

// process retries transient failures with backoff. Items are handled
// detached from ctx so buffered work still finishes during shutdown.
func (q *Local[T]) process(ctx context.Context, workerId int, item T) {
	detached := context.WithoutCancel(ctx)
	operation := func() (struct{}, error) {
		return struct{}{}, q.safeHandle(detached, item)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.initialInterval
	bo.MaxInterval = 10 * time.Second

	_, err := backoff.Retry(detached, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(q.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			zerolog.Ctx(ctx).Warn().Err(err).Int("worker_id", workerId).Dur("retry_in", next).Msg("queued item failed, retrying")
		}),
	)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Msg("failed to handle queued item, dropping")
	}
}

// safeHandle turns a handler panic into a permanent failure.
func (q *Local[T]) safeHandle(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return q.handler(ctx, item)
}
