package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLocalDrainsOnShutdown(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	q := NewLocal[int](16, 2, func(ctx context.Context, item int) error {
		assert.NoError(t, ctx.Err(), "handlers run detached from shutdown")
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, item)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not stop")
	}
	mu.Lock()
	assert.Len(t, seen, 10)
	mu.Unlock()
	assert.ErrorIs(t, q.Enqueue(context.Background(), 11), ErrClosed)
}

func TestLocalReportsFull(t *testing.T) {
	q := NewLocal[string](1, 1, func(ctx context.Context, item string) error { return nil })
	require.NoError(t, q.Enqueue(context.Background(), "a"))
	assert.ErrorIs(t, q.Enqueue(context.Background(), "b"), ErrFull)
}

func TestLocalRetriesTransientFailures(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts = make(map[int]int)
	)
	q := NewLocal[int](8, 1, func(ctx context.Context, item int) error {
		mu.Lock()
		attempts[item]++
		n := attempts[item]
		mu.Unlock()
		switch item {
		case 0:
			panic("boom")
		case 1:
			if n < 3 {
				return errors.New("store unavailable")
			}
		case 2:
			return backoff.Permanent(errors.New("malformed"))
		case 3:
			return errors.New("provider down")
		}
		return nil
	}, WithRetry(4, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[int]int{0: 1, 1: 3, 2: 1, 3: 4, 4: 1}, attempts)
}
