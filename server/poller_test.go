package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"stream-orchestrator/service"
)

type countingReconciler struct {
	service.Reconciler
	passes atomic.Int32
	panics bool
}

func (r *countingReconciler) PollActive(ctx context.Context) (int, error) {
	n := r.passes.Add(1)
	if r.panics && n == 1 {
		panic("provider client exploded")
	}
	return 0, errors.New("provider down")
}

func TestPollerRunsUntilCancelled(t *testing.T) {
	rec := &countingReconciler{panics: true}
	p := NewPoller(rec, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool { return rec.passes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPollerDefaultInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, NewPoller(&countingReconciler{}, 0).interval)
}
