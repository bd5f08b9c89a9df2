package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"stream-orchestrator/service"
)

// Poller drives the reconciler's pull path on a fixed interval. A pass that
// is still running when the next tick fires delays that tick.
type Poller struct {
	reconciler service.Reconciler
	interval   time.Duration
}

func NewPoller(reconciler service.Reconciler, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{reconciler: reconciler, interval: interval}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	zerolog.Ctx(ctx).Info().Dur("interval", p.interval).Msg("poller started")
	for {
		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("reconciliation pass panicked")
		}
	}()
	if _, err := p.reconciler.PollActive(ctx); err != nil && ctx.Err() == nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("reconciliation pass failed")
	}
}
