// services/scheduler.go
package services

import (
	"context"
	"time"

	"pong-arena/game"

	"github.com/decred/slog"
	"github.com/go-co-op/gocron/v2"
)

type SchedulerConfig struct {
	IdleSweepInterval time.Duration
	IdleTimeout       time.Duration
	ReconcileInterval time.Duration
}

// StartScheduler runs the background sweeps: idle game removal and bracket
// reconciliation. Each job runs at most once at a time.
func StartScheduler(reg *game.Registry, brackets *BracketService, cfg SchedulerConfig, log slog.Logger) (gocron.Scheduler, error) {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = game.DefaultIdleTimeout
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	// Idle games
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.IdleSweepInterval),
		gocron.NewTask(func() {
			if n := reg.SweepIdle(time.Now(), cfg.IdleTimeout); n > 0 {
				log.Infof("Idle sweep removed %d game(s), %d live", n, reg.Len())
			}
		}),
		gocron.WithName("idle-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	// Stalled brackets
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.ReconcileInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ReconcileInterval)
			defer cancel()
			if _, err := brackets.Reconcile(ctx); err != nil {
				log.Errorf("Reconciliation failed: %v", err)
			}
		}),
		gocron.WithName("bracket-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	log.Infof("Scheduler started: idle sweep every %s, reconcile every %s", cfg.IdleSweepInterval, cfg.ReconcileInterval)
	return sched, nil
}
