package recon

import (
	"context"
	"log/slog"
	"time"
)

// SchedulerConfig configures the periodic reconciliation scheduler.
type SchedulerConfig struct {
	Reconciler *Reconciler
	Interval   time.Duration
	RunOnStart bool
	Logger     *slog.Logger
	// OnResult observes every completed run. Optional.
	OnResult func(*Result, error)
}

// Scheduler executes reconciliation on a fixed cadence.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger
	onResult   func(*Result, error)
}

// NewScheduler constructs a scheduler with sane defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		reconciler: cfg.Reconciler,
		interval:   interval,
		runOnStart: cfg.RunOnStart,
		logger:     logger,
		onResult:   cfg.OnResult,
	}
}

// Start runs reconciliation every interval until the context is cancelled.
// Runs never overlap: a slow run delays the next tick.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.reconciler == nil {
		return
	}
	if s.runOnStart {
		s.runOnce(ctx)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	res, err := s.reconciler.Run(ctx, RunOptions{})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("recon scheduler run failed", slog.Any("error", err))
	}
	if s.onResult != nil {
		s.onResult(res, err)
	}
}
