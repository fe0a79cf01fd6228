// Package scheduler runs the watchlist processor on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"spacenexus/internal/watchlist"
)

// Runner performs one watchlist pass.
type Runner interface {
	Process(ctx context.Context) watchlist.Result
}

// Scheduler periodically runs watchlist alerts.
type Scheduler struct {
	runner Runner
	log    *slog.Logger
	tick   time.Duration
}

// New creates a Scheduler with a 1-hour interval.
func New(runner Runner, log *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		log:    log,
		tick:   1 * time.Hour,
	}
}

// SetTickInterval overrides the default interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled. The first
// pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.tick)
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
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	res := s.runner.Process(ctx)

	if res.Total() > 0 {
		s.log.Info("sent watchlist alerts",
			"news", res.NewsAlerts,
			"contracts", res.ContractAlerts,
			"listings", res.ListingAlerts,
			"duration", time.Since(start))
		return
	}
	s.log.Debug("no new watchlist alerts", "duration", time.Since(start))
}
