// Package scheduler runs the background maintenance loop: flushing
// dirty documents, evicting idle resources, pruning replay logs, and a
// cron-scheduled store vacuum.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/canvakit/graphsync/internal/registry"
	"github.com/canvakit/graphsync/internal/store"
)

// Config tunes the maintenance cadence.
type Config struct {
	// SweepInterval is the period of the maintenance tick.
	SweepInterval time.Duration
	// IdleTTL is how long a resource with no sessions stays in memory.
	IdleTTL time.Duration
	// VacuumCron is a standard 5-field cron expression for the store
	// vacuum. Empty disables vacuuming.
	VacuumCron string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		IdleTTL:       5 * time.Minute,
		VacuumCron:    "0 4 * * *",
	}
}

// Scheduler drives the registry's maintenance operations on a ticker.
type Scheduler struct {
	registry *registry.Registry
	store    store.Store
	cfg      Config
	logger   *slog.Logger

	vacuumSchedule cron.Schedule
	nextVacuum     time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler. The vacuum cron expression is validated here
// so a bad config fails at startup, not at 4 AM.
func New(reg *registry.Registry, s store.Store, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	sched := &Scheduler{
		registry: reg,
		store:    s,
		cfg:      cfg,
		logger:   logger,
	}
	if cfg.VacuumCron != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		spec, err := parser.Parse(cfg.VacuumCron)
		if err != nil {
			return nil, fmt.Errorf("invalid vacuum cron %q: %w", cfg.VacuumCron, err)
		}
		sched.vacuumSchedule = spec
		sched.nextVacuum = spec.Next(time.Now())
	}
	return sched, nil
}

// Start launches the background maintenance loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(runCtx)
	s.logger.Info("maintenance scheduler started",
		slog.Duration("sweep_interval", s.cfg.SweepInterval),
		slog.Duration("idle_ttl", s.cfg.IdleTTL))
	return nil
}

// Stop halts the loop and waits for the in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush so a clean shutdown loses nothing.
			s.registry.FlushDirty(context.Background())
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one maintenance pass.
func (s *Scheduler) tick(ctx context.Context) {
	s.registry.FlushDirty(ctx)
	s.registry.PruneReplayLogs(ctx)
	s.registry.SweepIdle(ctx, s.cfg.IdleTTL)

	if s.vacuumSchedule != nil && time.Now().After(s.nextVacuum) {
		if err := s.store.Vacuum(ctx); err != nil {
			s.logger.Error("store vacuum failed", slog.String("error", err.Error()))
		} else {
			s.logger.Info("store vacuum completed")
		}
		s.nextVacuum = s.vacuumSchedule.Next(time.Now())
	}
}
