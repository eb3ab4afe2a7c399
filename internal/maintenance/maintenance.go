// Package maintenance runs the background housekeeping jobs: pruning old
// archived rounds and forcing periodic full syncs so the peers never
// drift for long.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fairwaylabs/caddielink/internal/archive"
)

// Syncer is the full-sync trigger; *engine.Engine satisfies it.
type Syncer interface {
	RequestFullSync()
}

// Config selects the job schedules. Empty expressions disable a job.
type Config struct {
	PruneSchedule    string
	FullSyncSchedule string
	Retention        time.Duration
}

// Runner owns the cron instance and its jobs.
type Runner struct {
	cfg    Config
	store  *archive.Store
	syncer Syncer
	logger *slog.Logger
	cron   *cron.Cron
}

// New builds a runner. store may be nil (prune job disabled).
func New(cfg Config, store *archive.Store, syncer Syncer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		store:  store,
		syncer: syncer,
		logger: logger.With("component", "maintenance"),
	}
}

// Start validates the schedules, registers the jobs and starts the cron
// loop.
func (r *Runner) Start() error {
	c := cron.New()

	if r.cfg.PruneSchedule != "" && r.store != nil && r.cfg.Retention > 0 {
		if _, err := c.AddFunc(r.cfg.PruneSchedule, r.pruneArchive); err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", r.cfg.PruneSchedule, err)
		}
	}
	if r.cfg.FullSyncSchedule != "" && r.syncer != nil {
		if _, err := c.AddFunc(r.cfg.FullSyncSchedule, r.fullSync); err != nil {
			return fmt.Errorf("invalid full-sync schedule %q: %w", r.cfg.FullSyncSchedule, err)
		}
	}

	r.cron = c
	c.Start()
	r.logger.Info("maintenance jobs started",
		"prune", r.cfg.PruneSchedule, "full_sync", r.cfg.FullSyncSchedule)
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("maintenance jobs stopped")
}

func (r *Runner) pruneArchive() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-r.cfg.Retention)
	n, err := r.store.Prune(ctx, cutoff)
	if err != nil {
		r.logger.Error("archive prune failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned archived rounds", "removed", n, "cutoff", cutoff)
	}
}

func (r *Runner) fullSync() {
	r.logger.Debug("scheduled full sync")
	r.syncer.RequestFullSync()
}
