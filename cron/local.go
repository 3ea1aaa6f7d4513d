package cron

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"slotkeeper/config"
)

// StartLocal runs the reaper and pruner inside the current process. It is
// meant for single-node deployments without a task worker. Several processes
// may run it at once since a sweep only releases holds that are still active.
func StartLocal(ctx context.Context, cfg config.Config, jobs Jobs) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(every(cfg.ReaperInterval), func() {
		_ = jobs.handleReap(ctx, nil)
	}); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(every(cfg.EventPruneEvery), func() {
		_ = jobs.handlePrune(ctx, nil)
	}); err != nil {
		return nil, err
	}

	c.Start()
	jobs.Logger.Info("Local scheduler started",
		zap.Duration("reaperInterval", cfg.ReaperInterval),
		zap.Duration("pruneInterval", cfg.EventPruneEvery))

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		jobs.Logger.Info("Local scheduler stopped")
	}()
	return c, nil
}
