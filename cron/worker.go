package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"slotkeeper/config"
	"slotkeeper/models"
	"slotkeeper/services/idempotency"
	"slotkeeper/services/reservation"
	"slotkeeper/services/tasks"
)

// CommittedHandler receives appointment:committed events.
type CommittedHandler interface {
	Notify(ctx context.Context, ev models.AppointmentCommitted) error
}

// Jobs binds task types to the services that run them.
type Jobs struct {
	Engine    reservation.ReservationEngine
	Guard     idempotency.Guard
	Committed CommittedHandler
	Logger    *zap.Logger
}

// QueueOpt is the asynq connection for the configured queue database.
func QueueOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisQueueDB,
	}
}

// Mux routes each task type to its handler.
func (j Jobs) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeReapHolds, j.handleReap)
	mux.HandleFunc(tasks.TypePruneEvents, j.handlePrune)
	mux.HandleFunc(tasks.TypeAppointmentCommitted, j.handleCommitted)
	return mux
}

func (j Jobs) handleReap(ctx context.Context, _ *asynq.Task) error {
	report, err := j.Engine.Reap(ctx)
	if err != nil {
		j.Logger.Error("Reaper sweep failed", zap.Int("released", report.Released), zap.Error(err))
		return err
	}
	return nil
}

func (j Jobs) handlePrune(ctx context.Context, _ *asynq.Task) error {
	if _, err := j.Guard.Prune(ctx); err != nil {
		j.Logger.Error("Processed event prune failed", zap.Error(err))
		return err
	}
	return nil
}

func (j Jobs) handleCommitted(ctx context.Context, task *asynq.Task) error {
	ev, err := tasks.ParseCommitted(task)
	if err != nil {
		j.Logger.Error("Invalid committed payload", zap.Error(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if j.Committed == nil {
		return nil
	}
	if err := j.Committed.Notify(ctx, ev); err != nil {
		j.Logger.Warn("Failed to notify committed appointment",
			zap.String("tenant", ev.TenantID), zap.String("appointment", ev.AppointmentID), zap.Error(err))
		return err
	}
	return nil
}

// RunWorker serves queued tasks and registers the periodic reaper and pruner
// until ctx is cancelled. Any number of workers may run; asynq.Unique keeps
// periodic sweeps from piling up.
func RunWorker(ctx context.Context, cfg config.Config, jobs Jobs) error {
	logger := jobs.Logger
	opt := QueueOpt(cfg)

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			"default": 1,
		},
	})

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	reapTask, reapOpts := tasks.NewReapTask(cfg.ReaperInterval)
	if _, err := scheduler.Register(every(cfg.ReaperInterval), reapTask, reapOpts...); err != nil {
		return fmt.Errorf("register reaper: %w", err)
	}
	pruneTask, pruneOpts := tasks.NewPruneTask()
	if _, err := scheduler.Register(every(cfg.EventPruneEvery), pruneTask, pruneOpts...); err != nil {
		return fmt.Errorf("register pruner: %w", err)
	}

	go monitorRedisConnection(ctx, cfg, logger)

	const maxAttempts = 5
	for attempts := 1; ; attempts++ {
		err := srv.Start(jobs.Mux())
		if err == nil {
			break
		}
		logger.Warn("Failed to start task worker",
			zap.Int("attempt", attempts), zap.Int("maxAttempts", maxAttempts), zap.Error(err))
		if attempts == maxAttempts {
			return fmt.Errorf("start task worker: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(attempts*2) * time.Second):
		}
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info("Task worker started",
		zap.Duration("reaperInterval", cfg.ReaperInterval),
		zap.Duration("pruneInterval", cfg.EventPruneEvery))

	<-ctx.Done()
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info("Task worker stopped")
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// monitorRedisConnection pings the queue database to surface outages in the logs.
func monitorRedisConnection(ctx context.Context, cfg config.Config, logger *zap.Logger) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisQueueDB,
	})
	defer client.Close()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(ctx).Err(); err != nil && ctx.Err() == nil {
				logger.Warn("Queue redis connection lost", zap.Error(err))
			}
		}
	}
}
