package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"slotkeeper/config"
	"slotkeeper/cron"
	"slotkeeper/database"
	"slotkeeper/database/repository"
	"slotkeeper/services/audit"
	"slotkeeper/services/booking"
	"slotkeeper/services/catalog"
	"slotkeeper/services/idempotency"
	"slotkeeper/services/notification"
	"slotkeeper/services/reservation"
	"slotkeeper/services/tasks"
	"slotkeeper/services/tenant"
	"slotkeeper/utils"
)

// app holds the services every command is built from.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  repository.Store
	retry  utils.RetryPolicy

	audit    *audit.DefaultAuditService
	engine   *reservation.Engine
	guard    *idempotency.StoreGuard
	catalog  *catalog.DefaultCatalogService
	resolver *tenant.JWTResolver

	queue *asynq.Client
}

// bootstrap loads configuration and opens the store. Redis clients are only
// opened by the commands that need them.
func bootstrap(ctx context.Context) (*app, error) {
	config.LoadConfig()
	cfg := config.AppConfig
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	utils.InitializeLogger()
	logger := utils.GetLogger()

	store, err := database.OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	retry := utils.RetryPolicy{Attempts: cfg.InfraRetryAttempts, Backoff: cfg.InfraRetryBackoff}
	if retry.Attempts <= 0 {
		retry = utils.DefaultRetryPolicy
	}

	a := &app{cfg: cfg, logger: logger, store: store, retry: retry}
	a.audit = audit.NewDefaultAuditService(store, nil, logger)

	var advisory reservation.AdvisoryLock
	if cfg.FastPathEnabled {
		advisory = reservation.NewRedisAdvisoryLock(utils.GetLockClient(), logger)
	}
	a.engine = reservation.NewEngine(store, advisory, a.audit, nil, logger, cfg.HoldTTL, cfg.ReaperBatch, retry)
	a.guard = idempotency.NewStoreGuard(store, a.audit, nil, logger, cfg.EventWaitTimeout, cfg.EventRetention, retry)
	a.catalog = catalog.NewDefaultCatalogService(store, nil, logger)
	a.resolver = tenant.NewJWTResolver(cfg.TenantJWTSecret, store, logger)
	return a, nil
}

// notifier sends appointment confirmations over the configured channels.
func (a *app) notifier() notification.CommittedNotifier {
	sms, email := notification.SendersFromConfig(a.cfg, a.logger)
	return notification.CommittedNotifier{SMS: sms, Email: email, Logger: a.logger}
}

// publisher enqueues committed events for the worker. With the local
// scheduler there is no worker, so confirmations go out inline.
func (a *app) publisher() notification.Publisher {
	if a.cfg.LocalScheduler {
		return notification.NewInlinePublisher(a.notifier(), nil)
	}
	if a.queue == nil {
		a.queue = asynq.NewClient(cron.QueueOpt(a.cfg))
	}
	return tasks.AsynqPublisher{Client: a.queue}
}

// bookingMachine wires the state machine with the OTP confirmation channel.
func (a *app) bookingMachine() *booking.Machine {
	sms, email := notification.SendersFromConfig(a.cfg, a.logger)
	codes := notification.RedisCodeStore{Client: utils.GetOTPClient()}
	otp := notification.NewOTPChannel(codes, sms, email, a.cfg.ConfirmCodeTTL, a.logger)

	return booking.NewMachine(a.store, a.store, a.engine, a.catalog, otp, a.publisher(), a.audit,
		nil, a.logger, booking.Settings{
			MaxConfirmAttempts: a.cfg.ConfirmMaxAttempts,
			VerifyTimeout:      a.cfg.VerifyTimeout,
			Alternatives:       a.cfg.AlternativeSlots,
		}, a.retry)
}

// jobs binds the periodic and queued tasks.
func (a *app) jobs() cron.Jobs {
	return cron.Jobs{
		Engine:    a.engine,
		Guard:     a.guard,
		Committed: a.notifier(),
		Logger:    a.logger,
	}
}

func (a *app) Close() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	utils.CloseCaches()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		a.logger.Warn("Failed to close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
