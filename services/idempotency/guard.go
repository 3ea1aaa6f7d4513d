package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/services/audit"
	"slotkeeper/utils"
)

// Handler performs the side effect of an event and reports its outcome.
type Handler func(ctx context.Context) (models.EventOutcome, error)

// Result is what every delivery of an event receives.
type Result struct {
	Outcome   models.EventOutcome
	Duplicate bool
}

// Guard runs a handler at most once per (tenant, event id).
type Guard interface {
	Process(ctx context.Context, tenantID, eventID, eventType string, h Handler) (Result, error)
	Prune(ctx context.Context) (int64, error)
}

// StoreGuard implements Guard on the processed_events uniqueness constraint.
type StoreGuard struct {
	Repo   repository.EventRepository
	Audit  audit.AuditService
	Clock  utils.Clock
	Logger *zap.Logger

	// WaitTimeout bounds how long a duplicate waits for the first delivery to finish.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Retention    time.Duration
	Retry        utils.RetryPolicy
}

var _ Guard = (*StoreGuard)(nil)

func NewStoreGuard(repo repository.EventRepository, auditSvc audit.AuditService, clock utils.Clock,
	logger *zap.Logger, waitTimeout, retention time.Duration, retry utils.RetryPolicy) *StoreGuard {
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &StoreGuard{
		Repo:         repo,
		Audit:        auditSvc,
		Clock:        clock,
		Logger:       logger,
		WaitTimeout:  waitTimeout,
		PollInterval: 50 * time.Millisecond,
		Retention:    retention,
		Retry:        retry,
	}
}

func (g *StoreGuard) Process(ctx context.Context, tenantID, eventID, eventType string, h Handler) (Result, error) {
	if tenantID == "" || eventID == "" {
		return Result{}, utils.Validation("tenant and event id are required")
	}
	logger := g.Logger.With(zap.String("tenant", tenantID), zap.String("event", eventID))

	owner := uuid.NewString()
	var inserted bool
	err := utils.RetryInfra(ctx, g.Retry, "insert processed event", func(ctx context.Context) error {
		var err error
		inserted, err = g.Repo.InsertProcessedEvent(ctx, models.ProcessedEvent{
			TenantID:  tenantID,
			EventID:   eventID,
			EventType: eventType,
			Status:    models.EventPending,
			Outcome:   models.EventOutcome{Result: models.EventResultPending},
			Owner:     owner,
			CreatedAt: g.Clock.Now(),
		})
		if err != nil || inserted {
			return err
		}
		// The row may be ours from an attempt whose reply was lost.
		ev, err := g.Repo.GetProcessedEvent(ctx, tenantID, eventID)
		if err != nil {
			return err
		}
		if ev.Owner == owner {
			logger.Warn("Recovered processed event insert after a lost reply")
			inserted = true
		}
		return nil
	})
	if err != nil {
		logger.Error("Idempotency guard unavailable", zap.Error(err))
		return Result{}, err
	}

	if !inserted {
		outcome, err := g.awaitOutcome(ctx, tenantID, eventID)
		if err != nil {
			return Result{}, err
		}
		logger.Info("Duplicate event suppressed", zap.String("result", outcome.Result))
		g.record(ctx, tenantID, eventID, models.AuditDuplicate, outcome.Result)
		return Result{Outcome: outcome, Duplicate: true}, nil
	}

	outcome := g.run(ctx, h, logger)

	// The outcome is recorded even if the caller has gone away.
	recordCtx := context.WithoutCancel(ctx)
	err = utils.RetryInfra(recordCtx, g.Retry, "complete processed event", func(ctx context.Context) error {
		return g.Repo.CompleteProcessedEvent(ctx, tenantID, eventID, outcome, g.Clock.Now())
	})
	if err != nil {
		logger.Error("Failed to record event outcome", zap.Error(err))
	}

	g.record(ctx, tenantID, eventID, models.AuditSuccess, outcome.Result)
	return Result{Outcome: outcome}, nil
}

// run executes the handler and converts failures and panics into a recorded outcome.
func (g *StoreGuard) run(ctx context.Context, h Handler, logger *zap.Logger) (outcome models.EventOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event handler panicked", zap.Any("panic", r))
			outcome = models.EventOutcome{Result: models.EventResultFailed, Message: "internal error"}
		}
	}()

	out, err := h(ctx)
	if err != nil {
		logger.Warn("Event handler failed", zap.Error(err))
		if out.Result == "" {
			out.Result = models.EventResultFailed
		}
		if out.Message == "" {
			out.Message = publicMessage(err)
		}
		return out
	}
	if out.Result == "" {
		out.Result = models.EventResultSucceeded
	}
	return out
}

// awaitOutcome polls until the first delivery completes. Pending rows are
// never taken over; a timeout reports the event as still pending.
func (g *StoreGuard) awaitOutcome(ctx context.Context, tenantID, eventID string) (models.EventOutcome, error) {
	deadline := g.Clock.Now().Add(g.WaitTimeout)
	ticker := time.NewTicker(g.PollInterval)
	defer ticker.Stop()

	for {
		ev, err := g.Repo.GetProcessedEvent(ctx, tenantID, eventID)
		if err != nil && !utils.IsInfrastructure(err) {
			return models.EventOutcome{}, err
		}
		if err == nil && ev.Status == models.EventCompleted {
			return ev.Outcome, nil
		}
		if !g.Clock.Now().Before(deadline) {
			return models.EventOutcome{Result: models.EventResultPending, Message: "event is still being processed"}, nil
		}

		select {
		case <-ctx.Done():
			return models.EventOutcome{}, utils.Infrastructure("waiting for event outcome", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (g *StoreGuard) Prune(ctx context.Context) (int64, error) {
	if g.Retention <= 0 {
		return 0, utils.Validation("retention must be positive")
	}
	cutoff := g.Clock.Now().Add(-g.Retention)

	var n int64
	err := utils.RetryInfra(ctx, g.Retry, "prune processed events", func(ctx context.Context) error {
		var err error
		n, err = g.Repo.PruneProcessedEvents(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	g.Logger.Info("Pruned processed events", zap.Int64("removed", n), zap.Time("cutoff", cutoff))
	return n, nil
}

func (g *StoreGuard) record(ctx context.Context, tenantID, eventID, outcome, detail string) {
	if g.Audit == nil {
		return
	}
	g.Audit.Record(ctx, models.AuditEntry{
		TenantID: tenantID,
		Kind:     models.AuditGuard,
		Outcome:  outcome,
		EventID:  eventID,
		Detail:   detail,
	})
}

// publicMessage never echoes internal causes.
func publicMessage(err error) string {
	switch utils.KindOf(err) {
	case utils.KindInfrastructure:
		return "temporarily unavailable"
	default:
		var be *utils.BookingError
		if errors.As(err, &be) && be.Message != "" {
			return be.Message
		}
		return fmt.Sprintf("%s error", utils.KindOf(err))
	}
}
