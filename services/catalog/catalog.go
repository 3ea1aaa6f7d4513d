package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/utils"
)

// CatalogSource supplies candidate slots. Business hours and holidays are
// the source's concern.
type CatalogSource interface {
	Fetch(ctx context.Context) ([]models.Slot, error)
}

// SyncReport summarises one catalog sync.
type SyncReport struct {
	Fetched  int `json:"fetched"`
	Upserted int `json:"upserted"`
	Skipped  int `json:"skipped"`
}

// CatalogService is the read-mostly view of bookable windows.
type CatalogService interface {
	Sync(ctx context.Context, src CatalogSource) (SyncReport, error)
	ListAvailable(ctx context.Context, q models.SlotQuery) ([]models.AvailableSlot, error)
	Block(ctx context.Context, tenantID, slotID string) (*models.Slot, error)
	Unblock(ctx context.Context, tenantID, slotID string) (*models.Slot, error)
}

// DefaultCatalogService implements CatalogService.
type DefaultCatalogService struct {
	Repo   repository.SlotRepository
	Clock  utils.Clock
	Logger *zap.Logger
}

var _ CatalogService = (*DefaultCatalogService)(nil)

func NewDefaultCatalogService(repo repository.SlotRepository, clock utils.Clock, logger *zap.Logger) *DefaultCatalogService {
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &DefaultCatalogService{Repo: repo, Clock: clock, Logger: logger}
}

func (s *DefaultCatalogService) Sync(ctx context.Context, src CatalogSource) (SyncReport, error) {
	var report SyncReport
	slots, err := src.Fetch(ctx)
	if err != nil {
		return report, err
	}
	report.Fetched = len(slots)

	now := s.Clock.Now()
	valid := make([]models.Slot, 0, len(slots))
	for _, sl := range slots {
		if err := validateSlot(sl); err != nil {
			s.Logger.Warn("Skipping invalid catalog slot",
				zap.String("tenant", sl.TenantID), zap.String("slot", sl.ID), zap.Error(err))
			report.Skipped++
			continue
		}
		sl.Start, sl.End = sl.Start.UTC(), sl.End.UTC()
		sl.UpdatedAt = now
		valid = append(valid, sl)
	}

	report.Upserted, err = s.Repo.UpsertSlots(ctx, valid)
	if err != nil {
		return report, err
	}
	report.Skipped += len(valid) - report.Upserted

	s.Logger.Info("Catalog synced",
		zap.Int("fetched", report.Fetched),
		zap.Int("upserted", report.Upserted),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (s *DefaultCatalogService) ListAvailable(ctx context.Context, q models.SlotQuery) ([]models.AvailableSlot, error) {
	if q.TenantID == "" {
		return nil, utils.Validation("tenant is required")
	}
	if q.From.IsZero() {
		q.From = s.Clock.Now()
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}

	slots, err := s.Repo.ListAvailableSlots(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]models.AvailableSlot, 0, len(slots))
	for _, sl := range slots {
		out = append(out, sl.ToAvailable())
	}
	return out, nil
}

func (s *DefaultCatalogService) Block(ctx context.Context, tenantID, slotID string) (*models.Slot, error) {
	return s.Repo.SetSlotBlocked(ctx, tenantID, slotID, true, s.Clock.Now())
}

func (s *DefaultCatalogService) Unblock(ctx context.Context, tenantID, slotID string) (*models.Slot, error) {
	return s.Repo.SetSlotBlocked(ctx, tenantID, slotID, false, s.Clock.Now())
}

func validateSlot(sl models.Slot) error {
	switch {
	case sl.TenantID == "":
		return utils.Validation("slot has no tenant")
	case sl.ID == "":
		return utils.Validation("slot has no id")
	case sl.ResourceID == "":
		return utils.Validation("slot has no resource")
	case sl.Start.IsZero() || !sl.End.After(sl.Start):
		return utils.Validation("slot end must be after start")
	case sl.End.Sub(sl.Start) > 24*time.Hour:
		return utils.Validation("slot is longer than a day")
	}
	switch sl.Status {
	case "", models.SlotAvailable, models.SlotBlocked:
		return nil
	}
	return utils.Validation("catalog slots must be available or blocked")
}
