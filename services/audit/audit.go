package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/utils"
)

// AuditService is the append-only, tenant-partitioned attempt log.
type AuditService interface {
	// Record appends an entry. Failures are logged and never surface to the
	// operation being audited.
	Record(ctx context.Context, entry models.AuditEntry)
	Timeline(ctx context.Context, q repository.AuditQuery) ([]models.AuditEntry, error)
	ConflictsByHolder(ctx context.Context, tenantID string, since time.Time, threshold int) ([]models.HolderConflicts, error)
}

// DefaultAuditService implements AuditService on an AuditRepository.
type DefaultAuditService struct {
	Repo   repository.AuditRepository
	Clock  utils.Clock
	Logger *zap.Logger
}

func NewDefaultAuditService(repo repository.AuditRepository, clock utils.Clock, logger *zap.Logger) *DefaultAuditService {
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &DefaultAuditService{Repo: repo, Clock: clock, Logger: logger}
}

func (s *DefaultAuditService) Record(ctx context.Context, entry models.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = s.Clock.Now()
	}

	if err := s.Repo.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		s.Logger.Error("Failed to append audit entry",
			zap.String("tenant", entry.TenantID),
			zap.String("kind", string(entry.Kind)),
			zap.String("outcome", entry.Outcome),
			zap.String("slot", entry.SlotID),
			zap.Error(err))
	}
}

func (s *DefaultAuditService) Timeline(ctx context.Context, q repository.AuditQuery) ([]models.AuditEntry, error) {
	if q.TenantID == "" {
		return nil, utils.Validation("tenant is required")
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 200
	}
	return s.Repo.ListAudit(ctx, q)
}

func (s *DefaultAuditService) ConflictsByHolder(ctx context.Context, tenantID string, since time.Time, threshold int) ([]models.HolderConflicts, error) {
	if tenantID == "" {
		return nil, utils.Validation("tenant is required")
	}
	if threshold < 1 {
		threshold = 3
	}
	return s.Repo.CountConflictsByHolder(ctx, tenantID, since, threshold)
}
