package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/services/audit"
	"slotkeeper/utils"
)

// ReservationEngine is the atomic claim/release primitive over slots.
type ReservationEngine interface {
	Claim(ctx context.Context, p ClaimParams) (*repository.ClaimResult, error)
	Release(ctx context.Context, p ReleaseParams) (*repository.ReleaseResult, error)
	Commit(ctx context.Context, req repository.CommitRequest) (*models.Appointment, error)
	CancelAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error)
	GetHold(ctx context.Context, tenantID, holdID string) (*models.Hold, error)
	GetAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error)
	Reap(ctx context.Context) (ReapReport, error)
}

// ClaimParams names the slot and the holder asking for it.
type ClaimParams struct {
	TenantID    string
	SlotID      string
	HolderID    string
	Interaction *repository.InteractionBinding
}

// ReleaseParams gives a hold back.
type ReleaseParams struct {
	TenantID      string
	HoldID        string
	Reason        models.HoldStatus
	InteractionTo models.InteractionState
	FailureReason string
}

// ReapReport summarises one reaper sweep.
type ReapReport struct {
	Scanned  int `json:"scanned"`
	Released int `json:"released"`
	Failed   int `json:"failed"`
}

// Engine implements ReservationEngine.
type Engine struct {
	Repo     repository.ReservationRepository
	Advisory AdvisoryLock
	Audit    audit.AuditService
	Clock    utils.Clock
	Logger   *zap.Logger

	HoldTTL     time.Duration
	AdvisoryTTL time.Duration
	ReaperBatch int
	Retry       utils.RetryPolicy
}

var _ ReservationEngine = (*Engine)(nil)

// maxReapBatches bounds one sweep so a failing store cannot spin the reaper.
const maxReapBatches = 50

func NewEngine(repo repository.ReservationRepository, advisory AdvisoryLock, auditSvc audit.AuditService,
	clock utils.Clock, logger *zap.Logger, holdTTL time.Duration, reaperBatch int, retry utils.RetryPolicy) *Engine {
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if reaperBatch <= 0 {
		reaperBatch = 100
	}
	return &Engine{
		Repo:        repo,
		Advisory:    advisory,
		Audit:       auditSvc,
		Clock:       clock,
		Logger:      logger,
		HoldTTL:     holdTTL,
		AdvisoryTTL: 5 * time.Second,
		ReaperBatch: reaperBatch,
		Retry:       retry,
	}
}

func (e *Engine) Claim(ctx context.Context, p ClaimParams) (*repository.ClaimResult, error) {
	if p.TenantID == "" || p.SlotID == "" || p.HolderID == "" {
		return nil, utils.Validation("tenant, slot and holder are required")
	}
	logger := e.Logger.With(
		zap.String("tenant", p.TenantID),
		zap.String("slot", p.SlotID),
		zap.String("holder", p.HolderID))

	interactionID := ""
	if p.Interaction != nil {
		interactionID = p.Interaction.InteractionID
	}
	entry := models.AuditEntry{
		TenantID:      p.TenantID,
		Kind:          models.AuditClaim,
		SlotID:        p.SlotID,
		HolderID:      p.HolderID,
		InteractionID: interactionID,
	}

	if e.Advisory != nil {
		token, acquired := e.Advisory.Acquire(ctx, lockKey(p.TenantID, p.SlotID), e.AdvisoryTTL)
		switch {
		case acquired:
			defer e.Advisory.Release(ctx, lockKey(p.TenantID, p.SlotID), token)
		case e.slotTaken(ctx, p.TenantID, p.SlotID):
			logger.Debug("Claim lost on advisory fast path")
			entry.Outcome = models.AuditConflict
			entry.Detail = "another claim in flight"
			e.record(ctx, entry)
			return nil, utils.Conflict("slot is being claimed by someone else")
		default:
			// A stale or foreign lock. The conditional claim below decides.
			logger.Debug("Advisory lock busy on an available slot")
		}
	}

	req := repository.ClaimRequest{
		TenantID:    p.TenantID,
		SlotID:      p.SlotID,
		HolderID:    p.HolderID,
		HoldID:      uuid.NewString(),
		TTL:         e.HoldTTL,
		Now:         e.Clock.Now(),
		Interaction: p.Interaction,
	}
	entry.HoldID = req.HoldID

	var (
		res         *repository.ClaimResult
		sawInfraErr bool
	)
	err := utils.RetryInfra(ctx, e.Retry, "claim slot", func(ctx context.Context) error {
		var err error
		res, err = e.Repo.ClaimSlot(ctx, req)
		if utils.IsInfrastructure(err) {
			sawInfraErr = true
		}
		if utils.IsConflict(err) && sawInfraErr {
			// An earlier attempt may have committed before its reply was lost.
			if h, herr := e.Repo.GetHold(ctx, req.TenantID, req.HoldID); herr == nil && h.Status == models.HoldActive {
				res = &repository.ClaimResult{Hold: *h}
				return nil
			}
		}
		return err
	})

	switch {
	case err == nil:
		entry.Outcome = models.AuditSuccess
		logger.Info("Slot claimed", zap.String("hold", res.Hold.ID), zap.Time("expiresAt", res.Hold.ExpiresAt))
	case utils.IsConflict(err):
		entry.Outcome = models.AuditConflict
		entry.HoldID = ""
		entry.Detail = err.Error()
		logger.Info("Slot claim conflicted", zap.Error(err))
	default:
		entry.Outcome = models.AuditError
		entry.HoldID = ""
		entry.Detail = string(utils.KindOf(err))
		logger.Error("Slot claim failed", zap.Error(err))
	}
	e.record(ctx, entry)

	if err != nil {
		return nil, err
	}
	return res, nil
}

// slotTaken reports whether the store shows the slot as no longer available.
// Lookup errors report false so the transactional claim still runs.
func (e *Engine) slotTaken(ctx context.Context, tenantID, slotID string) bool {
	slot, err := e.Repo.GetSlot(ctx, tenantID, slotID)
	if err != nil {
		return false
	}
	return slot.Status != models.SlotAvailable
}

func (e *Engine) Release(ctx context.Context, p ReleaseParams) (*repository.ReleaseResult, error) {
	if p.TenantID == "" || p.HoldID == "" {
		return nil, utils.Validation("tenant and hold are required")
	}
	req := repository.ReleaseRequest{
		TenantID:      p.TenantID,
		HoldID:        p.HoldID,
		Reason:        p.Reason,
		Now:           e.Clock.Now(),
		InteractionTo: p.InteractionTo,
		FailureReason: p.FailureReason,
	}

	var res *repository.ReleaseResult
	err := utils.RetryInfra(ctx, e.Retry, "release hold", func(ctx context.Context) error {
		var err error
		res, err = e.Repo.ReleaseHold(ctx, req)
		return err
	})

	entry := models.AuditEntry{TenantID: p.TenantID, Kind: models.AuditRelease, HoldID: p.HoldID}
	switch {
	case err != nil:
		entry.Outcome = models.AuditError
		entry.Detail = string(utils.KindOf(err))
		e.Logger.Error("Hold release failed",
			zap.String("tenant", p.TenantID), zap.String("hold", p.HoldID), zap.Error(err))
	case res.Released:
		entry.Outcome = models.AuditSuccess
		entry.Detail = string(res.Hold.Status)
	default:
		entry.Outcome = models.AuditNoop
		entry.Detail = "hold already " + string(res.Hold.Status)
	}
	if res != nil {
		entry.SlotID = res.Hold.SlotID
		entry.HolderID = res.Hold.HolderID
		if res.Interaction != nil {
			entry.InteractionID = res.Interaction.ID
		}
	}
	e.record(ctx, entry)

	if err != nil {
		return nil, err
	}
	if res.InteractionFrom != "" && res.Interaction != nil {
		e.record(ctx, models.AuditEntry{
			TenantID:      p.TenantID,
			Kind:          models.AuditTransition,
			Outcome:       models.AuditSuccess,
			InteractionID: res.Interaction.ID,
			HoldID:        p.HoldID,
			SlotID:        res.Hold.SlotID,
			FromState:     string(res.InteractionFrom),
			ToState:       string(res.Interaction.State),
			Detail:        res.Interaction.FailureReason,
		})
	}
	return res, nil
}

func (e *Engine) Commit(ctx context.Context, req repository.CommitRequest) (*models.Appointment, error) {
	if req.AppointmentID == "" {
		req.AppointmentID = uuid.NewString()
	}
	if req.ConfirmationToken == "" {
		req.ConfirmationToken = uuid.NewString()
	}
	req.Now = e.Clock.Now()

	var appt *models.Appointment
	err := utils.RetryInfra(ctx, e.Retry, "commit hold", func(ctx context.Context) error {
		var err error
		appt, err = e.Repo.CommitHold(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (e *Engine) CancelAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error) {
	var appt *models.Appointment
	err := utils.RetryInfra(ctx, e.Retry, "cancel appointment", func(ctx context.Context) error {
		var err error
		appt, err = e.Repo.CancelAppointment(ctx, tenantID, appointmentID, e.Clock.Now())
		return err
	})

	entry := models.AuditEntry{TenantID: tenantID, Kind: models.AuditCancel, Detail: "appointment " + appointmentID}
	if err != nil {
		entry.Outcome = models.AuditError
	} else {
		entry.Outcome = models.AuditSuccess
		entry.SlotID = appt.SlotID
		entry.HoldID = appt.HoldID
		entry.InteractionID = appt.InteractionID
	}
	e.record(ctx, entry)

	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (e *Engine) GetHold(ctx context.Context, tenantID, holdID string) (*models.Hold, error) {
	return e.Repo.GetHold(ctx, tenantID, holdID)
}

func (e *Engine) GetAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error) {
	return e.Repo.GetAppointment(ctx, tenantID, appointmentID)
}

// Reap releases every active hold past its expiry. Concurrent reapers are
// safe because release only acts on holds that are still active.
func (e *Engine) Reap(ctx context.Context) (ReapReport, error) {
	var report ReapReport
	for batch := 0; batch < maxReapBatches; batch++ {
		var holds []models.Hold
		err := utils.RetryInfra(ctx, e.Retry, "list expired holds", func(ctx context.Context) error {
			var err error
			holds, err = e.Repo.ListExpiredHolds(ctx, e.Clock.Now(), e.ReaperBatch)
			return err
		})
		if err != nil {
			return report, err
		}
		report.Scanned += len(holds)

		releasedThisBatch := 0
		for _, h := range holds {
			res, err := e.Release(ctx, ReleaseParams{
				TenantID:      h.TenantID,
				HoldID:        h.ID,
				Reason:        models.HoldExpired,
				InteractionTo: models.StateExpired,
				FailureReason: "hold expired",
			})
			if err != nil {
				report.Failed++
				continue
			}
			if res.Released {
				report.Released++
				releasedThisBatch++
			}
		}

		if len(holds) < e.ReaperBatch || releasedThisBatch == 0 {
			break
		}
	}

	if report.Scanned > 0 {
		e.Logger.Info("Reaper sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("released", report.Released),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

func (e *Engine) record(ctx context.Context, entry models.AuditEntry) {
	if e.Audit != nil {
		e.Audit.Record(ctx, entry)
	}
}
