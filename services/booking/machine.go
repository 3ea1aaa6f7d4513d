package booking

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/services/audit"
	"slotkeeper/services/catalog"
	"slotkeeper/services/notification"
	"slotkeeper/services/reservation"
	"slotkeeper/utils"
)

// BookingService drives interactions through the booking state machine.
type BookingService interface {
	// Handle answers one tool call. The response is always safe to read back
	// to the end user.
	Handle(ctx context.Context, tenantID string, req models.ToolCallRequest) models.ToolCallResponse
	CompleteVerification(ctx context.Context, tenantID, correlationID string, succeeded bool) (models.EventOutcome, error)
	CancelInteraction(ctx context.Context, tenantID, correlationID string) (models.EventOutcome, error)
}

// Settings tunes confirmation and conflict handling.
type Settings struct {
	MaxConfirmAttempts int
	VerifyTimeout      time.Duration
	Alternatives       int
}

// Machine implements BookingService.
type Machine struct {
	Interactions  repository.InteractionRepository
	Slots         repository.SlotRepository
	Engine        reservation.ReservationEngine
	Catalog       catalog.CatalogService
	Confirmations notification.ConfirmationChannel
	Publisher     notification.Publisher
	Audit         audit.AuditService
	Clock         utils.Clock
	Logger        *zap.Logger
	Settings      Settings
	Retry         utils.RetryPolicy
}

var _ BookingService = (*Machine)(nil)

func NewMachine(interactions repository.InteractionRepository, slots repository.SlotRepository,
	engine reservation.ReservationEngine, catalogSvc catalog.CatalogService,
	confirmations notification.ConfirmationChannel, publisher notification.Publisher,
	auditSvc audit.AuditService, clock utils.Clock, logger *zap.Logger, settings Settings, retry utils.RetryPolicy) *Machine {
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if publisher == nil {
		publisher = notification.LogPublisher{Logger: logger}
	}
	if settings.MaxConfirmAttempts <= 0 {
		settings.MaxConfirmAttempts = 3
	}
	if settings.VerifyTimeout <= 0 {
		settings.VerifyTimeout = 3 * time.Second
	}
	if settings.Alternatives < 0 {
		settings.Alternatives = 0
	}
	return &Machine{
		Interactions:  interactions,
		Slots:         slots,
		Engine:        engine,
		Catalog:       catalogSvc,
		Confirmations: confirmations,
		Publisher:     publisher,
		Audit:         auditSvc,
		Clock:         clock,
		Logger:        logger,
		Settings:      settings,
		Retry:         retry,
	}
}

func (m *Machine) Handle(ctx context.Context, tenantID string, req models.ToolCallRequest) models.ToolCallResponse {
	logger := m.Logger.With(
		zap.String("tenant", tenantID),
		zap.String("correlation", req.CorrelationID),
		zap.String("intent", string(req.Intent)))

	if strings.TrimSpace(req.CorrelationID) == "" {
		return models.ToolCallResponse{Outcome: models.OutcomeError, Message: msgMissingSession}
	}

	it, err := m.ensure(ctx, tenantID, req.CorrelationID)
	if err != nil {
		logger.Error("Failed to load interaction", zap.Error(err))
		return errorResponse(err)
	}
	logger = logger.With(zap.String("interaction", it.ID))

	var resp models.ToolCallResponse
	switch req.Intent {
	case models.IntentCheckAvailability:
		resp, err = m.checkAvailability(ctx, it, req)
	case models.IntentReserve:
		resp, err = m.reserve(ctx, it, req)
	case models.IntentConfirm:
		resp, err = m.confirm(ctx, it, req)
	case models.IntentCancel:
		resp, err = m.cancel(ctx, it)
	default:
		err = utils.Validation("unknown intent " + string(req.Intent))
	}
	if err == nil {
		return resp
	}

	switch utils.KindOf(err) {
	case utils.KindValidation, utils.KindUnauthorized:
		logger.Warn("Booking request rejected", zap.Error(err))
		m.failInteraction(ctx, it, err.Error())
	case utils.KindInfrastructure:
		logger.Error("Booking request failed", zap.Error(err))
	default:
		logger.Info("Booking request not applied", zap.Error(err))
	}
	return errorResponse(err)
}

// ensure returns the interaction for the correlation id, moving a fresh one
// into checking_availability.
func (m *Machine) ensure(ctx context.Context, tenantID, correlationID string) (*models.Interaction, error) {
	now := m.Clock.Now()
	fresh := models.Interaction{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		CorrelationID: correlationID,
		State:         models.StateInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var (
		it      *models.Interaction
		created bool
	)
	err := utils.RetryInfra(ctx, m.Retry, "ensure interaction", func(ctx context.Context) error {
		var err error
		it, created, err = m.Interactions.EnsureInteraction(ctx, fresh)
		return err
	})
	if err != nil {
		return nil, err
	}
	if created {
		m.recordTransition(ctx, "", it)
	}
	if it.State != models.StateInitiated {
		return it, nil
	}

	moved, err := m.transition(ctx, it, repository.TransitionRequest{
		From: []models.InteractionState{models.StateInitiated},
		To:   models.StateCheckingAvailability,
	})
	if utils.IsTransition(err) {
		return m.reload(ctx, it)
	}
	return moved, err
}

// transition applies a conditional move and audits it.
func (m *Machine) transition(ctx context.Context, it *models.Interaction, req repository.TransitionRequest) (*models.Interaction, error) {
	req.TenantID = it.TenantID
	req.InteractionID = it.ID
	req.Now = m.Clock.Now()

	var out *models.Interaction
	err := utils.RetryInfra(ctx, m.Retry, "transition interaction", func(ctx context.Context) error {
		var err error
		out, err = m.Interactions.TransitionInteraction(ctx, req)
		return err
	})
	if err != nil {
		m.record(ctx, models.AuditEntry{
			TenantID:      it.TenantID,
			Kind:          models.AuditTransition,
			Outcome:       transitionOutcome(err),
			InteractionID: it.ID,
			HoldID:        it.HoldID,
			SlotID:        it.SlotID,
			FromState:     string(it.State),
			ToState:       string(req.To),
			Detail:        string(utils.KindOf(err)),
		})
		return nil, err
	}
	m.recordTransition(ctx, it.State, out)
	return out, nil
}

func (m *Machine) reload(ctx context.Context, it *models.Interaction) (*models.Interaction, error) {
	var out *models.Interaction
	err := utils.RetryInfra(ctx, m.Retry, "get interaction", func(ctx context.Context) error {
		var err error
		out, err = m.Interactions.GetInteractionByID(ctx, it.TenantID, it.ID)
		return err
	})
	return out, err
}

// failInteraction moves a non-terminal interaction to failed, releasing its
// hold first. Errors are logged since the caller already has one to report.
func (m *Machine) failInteraction(ctx context.Context, it *models.Interaction, reason string) {
	logger := m.Logger.With(zap.String("tenant", it.TenantID), zap.String("interaction", it.ID))

	current, err := m.reload(ctx, it)
	if err != nil {
		logger.Error("Failed to reload interaction before failing it", zap.Error(err))
		return
	}
	if current.State.IsTerminal() {
		return
	}

	if current.HoldID != "" && (current.State == models.StateHeld || current.State == models.StateConfirming) {
		res, err := m.Engine.Release(ctx, reservation.ReleaseParams{
			TenantID:      current.TenantID,
			HoldID:        current.HoldID,
			Reason:        models.HoldReleased,
			InteractionTo: models.StateFailed,
			FailureReason: reason,
		})
		if err != nil {
			logger.Error("Failed to release hold of failed interaction", zap.Error(err))
			return
		}
		if res.Interaction != nil && res.Interaction.State.IsTerminal() {
			return
		}
	}

	if _, err := m.transition(ctx, current, repository.TransitionRequest{
		From:          models.NonTerminalStates,
		To:            models.StateFailed,
		FailureReason: reason,
	}); err != nil && !utils.IsTransition(err) {
		logger.Error("Failed to mark interaction failed", zap.Error(err))
	}
}

// holderFor picks the identity used for abuse detection. A caller keeps the
// same holder id across calls when they give the same contact.
func holderFor(it *models.Interaction, contact models.ContactInfo) string {
	switch {
	case contact.Phone != "":
		return contact.Phone
	case contact.Email != "":
		return contact.Email
	}
	return "session:" + it.CorrelationID
}

func (m *Machine) recordTransition(ctx context.Context, from models.InteractionState, to *models.Interaction) {
	if to == nil {
		return
	}
	m.record(ctx, models.AuditEntry{
		TenantID:      to.TenantID,
		Kind:          models.AuditTransition,
		Outcome:       models.AuditSuccess,
		InteractionID: to.ID,
		HoldID:        to.HoldID,
		SlotID:        to.SlotID,
		FromState:     string(from),
		ToState:       string(to.State),
		Detail:        to.FailureReason,
	})
}

func (m *Machine) record(ctx context.Context, entry models.AuditEntry) {
	if m.Audit != nil {
		m.Audit.Record(ctx, entry)
	}
}

func transitionOutcome(err error) string {
	if utils.IsTransition(err) {
		return models.AuditConflict
	}
	return models.AuditError
}
