package repository

import (
	"context"
	"time"

	"slotkeeper/models"
)

// TenantRepository stores the tenant registry.
type TenantRepository interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	UpsertTenant(ctx context.Context, tenant models.Tenant) error
}

// SlotRepository manages the catalog of bookable windows.
type SlotRepository interface {
	// UpsertSlots inserts new slots and refreshes the times of slots that are
	// still available. Held, booked and blocked slots keep their state.
	UpsertSlots(ctx context.Context, slots []models.Slot) (int, error)
	GetSlot(ctx context.Context, tenantID, slotID string) (*models.Slot, error)
	ListAvailableSlots(ctx context.Context, q models.SlotQuery) ([]models.Slot, error)
	// SetSlotBlocked moves an available slot to blocked or a blocked slot back
	// to available. Any other current state is a conflict.
	SetSlotBlocked(ctx context.Context, tenantID, slotID string, blocked bool, now time.Time) (*models.Slot, error)
}

// ReservationRepository owns every write that touches slot ownership.
// Each method runs as one transaction.
type ReservationRepository interface {
	GetSlot(ctx context.Context, tenantID, slotID string) (*models.Slot, error)
	ClaimSlot(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	ReleaseHold(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error)
	GetHold(ctx context.Context, tenantID, holdID string) (*models.Hold, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Hold, error)
	CommitHold(ctx context.Context, req CommitRequest) (*models.Appointment, error)
	CancelAppointment(ctx context.Context, tenantID, appointmentID string, now time.Time) (*models.Appointment, error)
	GetAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error)
}

// InteractionRepository persists the booking state machine.
type InteractionRepository interface {
	// EnsureInteraction returns the interaction for the correlation id,
	// creating it when absent. created reports whether this call inserted it.
	EnsureInteraction(ctx context.Context, in models.Interaction) (interaction *models.Interaction, created bool, err error)
	GetInteraction(ctx context.Context, tenantID, correlationID string) (*models.Interaction, error)
	GetInteractionByID(ctx context.Context, tenantID, interactionID string) (*models.Interaction, error)
	// TransitionInteraction applies the move only if the current state is one
	// of req.From. A lost race returns a transition error.
	TransitionInteraction(ctx context.Context, req TransitionRequest) (*models.Interaction, error)
}

// EventRepository records processed external events.
type EventRepository interface {
	// InsertProcessedEvent returns false when (tenant, event id) already exists.
	InsertProcessedEvent(ctx context.Context, ev models.ProcessedEvent) (bool, error)
	GetProcessedEvent(ctx context.Context, tenantID, eventID string) (*models.ProcessedEvent, error)
	CompleteProcessedEvent(ctx context.Context, tenantID, eventID string, outcome models.EventOutcome, now time.Time) error
	PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// AuditRepository is the append-only audit log.
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
	ListAudit(ctx context.Context, q AuditQuery) ([]models.AuditEntry, error)
	CountConflictsByHolder(ctx context.Context, tenantID string, since time.Time, minConflicts int) ([]models.HolderConflicts, error)
}

// Store bundles every repository behind one backend.
type Store interface {
	TenantRepository
	SlotRepository
	ReservationRepository
	InteractionRepository
	EventRepository
	AuditRepository

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ClaimRequest asks for an exclusive hold on one slot.
type ClaimRequest struct {
	TenantID string
	SlotID   string
	HolderID string
	HoldID   string
	TTL      time.Duration
	Now      time.Time

	// When set, the interaction moves from a pre-hold state to held in the
	// same transaction. If it cannot, the claim is rolled back.
	Interaction *InteractionBinding
}

// InteractionBinding ties a claim to the interaction that owns it.
type InteractionBinding struct {
	InteractionID string
	From          []models.InteractionState
	Contact       models.ContactInfo
}

// ClaimResult is the outcome of a won claim.
type ClaimResult struct {
	Hold        models.Hold
	Slot        models.Slot
	Interaction *models.Interaction
}

// ReleaseRequest gives a hold back. It is a no-op if the hold is not active.
type ReleaseRequest struct {
	TenantID string
	HoldID   string
	// Reason is the terminal hold status, released or expired.
	Reason models.HoldStatus
	Now    time.Time

	// InteractionTo, when set, moves the interaction that owns the hold to
	// this state if it has not already finished.
	InteractionTo models.InteractionState
	FailureReason string
}

// ReleaseResult reports whether this call did the release.
type ReleaseResult struct {
	Hold        models.Hold
	Released    bool
	Interaction *models.Interaction
	// InteractionFrom is the state the interaction left. Empty when this
	// release did not move it.
	InteractionFrom models.InteractionState
}

// CommitRequest turns an active hold into an appointment.
type CommitRequest struct {
	TenantID          string
	HoldID            string
	InteractionID     string
	AppointmentID     string
	ConfirmationToken string
	Contact           models.ContactInfo
	Now               time.Time
}

// TransitionRequest is a conditional state machine move.
type TransitionRequest struct {
	TenantID      string
	InteractionID string
	From          []models.InteractionState
	To            models.InteractionState
	Now           time.Time

	AttemptsDelta int
	FailureReason string
	Contact       *models.ContactInfo
	ClearHold     bool
}

// AuditQuery filters the audit log. Zero fields are ignored.
type AuditQuery struct {
	TenantID      string
	SlotID        string
	InteractionID string
	Since         time.Time
	Limit         int
}

func StatesContain(states []models.InteractionState, s models.InteractionState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}
