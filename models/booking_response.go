package models

import "encoding/json"

// Intent is the action an orchestration collaborator asks for.
type Intent string

const (
	IntentCheckAvailability Intent = "check_availability"
	IntentReserve           Intent = "reserve"
	IntentConfirm           Intent = "confirm"
	IntentCancel            Intent = "cancel"
)

// Outcome is the coarse result reported back to the calling channel.
type Outcome string

const (
	OutcomeAvailable Outcome = "available"
	OutcomeHeld      Outcome = "held"
	OutcomeConflict  Outcome = "conflict"
	OutcomeBooked    Outcome = "booked"
	OutcomeExpired   Outcome = "expired"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeError     Outcome = "error"
)

// ToolCallRequest is the inbound tool-call contract.
type ToolCallRequest struct {
	TenantToken      string       `json:"tenant_token"`
	CorrelationID    string       `json:"correlation_id"`
	Intent           Intent       `json:"intent"`
	SlotID           string       `json:"slot_id,omitempty"`
	ResourceID       string       `json:"resource_id,omitempty"`
	ContactInfo      *ContactInfo `json:"contact_info,omitempty"`
	ConfirmationCode string       `json:"confirmation_code,omitempty"`
}

// ToolCallData carries identifiers the caller may need for the next step.
type ToolCallData struct {
	HoldID           string          `json:"hold_id,omitempty"`
	AppointmentID    string          `json:"appointment_id,omitempty"`
	AlternativeSlots []AvailableSlot `json:"alternative_slots,omitempty"`
}

// ToolCallResponse is the response contract. Message is short and safe to
// read back to an end user.
type ToolCallResponse struct {
	Outcome Outcome      `json:"outcome"`
	Message string       `json:"message"`
	Data    ToolCallData `json:"data"`
}

// EventEnvelope is the inbound idempotent-event contract.
type EventEnvelope struct {
	TenantToken string          `json:"tenant_token"`
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
}

// Known event types.
const (
	EventVerificationSucceeded = "verification.succeeded"
	EventVerificationFailed    = "verification.failed"
	EventAppointmentCancel     = "appointment.cancel"
)

// InteractionEventPayload addresses an interaction by its correlation id.
type InteractionEventPayload struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason,omitempty"`
}

// EventAck is always returned for an accepted delivery, duplicates included.
type EventAck struct {
	Received  bool         `json:"received"`
	Duplicate bool         `json:"duplicate"`
	Outcome   EventOutcome `json:"outcome"`
}
