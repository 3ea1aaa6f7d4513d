package models

import "time"

// InteractionState is a state of the booking state machine.
type InteractionState string

const (
	StateInitiated            InteractionState = "initiated"
	StateCheckingAvailability InteractionState = "checking_availability"
	StateHeld                 InteractionState = "held"
	StateConfirming           InteractionState = "confirming"
	StateBooked               InteractionState = "booked"
	StateExpired              InteractionState = "expired"
	StateFailed               InteractionState = "failed"
)

// NonTerminalStates lists every state a transition may still leave.
var NonTerminalStates = []InteractionState{
	StateInitiated,
	StateCheckingAvailability,
	StateHeld,
	StateConfirming,
}

// IsTerminal reports whether no further transition is allowed.
func (s InteractionState) IsTerminal() bool {
	switch s {
	case StateBooked, StateExpired, StateFailed:
		return true
	}
	return false
}

// Interaction is one end-to-end booking attempt keyed by an external
// correlation id such as a call id.
type Interaction struct {
	ID              string           `bson:"id" json:"id"`
	TenantID        string           `bson:"tenantId" json:"tenantId"`
	CorrelationID   string           `bson:"correlationId" json:"correlationId"`
	State           InteractionState `bson:"state" json:"state"`
	HoldID          string           `bson:"holdId,omitempty" json:"holdId,omitempty"`
	SlotID          string           `bson:"slotId,omitempty" json:"slotId,omitempty"`
	AppointmentID   string           `bson:"appointmentId,omitempty" json:"appointmentId,omitempty"`
	Contact         ContactInfo      `bson:"contact" json:"contact"`
	ConfirmAttempts int              `bson:"confirmAttempts" json:"confirmAttempts"`
	FailureReason   string           `bson:"failureReason,omitempty" json:"failureReason,omitempty"`
	Version         int64            `bson:"version" json:"version"`
	CreatedAt       time.Time        `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time        `bson:"updatedAt" json:"updatedAt"`
}

// ContactInfo is the normalised contact collected during an interaction.
type ContactInfo struct {
	Name  string `bson:"name,omitempty" json:"name,omitempty"`
	Phone string `bson:"phone,omitempty" json:"phone,omitempty"`
	Email string `bson:"email,omitempty" json:"email,omitempty"`
}

// IsZero reports whether no contact field is set.
func (c ContactInfo) IsZero() bool {
	return c.Name == "" && c.Phone == "" && c.Email == ""
}

// Reachable reports whether a confirmation code can be delivered.
func (c ContactInfo) Reachable() bool {
	return c.Phone != "" || c.Email != ""
}
