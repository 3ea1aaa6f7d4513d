package models

import "time"

// AppointmentStatus is the only mutable part of a committed booking.
type AppointmentStatus string

const (
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is the durable, committed booking created exactly once per
// successful Interaction.
type Appointment struct {
	ID                string            `bson:"id" json:"id"`
	TenantID          string            `bson:"tenantId" json:"tenantId"`
	SlotID            string            `bson:"slotId" json:"slotId"`
	HoldID            string            `bson:"holdId" json:"holdId"`
	InteractionID     string            `bson:"interactionId" json:"interactionId"`
	ResourceID        string            `bson:"resourceId" json:"resourceId"`
	Start             time.Time         `bson:"start" json:"start"`
	End               time.Time         `bson:"end" json:"end"`
	Contact           ContactInfo       `bson:"contact" json:"contact"`
	ConfirmationToken string            `bson:"confirmationToken" json:"confirmationToken"`
	Status            AppointmentStatus `bson:"status" json:"status"`
	CreatedAt         time.Time         `bson:"createdAt" json:"createdAt"`
	CancelledAt       *time.Time        `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
}

// AppointmentCommitted is the payload emitted once per commit.
type AppointmentCommitted struct {
	AppointmentID string      `json:"appointmentId"`
	TenantID      string      `json:"tenantId"`
	Start         time.Time   `json:"start"`
	Contact       ContactInfo `json:"contact"`
}
