package notification

import (
	"context"

	"slotkeeper/models"
)

// ConfirmationChannel delivers a short-lived code to a contact and checks it.
type ConfirmationChannel interface {
	Send(ctx context.Context, tenantID, interactionID string, contact models.ContactInfo) error
	Verify(ctx context.Context, tenantID, interactionID, code string) (bool, error)
}

// Publisher emits the appointment committed event. Delivery and formatting
// are the receiver's job.
type Publisher interface {
	PublishCommitted(ctx context.Context, ev models.AppointmentCommitted) error
}
