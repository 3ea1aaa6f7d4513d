package models

import "time"

// SlotStatus is the reservation state of a bookable window.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotHeld      SlotStatus = "held"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
)

// Slot represents a bookable time window for one resource of a tenant.
// Status and Version always change together.
type Slot struct {
	ID         string     `bson:"id" json:"id"`
	TenantID   string     `bson:"tenantId" json:"tenantId"`
	ResourceID string     `bson:"resourceId" json:"resourceId"`
	Start      time.Time  `bson:"start" json:"start"`
	End        time.Time  `bson:"end" json:"end"`
	Status     SlotStatus `bson:"status" json:"status"`
	Version    int64      `bson:"version" json:"version"`
	HolderID   string     `bson:"holderId,omitempty" json:"holderId,omitempty"`
	HoldID     string     `bson:"holdId,omitempty" json:"-"`
	UpdatedAt  time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// SlotQuery selects available slots for one resource, ordered by start time.
type SlotQuery struct {
	TenantID   string
	ResourceID string
	From       time.Time
	Limit      int
}

// AvailableSlot is the public view of an open window offered to a caller.
type AvailableSlot struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// ToAvailable strips internal fields before a slot is offered.
func (s Slot) ToAvailable() AvailableSlot {
	return AvailableSlot{ID: s.ID, ResourceID: s.ResourceID, Start: s.Start, End: s.End}
}
