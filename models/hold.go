package models

import "time"

// HoldStatus tracks the lifecycle of a time-boxed claim.
type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldCommitted HoldStatus = "committed"
	HoldReleased  HoldStatus = "released"
	HoldExpired   HoldStatus = "expired"
)

// Hold is an exclusive, time-boxed claim on a Slot owned by one holder
// (normally the Interaction driving the booking).
type Hold struct {
	ID       string `bson:"id" json:"id"`
	TenantID string `bson:"tenantId" json:"tenantId"`
	SlotID   string `bson:"slotId" json:"slotId"`
	HolderID string `bson:"holderId" json:"holderId"`
	// InteractionID is empty for holds claimed outside an interaction.
	InteractionID string     `bson:"interactionId" json:"interactionId,omitempty"`
	Status        HoldStatus `bson:"status" json:"status"`
	CreatedAt     time.Time  `bson:"createdAt" json:"createdAt"`
	ExpiresAt     time.Time  `bson:"expiresAt" json:"expiresAt"`
	ReleasedAt    *time.Time `bson:"releasedAt,omitempty" json:"releasedAt,omitempty"`
}

// IsActive reports whether the hold still blocks its slot at the given instant.
func (h Hold) IsActive(now time.Time) bool {
	return h.Status == HoldActive && now.Before(h.ExpiresAt)
}
