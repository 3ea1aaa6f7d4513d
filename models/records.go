package models

import "time"

// AuditKind classifies an audit log entry.
type AuditKind string

const (
	AuditClaim      AuditKind = "claim"
	AuditRelease    AuditKind = "release"
	AuditTransition AuditKind = "transition"
	AuditGuard      AuditKind = "guard"
	AuditCancel     AuditKind = "cancel"
)

// Audit outcomes.
const (
	AuditSuccess   = "success"
	AuditConflict  = "conflict"
	AuditError     = "error"
	AuditDuplicate = "duplicate"
	AuditNoop      = "noop"
)

// AuditEntry is one append-only record in the tenant-partitioned audit log.
type AuditEntry struct {
	ID            string    `bson:"id" json:"id"`
	TenantID      string    `bson:"tenantId" json:"tenantId"`
	Kind          AuditKind `bson:"kind" json:"kind"`
	Outcome       string    `bson:"outcome" json:"outcome"`
	SlotID        string    `bson:"slotId,omitempty" json:"slotId,omitempty"`
	HolderID      string    `bson:"holderId,omitempty" json:"holderId,omitempty"`
	HoldID        string    `bson:"holdId,omitempty" json:"holdId,omitempty"`
	InteractionID string    `bson:"interactionId,omitempty" json:"interactionId,omitempty"`
	EventID       string    `bson:"eventId,omitempty" json:"eventId,omitempty"`
	FromState     string    `bson:"fromState,omitempty" json:"fromState,omitempty"`
	ToState       string    `bson:"toState,omitempty" json:"toState,omitempty"`
	Detail        string    `bson:"detail,omitempty" json:"detail,omitempty"`
	At            time.Time `bson:"at" json:"at"`
}

// HolderConflicts aggregates lost claims per holder for abuse detection.
type HolderConflicts struct {
	HolderID  string    `bson:"_id" json:"holderId"`
	Conflicts int       `bson:"conflicts" json:"conflicts"`
	LastAt    time.Time `bson:"lastAt" json:"lastAt"`
}
