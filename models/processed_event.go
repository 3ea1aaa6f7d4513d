package models

import "time"

// EventStatus marks whether the handler of a processed event has finished.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventCompleted EventStatus = "completed"
)

// EventOutcome is the recorded result replayed to every duplicate delivery.
type EventOutcome struct {
	Result  string            `bson:"result" json:"result"`
	Message string            `bson:"message,omitempty" json:"message,omitempty"`
	Data    map[string]string `bson:"data,omitempty" json:"data,omitempty"`
}

const (
	EventResultSucceeded = "succeeded"
	EventResultFailed    = "failed"
	EventResultIgnored   = "ignored"
	EventResultPending   = "pending"
)

// ProcessedEvent records that (TenantID, EventID) has been handled. Owner
// identifies the delivery that inserted the row.
type ProcessedEvent struct {
	TenantID    string       `bson:"tenantId" json:"tenantId"`
	EventID     string       `bson:"eventId" json:"eventId"`
	EventType   string       `bson:"eventType" json:"eventType"`
	Status      EventStatus  `bson:"status" json:"status"`
	Outcome     EventOutcome `bson:"outcome" json:"outcome"`
	Owner       string       `bson:"owner" json:"-"`
	CreatedAt   time.Time    `bson:"createdAt" json:"createdAt"`
	CompletedAt *time.Time   `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}
