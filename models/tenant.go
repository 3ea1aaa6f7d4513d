package models

import "time"

// Tenant is the isolated customer scope every other entity carries.
type Tenant struct {
	ID        string    `bson:"id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
