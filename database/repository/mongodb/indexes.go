package mongoRepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the unique and query indexes of every collection.
func (s *Store) EnsureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	plan := map[*mongo.Collection][]mongo.IndexModel{
		s.tenants: {
			{
				Keys:    bson.D{{Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_id"),
			},
		},
		s.slots: {
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("tenant_id_unique"),
			},
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "status", Value: 1}, {Key: "resourceId", Value: 1}, {Key: "start", Value: 1}},
				Options: options.Index().SetName("tenant_status_resource_start_idx"),
			},
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "resourceId", Value: 1}, {Key: "start", Value: 1}},
				Options: options.Index().SetName("tenant_resource_start_idx"),
			},
		},
		s.holds: {
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("tenant_id_unique"),
			},
			// At most one active hold per slot.
			{
				Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "slotId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("one_active_hold_per_slot").
					SetPartialFilterExpression(bson.M{"status": "active"}),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "expiresAt", Value: 1}},
				Options: options.Index().SetName("status_expiry_idx"),
			},
		},
		s.interactions: {
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("tenant_id_unique"),
			},
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "correlationId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("tenant_correlation_unique"),
			},
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "holdId", Value: 1}},
				Options: options.Index().SetName("tenant_hold_idx"),
			},
		},
		s.appointments: {
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("tenant_id_unique"),
			},
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "holdId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("tenant_hold_unique"),
			},
		},
		s.events: {
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "eventId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("tenant_event_unique"),
			},
			{
				Keys:    bson.D{{Key: "createdAt", Value: 1}},
				Options: options.Index().SetName("created_idx"),
			},
		},
		s.audit: {
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "at", Value: 1}},
				Options: options.Index().SetName("tenant_at_idx"),
			},
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "slotId", Value: 1}},
				Options: options.Index().SetName("tenant_slot_idx"),
			},
			{
				Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "kind", Value: 1}, {Key: "outcome", Value: 1}, {Key: "at", Value: 1}},
				Options: options.Index().SetName("tenant_conflicts_idx"),
			},
		},
	}

	for coll, idx := range plan {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll.Name(), err)
		}
	}
	return nil
}
