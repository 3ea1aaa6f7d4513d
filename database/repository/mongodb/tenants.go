package mongoRepo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"slotkeeper/models"
	"slotkeeper/utils"
)

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var t models.Tenant
	err := s.tenants.FindOne(ctx, bson.M{"id": tenantID}).Decode(&t)
	if notFound(err) {
		return nil, utils.Unauthorized("unknown tenant", nil)
	}
	if err != nil {
		return nil, wrapErr("get tenant", err)
	}
	return &t, nil
}

func (s *Store) UpsertTenant(ctx context.Context, tenant models.Tenant) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	update := bson.M{
		"$set":         bson.M{"name": tenant.Name, "active": tenant.Active},
		"$setOnInsert": bson.M{"id": tenant.ID, "createdAt": tenant.CreatedAt},
	}
	_, err := s.tenants.UpdateOne(ctx, bson.M{"id": tenant.ID}, update, options.Update().SetUpsert(true))
	return wrapErr("upsert tenant", err)
}
