package mongoRepo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"slotkeeper/database/repository"
	"slotkeeper/models"
)

func (s *Store) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.audit.InsertOne(ctx, entry)
	return wrapErr("append audit", err)
}

func (s *Store) ListAudit(ctx context.Context, q repository.AuditQuery) ([]models.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"tenantId": q.TenantID}
	if q.SlotID != "" {
		filter["slotId"] = q.SlotID
	}
	if q.InteractionID != "" {
		filter["interactionId"] = q.InteractionID
	}
	if !q.Since.IsZero() {
		filter["at"] = bson.M{"$gte": q.Since}
	}
	// _id is an ObjectID, so it breaks ties in insertion order.
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.audit.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr("list audit", err)
	}
	defer cursor.Close(ctx)

	var entries []models.AuditEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, wrapErr("list audit", err)
	}
	return entries, nil
}

func (s *Store) CountConflictsByHolder(ctx context.Context, tenantID string, since time.Time, minConflicts int) ([]models.HolderConflicts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if minConflicts < 1 {
		minConflicts = 1
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"tenantId": tenantID,
			"kind":     models.AuditClaim,
			"outcome":  models.AuditConflict,
			"at":       bson.M{"$gte": since},
			"holderId": bson.M{"$nin": bson.A{"", nil}},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":       "$holderId",
			"conflicts": bson.M{"$sum": 1},
			"lastAt":    bson.M{"$max": "$at"},
		}}},
		{{Key: "$match", Value: bson.M{"conflicts": bson.M{"$gte": minConflicts}}}},
		{{Key: "$sort", Value: bson.D{{Key: "conflicts", Value: -1}, {Key: "_id", Value: 1}}}},
	}

	cursor, err := s.audit.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapErr("count conflicts", err)
	}
	defer cursor.Close(ctx)

	var out []models.HolderConflicts
	if err := cursor.All(ctx, &out); err != nil {
		return nil, wrapErr("count conflicts", err)
	}
	return out, nil
}
