package mongoRepo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"slotkeeper/models"
	"slotkeeper/utils"
)

func getSlot(ctx context.Context, coll *mongo.Collection, tenantID, slotID string) (*models.Slot, error) {
	var sl models.Slot
	err := coll.FindOne(ctx, bson.M{"tenantId": tenantID, "id": slotID}).Decode(&sl)
	if notFound(err) {
		return nil, utils.Validation("slot " + slotID + " not found")
	}
	if err != nil {
		return nil, err
	}
	return &sl, nil
}

func (s *Store) UpsertSlots(ctx context.Context, slots []models.Slot) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var changed int
	for _, sl := range slots {
		res, err := s.slots.UpdateOne(ctx,
			bson.M{"tenantId": sl.TenantID, "id": sl.ID, "status": models.SlotAvailable},
			bson.M{"$set": bson.M{
				"resourceId": sl.ResourceID,
				"start":      sl.Start,
				"end":        sl.End,
				"updatedAt":  sl.UpdatedAt,
			}})
		if err != nil {
			return changed, wrapErr("upsert slots", err)
		}
		if res.MatchedCount == 1 {
			changed++
			continue
		}

		if sl.Status == "" {
			sl.Status = models.SlotAvailable
		}
		sl.Version = 0
		sl.HolderID, sl.HoldID = "", ""
		if _, err := s.slots.InsertOne(ctx, sl); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				// Exists in a held, booked or blocked state.
				continue
			}
			return changed, wrapErr("upsert slots", err)
		}
		changed++
	}
	return changed, nil
}

func (s *Store) GetSlot(ctx context.Context, tenantID, slotID string) (*models.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sl, err := getSlot(ctx, s.slots, tenantID, slotID)
	return sl, wrapErr("get slot", err)
}

func (s *Store) ListAvailableSlots(ctx context.Context, q models.SlotQuery) ([]models.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{
		"tenantId": q.TenantID,
		"status":   models.SlotAvailable,
		"start":    bson.M{"$gte": q.From},
	}
	if q.ResourceID != "" {
		filter["resourceId"] = q.ResourceID
	}
	opts := options.Find().SetSort(bson.D{{Key: "start", Value: 1}, {Key: "id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.slots.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr("list available slots", err)
	}
	defer cursor.Close(ctx)

	var slots []models.Slot
	if err := cursor.All(ctx, &slots); err != nil {
		return nil, wrapErr("list available slots", err)
	}
	return slots, nil
}

func (s *Store) SetSlotBlocked(ctx context.Context, tenantID, slotID string, blocked bool, now time.Time) (*models.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	from, to := models.SlotBlocked, models.SlotAvailable
	if blocked {
		from, to = models.SlotAvailable, models.SlotBlocked
	}

	var out models.Slot
	err := s.slots.FindOneAndUpdate(ctx,
		bson.M{"tenantId": tenantID, "id": slotID, "status": from},
		bson.M{"$set": bson.M{"status": to, "updatedAt": now}, "$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err == nil {
		return &out, nil
	}
	if !notFound(err) {
		return nil, wrapErr("set slot blocked", err)
	}

	current, err := getSlot(ctx, s.slots, tenantID, slotID)
	if err != nil {
		return nil, wrapErr("set slot blocked", err)
	}
	if current.Status == to {
		return current, nil
	}
	return nil, utils.Conflict("slot is " + string(current.Status))
}
