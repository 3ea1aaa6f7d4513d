package mongoRepo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"slotkeeper/models"
	"slotkeeper/utils"
)

func (s *Store) InsertProcessedEvent(ctx context.Context, ev models.ProcessedEvent) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.events.InsertOne(ctx, ev); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, wrapErr("insert processed event", err)
	}
	return true, nil
}

func (s *Store) GetProcessedEvent(ctx context.Context, tenantID, eventID string) (*models.ProcessedEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var ev models.ProcessedEvent
	err := s.events.FindOne(ctx, bson.M{"tenantId": tenantID, "eventId": eventID}).Decode(&ev)
	if notFound(err) {
		return nil, utils.Validation("event " + eventID + " not found")
	}
	if err != nil {
		return nil, wrapErr("get processed event", err)
	}
	return &ev, nil
}

func (s *Store) CompleteProcessedEvent(ctx context.Context, tenantID, eventID string, outcome models.EventOutcome, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.events.UpdateOne(ctx,
		bson.M{"tenantId": tenantID, "eventId": eventID, "status": models.EventPending},
		bson.M{"$set": bson.M{"status": models.EventCompleted, "outcome": outcome, "completedAt": now}})
	if err != nil {
		return wrapErr("complete processed event", err)
	}
	if res.MatchedCount == 0 {
		return utils.Conflict("event " + eventID + " is not pending")
	}
	return nil
}

func (s *Store) PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.events.DeleteMany(ctx, bson.M{"createdAt": bson.M{"$lt": olderThan}})
	if err != nil {
		return 0, wrapErr("prune processed events", err)
	}
	return res.DeletedCount, nil
}
