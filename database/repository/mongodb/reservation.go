package mongoRepo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/utils"
)

func getHold(ctx context.Context, coll *mongo.Collection, tenantID, holdID string) (*models.Hold, error) {
	var h models.Hold
	err := coll.FindOne(ctx, bson.M{"tenantId": tenantID, "id": holdID}).Decode(&h)
	if notFound(err) {
		return nil, utils.Validation("hold " + holdID + " not found")
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func getAppointment(ctx context.Context, coll *mongo.Collection, filter bson.M) (*models.Appointment, error) {
	var a models.Appointment
	err := coll.FindOne(ctx, filter).Decode(&a)
	if notFound(err) {
		return nil, utils.Validation("appointment not found")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ClaimSlot(ctx context.Context, req repository.ClaimRequest) (*repository.ClaimResult, error) {
	if req.TTL <= 0 {
		return nil, utils.Validation("hold ttl must be positive")
	}

	var out repository.ClaimResult
	err := s.withTx(ctx, "claim slot", func(sc mongo.SessionContext) error {
		slot, err := getSlot(sc, s.slots, req.TenantID, req.SlotID)
		if err != nil {
			return err
		}
		if slot.Status != models.SlotAvailable {
			return utils.Conflict("slot is " + string(slot.Status))
		}

		var updated models.Slot
		err = s.slots.FindOneAndUpdate(sc,
			bson.M{"tenantId": req.TenantID, "id": req.SlotID, "status": models.SlotAvailable, "version": slot.Version},
			bson.M{
				"$set": bson.M{"status": models.SlotHeld, "holderId": req.HolderID, "holdId": req.HoldID, "updatedAt": req.Now},
				"$inc": bson.M{"version": 1},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&updated)
		if notFound(err) {
			return utils.Conflict("slot was claimed concurrently")
		}
		if err != nil {
			return err
		}

		hold := models.Hold{
			ID:        req.HoldID,
			TenantID:  req.TenantID,
			SlotID:    req.SlotID,
			HolderID:  req.HolderID,
			Status:    models.HoldActive,
			CreatedAt: req.Now,
			ExpiresAt: req.Now.Add(req.TTL),
		}
		if req.Interaction != nil {
			hold.InteractionID = req.Interaction.InteractionID
		}
		if _, err := s.holds.InsertOne(sc, hold); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return utils.Conflict("slot already has an active hold")
			}
			return err
		}

		if b := req.Interaction; b != nil {
			contact := b.Contact
			in, err := s.transitionInteraction(sc, repository.TransitionRequest{
				TenantID:      req.TenantID,
				InteractionID: b.InteractionID,
				From:          b.From,
				To:            models.StateHeld,
				Now:           req.Now,
				Contact:       &contact,
			}, bson.M{"holdId": hold.ID, "slotId": hold.SlotID})
			if err != nil {
				return err
			}
			out.Interaction = in
		}

		out.Hold = hold
		out.Slot = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) ReleaseHold(ctx context.Context, req repository.ReleaseRequest) (*repository.ReleaseResult, error) {
	reason := req.Reason
	if reason == "" {
		reason = models.HoldReleased
	}
	if reason != models.HoldReleased && reason != models.HoldExpired {
		return nil, utils.Validation("release reason must be released or expired")
	}

	var out repository.ReleaseResult
	err := s.withTx(ctx, "release hold", func(sc mongo.SessionContext) error {
		var released models.Hold
		err := s.holds.FindOneAndUpdate(sc,
			bson.M{"tenantId": req.TenantID, "id": req.HoldID, "status": models.HoldActive},
			bson.M{"$set": bson.M{"status": reason, "releasedAt": req.Now}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&released)
		if notFound(err) {
			// Unknown, or already committed, released or expired.
			current, err := getHold(sc, s.holds, req.TenantID, req.HoldID)
			if err != nil {
				return err
			}
			out.Hold = *current
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := s.slots.UpdateOne(sc,
			bson.M{"tenantId": req.TenantID, "id": released.SlotID, "status": models.SlotHeld, "holdId": released.ID},
			bson.M{
				"$set": bson.M{"status": models.SlotAvailable, "holderId": "", "holdId": "", "updatedAt": req.Now},
				"$inc": bson.M{"version": 1},
			}); err != nil {
			return err
		}

		if req.InteractionTo != "" {
			filter := bson.M{"tenantId": req.TenantID, "holdId": released.ID}
			if released.InteractionID != "" {
				filter = bson.M{"tenantId": req.TenantID, "id": released.InteractionID}
			}
			in, err := findInteraction(sc, s.interactions, filter)
			switch {
			case utils.IsValidation(err):
				// Holds claimed without an interaction have nothing to move.
			case err != nil:
				return err
			case !in.State.IsTerminal():
				moved, err := s.transitionInteraction(sc, repository.TransitionRequest{
					TenantID:      req.TenantID,
					InteractionID: in.ID,
					From:          models.NonTerminalStates,
					To:            req.InteractionTo,
					Now:           req.Now,
					FailureReason: req.FailureReason,
					ClearHold:     req.InteractionTo == models.StateCheckingAvailability,
				}, nil)
				if err != nil {
					return err
				}
				out.Interaction = moved
				out.InteractionFrom = in.State
			default:
				out.Interaction = in
			}
		}

		out.Hold = released
		out.Released = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetHold(ctx context.Context, tenantID, holdID string) (*models.Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	h, err := getHold(ctx, s.holds, tenantID, holdID)
	return h, wrapErr("get hold", err)
}

func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	cursor, err := s.holds.Find(ctx,
		bson.M{"status": models.HoldActive, "expiresAt": bson.M{"$lte": now}},
		options.Find().SetSort(bson.D{{Key: "expiresAt", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, wrapErr("list expired holds", err)
	}
	defer cursor.Close(ctx)

	var holds []models.Hold
	if err := cursor.All(ctx, &holds); err != nil {
		return nil, wrapErr("list expired holds", err)
	}
	return holds, nil
}

func (s *Store) CommitHold(ctx context.Context, req repository.CommitRequest) (*models.Appointment, error) {
	var out *models.Appointment
	err := s.withTx(ctx, "commit hold", func(sc mongo.SessionContext) error {
		hold, err := getHold(sc, s.holds, req.TenantID, req.HoldID)
		if err != nil {
			return err
		}
		if hold.Status == models.HoldCommitted {
			out, err = getAppointment(sc, s.appointments, bson.M{"tenantId": req.TenantID, "holdId": hold.ID})
			return err
		}
		if !hold.IsActive(req.Now) {
			return utils.Expired("hold is no longer active")
		}

		res, err := s.holds.UpdateOne(sc,
			bson.M{"tenantId": req.TenantID, "id": req.HoldID, "status": models.HoldActive, "expiresAt": bson.M{"$gt": req.Now}},
			bson.M{"$set": bson.M{"status": models.HoldCommitted}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return utils.Expired("hold is no longer active")
		}

		var slot models.Slot
		err = s.slots.FindOneAndUpdate(sc,
			bson.M{"tenantId": req.TenantID, "id": hold.SlotID, "status": models.SlotHeld, "holdId": hold.ID},
			bson.M{"$set": bson.M{"status": models.SlotBooked, "updatedAt": req.Now}, "$inc": bson.M{"version": 1}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&slot)
		if notFound(err) {
			return utils.Conflict("slot is no longer held by this hold")
		}
		if err != nil {
			return err
		}

		appt := &models.Appointment{
			ID:                req.AppointmentID,
			TenantID:          req.TenantID,
			SlotID:            slot.ID,
			HoldID:            hold.ID,
			InteractionID:     req.InteractionID,
			ResourceID:        slot.ResourceID,
			Start:             slot.Start,
			End:               slot.End,
			Contact:           req.Contact,
			ConfirmationToken: req.ConfirmationToken,
			Status:            models.AppointmentConfirmed,
			CreatedAt:         req.Now,
		}
		if _, err := s.appointments.InsertOne(sc, appt); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return utils.Conflict("hold already produced an appointment")
			}
			return err
		}

		if req.InteractionID != "" {
			if _, err := s.transitionInteraction(sc, repository.TransitionRequest{
				TenantID:      req.TenantID,
				InteractionID: req.InteractionID,
				From:          []models.InteractionState{models.StateConfirming},
				To:            models.StateBooked,
				Now:           req.Now,
			}, bson.M{"appointmentId": appt.ID}); err != nil {
				return err
			}
		}
		out = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CancelAppointment(ctx context.Context, tenantID, appointmentID string, now time.Time) (*models.Appointment, error) {
	var out *models.Appointment
	err := s.withTx(ctx, "cancel appointment", func(sc mongo.SessionContext) error {
		appt, err := getAppointment(sc, s.appointments, bson.M{"tenantId": tenantID, "id": appointmentID})
		if err != nil {
			return err
		}
		if appt.Status == models.AppointmentCancelled {
			out = appt
			return nil
		}

		var cancelled models.Appointment
		err = s.appointments.FindOneAndUpdate(sc,
			bson.M{"tenantId": tenantID, "id": appointmentID, "status": models.AppointmentConfirmed},
			bson.M{"$set": bson.M{"status": models.AppointmentCancelled, "cancelledAt": now}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&cancelled)
		if err != nil {
			return err
		}

		if _, err := s.slots.UpdateOne(sc,
			bson.M{"tenantId": tenantID, "id": appt.SlotID, "status": models.SlotBooked, "holdId": appt.HoldID},
			bson.M{
				"$set": bson.M{"status": models.SlotAvailable, "holderId": "", "holdId": "", "updatedAt": now},
				"$inc": bson.M{"version": 1},
			}); err != nil {
			return err
		}
		out = &cancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appt, err := getAppointment(ctx, s.appointments, bson.M{"tenantId": tenantID, "id": appointmentID})
	return appt, wrapErr("get appointment", err)
}
