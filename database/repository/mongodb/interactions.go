package mongoRepo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/utils"
)

func findInteraction(ctx context.Context, coll *mongo.Collection, filter bson.M) (*models.Interaction, error) {
	var in models.Interaction
	err := coll.FindOne(ctx, filter).Decode(&in)
	if notFound(err) {
		return nil, utils.Validation("interaction not found")
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *Store) EnsureInteraction(ctx context.Context, in models.Interaction) (*models.Interaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	created := true
	if _, err := s.interactions.InsertOne(ctx, in); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, false, wrapErr("ensure interaction", err)
		}
		created = false
	}

	stored, err := findInteraction(ctx, s.interactions, bson.M{"tenantId": in.TenantID, "correlationId": in.CorrelationID})
	if err != nil {
		return nil, false, wrapErr("ensure interaction", err)
	}
	return stored, created, nil
}

func (s *Store) GetInteraction(ctx context.Context, tenantID, correlationID string) (*models.Interaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	in, err := findInteraction(ctx, s.interactions, bson.M{"tenantId": tenantID, "correlationId": correlationID})
	return in, wrapErr("get interaction", err)
}

func (s *Store) GetInteractionByID(ctx context.Context, tenantID, interactionID string) (*models.Interaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	in, err := findInteraction(ctx, s.interactions, bson.M{"tenantId": tenantID, "id": interactionID})
	return in, wrapErr("get interaction", err)
}

func (s *Store) TransitionInteraction(ctx context.Context, req repository.TransitionRequest) (*models.Interaction, error) {
	var out *models.Interaction
	err := s.withTx(ctx, "transition interaction", func(sc mongo.SessionContext) error {
		var err error
		out, err = s.transitionInteraction(sc, req, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transitionInteraction is the conditional update shared by the standalone
// transition and the claim, release and commit transactions. extra is merged
// into $set.
func (s *Store) transitionInteraction(ctx context.Context, req repository.TransitionRequest, extra bson.M) (*models.Interaction, error) {
	if len(req.From) == 0 {
		return nil, utils.Validation("transition needs at least one source state")
	}

	set := bson.M{"state": req.To, "updatedAt": req.Now}
	if req.FailureReason != "" {
		set["failureReason"] = req.FailureReason
	}
	if req.Contact != nil {
		set["contact"] = *req.Contact
	}
	if req.ClearHold {
		set["holdId"] = ""
		set["slotId"] = ""
	}
	for k, v := range extra {
		set[k] = v
	}

	filter := bson.M{
		"tenantId": req.TenantID,
		"id":       req.InteractionID,
		"state":    bson.M{"$in": req.From},
	}
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1, "confirmAttempts": req.AttemptsDelta},
	}
	res, err := s.interactions.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}

	current, err := findInteraction(ctx, s.interactions, bson.M{"tenantId": req.TenantID, "id": req.InteractionID})
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return current, utils.Transition("interaction is " + string(current.State) + ", cannot move to " + string(req.To))
	}
	return current, nil
}
