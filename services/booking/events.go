package booking

import (
	"context"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/utils"
)

// CompleteVerification applies a verification result delivered as an event.
// Callers run it under the idempotency guard.
func (m *Machine) CompleteVerification(ctx context.Context, tenantID, correlationID string, succeeded bool) (models.EventOutcome, error) {
	it, err := m.Interactions.GetInteraction(ctx, tenantID, correlationID)
	if utils.IsValidation(err) {
		return ignored("unknown interaction"), nil
	}
	if err != nil {
		return models.EventOutcome{}, err
	}

	switch it.State {
	case models.StateHeld:
		it, err = m.transition(ctx, it, repository.TransitionRequest{
			From: []models.InteractionState{models.StateHeld},
			To:   models.StateConfirming,
		})
		if utils.IsTransition(err) {
			return ignored("interaction moved on"), nil
		}
		if err != nil {
			return models.EventOutcome{}, err
		}
	case models.StateConfirming:
	default:
		return ignored("interaction is " + string(it.State)), nil
	}

	resp, err := m.settle(ctx, it, succeeded, nil)
	if err != nil {
		return models.EventOutcome{}, err
	}
	return eventOutcome(resp), nil
}

// CancelInteraction cancels whatever the interaction currently holds or has
// booked.
func (m *Machine) CancelInteraction(ctx context.Context, tenantID, correlationID string) (models.EventOutcome, error) {
	it, err := m.Interactions.GetInteraction(ctx, tenantID, correlationID)
	if utils.IsValidation(err) {
		return ignored("unknown interaction"), nil
	}
	if err != nil {
		return models.EventOutcome{}, err
	}

	resp, err := m.cancel(ctx, it)
	if err != nil {
		return models.EventOutcome{}, err
	}
	return eventOutcome(resp), nil
}

func ignored(message string) models.EventOutcome {
	return models.EventOutcome{Result: models.EventResultIgnored, Message: message}
}
