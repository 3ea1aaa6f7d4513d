package booking

import (
	"context"

	"go.uber.org/zap"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/services/reservation"
	"slotkeeper/utils"
)

func (m *Machine) checkAvailability(ctx context.Context, it *models.Interaction, req models.ToolCallRequest) (models.ToolCallResponse, error) {
	if it.State.IsTerminal() {
		return terminalResponse(it), nil
	}

	if req.SlotID != "" {
		slot, err := m.Slots.GetSlot(ctx, it.TenantID, req.SlotID)
		if err != nil {
			return models.ToolCallResponse{}, err
		}
		if slot.Status == models.SlotAvailable {
			return models.ToolCallResponse{
				Outcome: models.OutcomeAvailable,
				Message: msgSlotAvailable,
				Data:    models.ToolCallData{AlternativeSlots: []models.AvailableSlot{slot.ToAvailable()}},
			}, nil
		}
		return m.conflictResponse(ctx, it.TenantID, slot.ResourceID, slot.ID), nil
	}

	open, err := m.Catalog.ListAvailable(ctx, models.SlotQuery{TenantID: it.TenantID, ResourceID: req.ResourceID})
	if err != nil {
		return models.ToolCallResponse{}, err
	}
	if len(open) == 0 {
		return models.ToolCallResponse{Outcome: models.OutcomeConflict, Message: msgNoneAvailable}, nil
	}
	return models.ToolCallResponse{
		Outcome: models.OutcomeAvailable,
		Message: msgAvailable,
		Data:    models.ToolCallData{AlternativeSlots: open},
	}, nil
}

func (m *Machine) reserve(ctx context.Context, it *models.Interaction, req models.ToolCallRequest) (models.ToolCallResponse, error) {
	if it.State.IsTerminal() {
		return terminalResponse(it), nil
	}
	if req.SlotID == "" {
		return models.ToolCallResponse{}, utils.Validation("slot_id is required to reserve")
	}

	contact := it.Contact
	if req.ContactInfo != nil {
		normalized, err := utils.NormalizeContact(*req.ContactInfo)
		if err != nil {
			return models.ToolCallResponse{}, err
		}
		contact = normalized
	}
	if !contact.Reachable() {
		return models.ToolCallResponse{}, utils.Validation("a phone number or email is required to reserve")
	}

	switch it.State {
	case models.StateHeld, models.StateConfirming:
		if it.SlotID == req.SlotID {
			return models.ToolCallResponse{
				Outcome: models.OutcomeHeld,
				Message: msgAlreadyHeld,
				Data:    models.ToolCallData{HoldID: it.HoldID},
			}, nil
		}
		if it.State == models.StateConfirming {
			return models.ToolCallResponse{Outcome: models.OutcomeError, Message: msgConfirmPending}, nil
		}
		// Switching slots gives the current one back first.
		_, err := m.Engine.Release(ctx, reservation.ReleaseParams{
			TenantID:      it.TenantID,
			HoldID:        it.HoldID,
			Reason:        models.HoldReleased,
			InteractionTo: models.StateCheckingAvailability,
		})
		if err != nil {
			return models.ToolCallResponse{}, err
		}
		if it, err = m.reload(ctx, it); err != nil {
			return models.ToolCallResponse{}, err
		}
		if it.State.IsTerminal() {
			return terminalResponse(it), nil
		}
	}

	res, err := m.Engine.Claim(ctx, reservation.ClaimParams{
		TenantID: it.TenantID,
		SlotID:   req.SlotID,
		HolderID: holderFor(it, contact),
		Interaction: &repository.InteractionBinding{
			InteractionID: it.ID,
			From:          []models.InteractionState{models.StateCheckingAvailability},
			Contact:       contact,
		},
	})
	switch {
	case utils.IsConflict(err):
		return m.conflictResponse(ctx, it.TenantID, m.resourceOf(ctx, it.TenantID, req.SlotID, req.ResourceID), req.SlotID), nil
	case utils.IsTransition(err):
		// A concurrent request for the same interaction got there first.
		current, rerr := m.reload(ctx, it)
		if rerr != nil {
			return models.ToolCallResponse{}, rerr
		}
		if current.State == models.StateHeld && current.SlotID == req.SlotID {
			return models.ToolCallResponse{
				Outcome: models.OutcomeHeld,
				Message: msgAlreadyHeld,
				Data:    models.ToolCallData{HoldID: current.HoldID},
			}, nil
		}
		if current.State.IsTerminal() {
			return terminalResponse(current), nil
		}
		return models.ToolCallResponse{}, err
	case err != nil:
		return models.ToolCallResponse{}, err
	}
	m.recordTransition(ctx, models.StateCheckingAvailability, res.Interaction)

	resp := models.ToolCallResponse{
		Outcome: models.OutcomeHeld,
		Message: msgHeld,
		Data:    models.ToolCallData{HoldID: res.Hold.ID},
	}
	if err := m.sendCode(ctx, it, contact); err != nil {
		resp.Message = msgHeldNoCode
	}
	return resp, nil
}

func (m *Machine) confirm(ctx context.Context, it *models.Interaction, req models.ToolCallRequest) (models.ToolCallResponse, error) {
	switch it.State {
	case models.StateBooked, models.StateExpired, models.StateFailed:
		return terminalResponse(it), nil
	case models.StateConfirming:
		return models.ToolCallResponse{Outcome: models.OutcomeError, Message: msgConfirmPending}, nil
	case models.StateHeld:
	default:
		return models.ToolCallResponse{Outcome: models.OutcomeError, Message: msgNothingToConfirm}, nil
	}

	if req.ConfirmationCode == "" {
		if err := m.sendCode(ctx, it, it.Contact); err != nil {
			return models.ToolCallResponse{Outcome: models.OutcomeHeld, Message: msgCodeNotSent,
				Data: models.ToolCallData{HoldID: it.HoldID}}, nil
		}
		return models.ToolCallResponse{Outcome: models.OutcomeHeld, Message: msgCodeResent,
			Data: models.ToolCallData{HoldID: it.HoldID}}, nil
	}

	confirming, err := m.transition(ctx, it, repository.TransitionRequest{
		From: []models.InteractionState{models.StateHeld},
		To:   models.StateConfirming,
	})
	if utils.IsTransition(err) {
		current, rerr := m.reload(ctx, it)
		if rerr != nil {
			return models.ToolCallResponse{}, rerr
		}
		if current.State.IsTerminal() {
			return terminalResponse(current), nil
		}
		return models.ToolCallResponse{Outcome: models.OutcomeError, Message: msgConfirmPending}, nil
	}
	if err != nil {
		return models.ToolCallResponse{}, err
	}

	vctx, cancel := context.WithTimeout(ctx, m.Settings.VerifyTimeout)
	ok, verr := m.Confirmations.Verify(vctx, confirming.TenantID, confirming.ID, req.ConfirmationCode)
	cancel()
	if verr == nil && vctx.Err() != nil {
		verr = utils.Infrastructure("confirmation check timed out", vctx.Err())
	}
	return m.settle(ctx, confirming, ok, verr)
}

// settle finishes a confirming interaction once verification has answered.
func (m *Machine) settle(ctx context.Context, it *models.Interaction, ok bool, verr error) (models.ToolCallResponse, error) {
	logger := m.Logger.With(zap.String("tenant", it.TenantID), zap.String("interaction", it.ID))

	if verr != nil {
		logger.Warn("Confirmation check unavailable", zap.Error(verr))
		if _, err := m.backToHeld(ctx, it, 0); err != nil {
			return m.recoverAfterMiss(ctx, it, err)
		}
		return models.ToolCallResponse{Outcome: models.OutcomeHeld, Message: msgVerifyLater,
			Data: models.ToolCallData{HoldID: it.HoldID}}, nil
	}

	if !ok {
		attempts := it.ConfirmAttempts + 1
		if attempts >= m.Settings.MaxConfirmAttempts {
			logger.Info("Confirmation attempts exhausted", zap.Int("attempts", attempts))
			res, err := m.Engine.Release(ctx, reservation.ReleaseParams{
				TenantID:      it.TenantID,
				HoldID:        it.HoldID,
				Reason:        models.HoldReleased,
				InteractionTo: models.StateFailed,
				FailureReason: "too many incorrect confirmation codes",
			})
			if err != nil {
				return models.ToolCallResponse{}, err
			}
			if res.Interaction == nil {
				m.failInteraction(ctx, it, "too many incorrect confirmation codes")
			}
			return models.ToolCallResponse{Outcome: models.OutcomeError, Message: msgTooManyAttempts}, nil
		}
		if _, err := m.backToHeld(ctx, it, 1); err != nil {
			return m.recoverAfterMiss(ctx, it, err)
		}
		return models.ToolCallResponse{Outcome: models.OutcomeHeld,
			Message: codeMismatch(m.Settings.MaxConfirmAttempts - attempts),
			Data:    models.ToolCallData{HoldID: it.HoldID}}, nil
	}

	return m.commit(ctx, it)
}

func (m *Machine) commit(ctx context.Context, it *models.Interaction) (models.ToolCallResponse, error) {
	logger := m.Logger.With(zap.String("tenant", it.TenantID), zap.String("interaction", it.ID))

	appt, err := m.Engine.Commit(ctx, repository.CommitRequest{
		TenantID:      it.TenantID,
		HoldID:        it.HoldID,
		InteractionID: it.ID,
		Contact:       it.Contact,
	})
	switch {
	case err == nil:
	case utils.IsExpired(err), utils.IsConflict(err):
		logger.Info("Hold lapsed before commit", zap.Error(err))
		return m.expire(ctx, it), nil
	case utils.IsTransition(err):
		return m.recoverAfterMiss(ctx, it, err)
	default:
		logger.Error("Commit failed", zap.Error(err))
		if _, terr := m.backToHeld(ctx, it, 0); terr != nil {
			return m.recoverAfterMiss(ctx, it, terr)
		}
		// The verified code was consumed, so hand out a fresh one.
		_ = m.sendCode(ctx, it, it.Contact)
		return models.ToolCallResponse{Outcome: models.OutcomeError, Message: msgCommitRetry,
			Data: models.ToolCallData{HoldID: it.HoldID}}, nil
	}

	booked := *it
	booked.State = models.StateBooked
	booked.AppointmentID = appt.ID
	m.recordTransition(ctx, models.StateConfirming, &booked)
	m.publish(ctx, appt)

	return models.ToolCallResponse{
		Outcome: models.OutcomeBooked,
		Message: msgBooked,
		Data:    models.ToolCallData{AppointmentID: appt.ID},
	}, nil
}

// expire ends an interaction whose hold lapsed and offers other times.
func (m *Machine) expire(ctx context.Context, it *models.Interaction) models.ToolCallResponse {
	res, err := m.Engine.Release(ctx, reservation.ReleaseParams{
		TenantID:      it.TenantID,
		HoldID:        it.HoldID,
		Reason:        models.HoldExpired,
		InteractionTo: models.StateExpired,
		FailureReason: "hold expired before confirmation",
	})
	switch {
	case err != nil:
		m.Logger.Error("Failed to release lapsed hold", zap.String("hold", it.HoldID), zap.Error(err))
	case res.Interaction != nil:
		// Moved and audited by the release.
	default:
		// The reaper released the hold first. Make sure the interaction ended too.
		if _, err := m.transition(ctx, it, repository.TransitionRequest{
			From:          models.NonTerminalStates,
			To:            models.StateExpired,
			FailureReason: "hold expired before confirmation",
		}); err != nil && !utils.IsTransition(err) {
			m.Logger.Error("Failed to expire interaction", zap.String("interaction", it.ID), zap.Error(err))
		}
	}

	resp := models.ToolCallResponse{Outcome: models.OutcomeExpired, Message: msgExpired}
	if resource := m.resourceOf(ctx, it.TenantID, it.SlotID, ""); resource != "" {
		resp.Data.AlternativeSlots = m.alternatives(ctx, it.TenantID, resource, it.SlotID)
	}
	return resp
}

func (m *Machine) backToHeld(ctx context.Context, it *models.Interaction, attemptsDelta int) (*models.Interaction, error) {
	return m.transition(ctx, it, repository.TransitionRequest{
		From:          []models.InteractionState{models.StateConfirming},
		To:            models.StateHeld,
		AttemptsDelta: attemptsDelta,
	})
}

// recoverAfterMiss answers from the stored state when a confirming
// interaction was moved by someone else, such as the reaper or a cancel.
func (m *Machine) recoverAfterMiss(ctx context.Context, it *models.Interaction, cause error) (models.ToolCallResponse, error) {
	current, err := m.reload(ctx, it)
	if err != nil {
		return models.ToolCallResponse{}, cause
	}
	switch {
	case current.State == models.StateBooked && current.AppointmentID != "":
		if appt, err := m.Engine.GetAppointment(ctx, current.TenantID, current.AppointmentID); err == nil {
			m.publish(ctx, appt)
		}
		return terminalResponse(current), nil
	case current.State.IsTerminal():
		return terminalResponse(current), nil
	case current.State == models.StateCheckingAvailability:
		return models.ToolCallResponse{Outcome: models.OutcomeCancelled, Message: msgReservationGone}, nil
	}
	return models.ToolCallResponse{}, cause
}

func (m *Machine) cancel(ctx context.Context, it *models.Interaction) (models.ToolCallResponse, error) {
	switch it.State {
	case models.StateHeld, models.StateConfirming:
		res, err := m.Engine.Release(ctx, reservation.ReleaseParams{
			TenantID:      it.TenantID,
			HoldID:        it.HoldID,
			Reason:        models.HoldReleased,
			InteractionTo: models.StateCheckingAvailability,
		})
		if err != nil {
			return models.ToolCallResponse{}, err
		}
		if !res.Released {
			return m.recoverAfterMiss(ctx, it, utils.Transition("hold already "+string(res.Hold.Status)))
		}
		return models.ToolCallResponse{Outcome: models.OutcomeCancelled, Message: msgReservationGone}, nil

	case models.StateBooked:
		appt, err := m.Engine.CancelAppointment(ctx, it.TenantID, it.AppointmentID)
		if err != nil {
			return models.ToolCallResponse{}, err
		}
		return models.ToolCallResponse{
			Outcome: models.OutcomeCancelled,
			Message: msgAppointmentGone,
			Data:    models.ToolCallData{AppointmentID: appt.ID},
		}, nil
	}
	return models.ToolCallResponse{Outcome: models.OutcomeCancelled, Message: msgNothingToCancel}, nil
}

func (m *Machine) sendCode(ctx context.Context, it *models.Interaction, contact models.ContactInfo) error {
	sctx, cancel := context.WithTimeout(ctx, m.Settings.VerifyTimeout)
	defer cancel()
	err := m.Confirmations.Send(sctx, it.TenantID, it.ID, contact)
	if err != nil {
		m.Logger.Warn("Failed to send confirmation code",
			zap.String("tenant", it.TenantID), zap.String("interaction", it.ID), zap.Error(err))
	}
	return err
}

func (m *Machine) publish(ctx context.Context, appt *models.Appointment) {
	ev := models.AppointmentCommitted{
		AppointmentID: appt.ID,
		TenantID:      appt.TenantID,
		Start:         appt.Start,
		Contact:       appt.Contact,
	}
	if err := m.Publisher.PublishCommitted(context.WithoutCancel(ctx), ev); err != nil {
		m.Logger.Error("Failed to publish committed appointment",
			zap.String("tenant", appt.TenantID), zap.String("appointment", appt.ID), zap.Error(err))
	}
}

func (m *Machine) conflictResponse(ctx context.Context, tenantID, resourceID, slotID string) models.ToolCallResponse {
	resp := models.ToolCallResponse{Outcome: models.OutcomeConflict, Message: msgTaken}
	if resourceID != "" {
		resp.Data.AlternativeSlots = m.alternatives(ctx, tenantID, resourceID, slotID)
	}
	return resp
}

// alternatives offers the next open times of the same resource. It is best
// effort and returns nothing on error.
func (m *Machine) alternatives(ctx context.Context, tenantID, resourceID, excludeSlotID string) []models.AvailableSlot {
	if m.Settings.Alternatives == 0 || m.Catalog == nil {
		return nil
	}
	open, err := m.Catalog.ListAvailable(ctx, models.SlotQuery{
		TenantID:   tenantID,
		ResourceID: resourceID,
		Limit:      m.Settings.Alternatives + 1,
	})
	if err != nil {
		m.Logger.Warn("Failed to list alternative slots", zap.String("tenant", tenantID), zap.Error(err))
		return nil
	}
	out := make([]models.AvailableSlot, 0, m.Settings.Alternatives)
	for _, s := range open {
		if s.ID == excludeSlotID {
			continue
		}
		out = append(out, s)
		if len(out) == m.Settings.Alternatives {
			break
		}
	}
	return out
}

func (m *Machine) resourceOf(ctx context.Context, tenantID, slotID, fallback string) string {
	if slotID == "" || m.Slots == nil {
		return fallback
	}
	slot, err := m.Slots.GetSlot(ctx, tenantID, slotID)
	if err != nil {
		return fallback
	}
	return slot.ResourceID
}
