package sqliteRepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/utils"
)

const holdColumns = `tenant_id, id, slot_id, holder_id, interaction_id, status, created_at, expires_at, released_at`

func scanHold(row scanner) (*models.Hold, error) {
	var (
		h                    models.Hold
		status               string
		createdAt, expiresAt int64
		releasedAt           sql.NullInt64
	)
	if err := row.Scan(&h.TenantID, &h.ID, &h.SlotID, &h.HolderID, &h.InteractionID, &status,
		&createdAt, &expiresAt, &releasedAt); err != nil {
		return nil, err
	}
	h.Status = models.HoldStatus(status)
	h.CreatedAt = fromMillis(createdAt)
	h.ExpiresAt = fromMillis(expiresAt)
	h.ReleasedAt = fromNullMillis(releasedAt)
	return &h, nil
}

func getHold(ctx context.Context, q querier, tenantID, holdID string) (*models.Hold, error) {
	row := q.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE tenant_id = ? AND id = ?`, tenantID, holdID)
	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Validation("hold " + holdID + " not found")
	}
	return h, err
}

func (s *Store) ClaimSlot(ctx context.Context, req repository.ClaimRequest) (*repository.ClaimResult, error) {
	if req.TTL <= 0 {
		return nil, utils.Validation("hold ttl must be positive")
	}

	var out repository.ClaimResult
	err := s.withTx(ctx, "claim slot", func(ctx context.Context, tx *sql.Tx) error {
		slot, err := getSlot(ctx, tx, req.TenantID, req.SlotID)
		if err != nil {
			return err
		}
		if slot.Status != models.SlotAvailable {
			return utils.Conflict("slot is " + string(slot.Status))
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE slots SET status = 'held', holder_id = ?, hold_id = ?, version = version + 1, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND status = 'available' AND version = ?`,
			req.HolderID, req.HoldID, toMillis(req.Now), req.TenantID, req.SlotID, slot.Version)
		if err != nil {
			return err
		}
		if n, err := affected(res); err != nil {
			return err
		} else if n == 0 {
			return utils.Conflict("slot was claimed concurrently")
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
		_, err = tx.ExecContext(ctx, `
			INSERT INTO holds (`+holdColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
			hold.TenantID, hold.ID, hold.SlotID, hold.HolderID, hold.InteractionID, string(hold.Status),
			toMillis(hold.CreatedAt), toMillis(hold.ExpiresAt))
		if isUniqueViolation(err) {
			return utils.Conflict("slot already has an active hold")
		}
		if err != nil {
			return err
		}

		if b := req.Interaction; b != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE interactions SET hold_id = ?, slot_id = ? WHERE tenant_id = ? AND id = ?`,
				hold.ID, hold.SlotID, req.TenantID, b.InteractionID); err != nil {
				return err
			}
			contact := b.Contact
			in, err := transitionInteraction(ctx, tx, repository.TransitionRequest{
				TenantID:      req.TenantID,
				InteractionID: b.InteractionID,
				From:          b.From,
				To:            models.StateHeld,
				Now:           req.Now,
				Contact:       &contact,
			})
			if err != nil {
				return err
			}
			out.Interaction = in
		}

		updated, err := getSlot(ctx, tx, req.TenantID, req.SlotID)
		if err != nil {
			return err
		}
		out.Hold = hold
		out.Slot = *updated
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
	err := s.withTx(ctx, "release hold", func(ctx context.Context, tx *sql.Tx) error {
		hold, err := getHold(ctx, tx, req.TenantID, req.HoldID)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE holds SET status = ?, released_at = ?
			WHERE tenant_id = ? AND id = ? AND status = 'active'`,
			string(reason), toMillis(req.Now), req.TenantID, req.HoldID)
		if err != nil {
			return err
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			// Already committed, released or expired.
			out.Hold = *hold
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE slots SET status = 'available', holder_id = '', hold_id = '', version = version + 1, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND status = 'held' AND hold_id = ?`,
			toMillis(req.Now), req.TenantID, hold.SlotID, hold.ID); err != nil {
			return err
		}

		if req.InteractionTo != "" {
			in, err := holdInteraction(ctx, tx, hold)
			switch {
			case utils.IsValidation(err):
				// Holds claimed without an interaction have nothing to move.
			case err != nil:
				return err
			case !in.State.IsTerminal():
				moved, err := transitionInteraction(ctx, tx, repository.TransitionRequest{
					TenantID:      req.TenantID,
					InteractionID: in.ID,
					From:          models.NonTerminalStates,
					To:            req.InteractionTo,
					Now:           req.Now,
					FailureReason: req.FailureReason,
					ClearHold:     req.InteractionTo == models.StateCheckingAvailability,
				})
				if err != nil {
					return err
				}
				out.Interaction = moved
				out.InteractionFrom = in.State
			default:
				out.Interaction = in
			}
		}

		released, err := getHold(ctx, tx, req.TenantID, req.HoldID)
		if err != nil {
			return err
		}
		out.Hold = *released
		out.Released = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// holdInteraction finds the interaction that owns a hold. Holds written
// before interaction_id existed are found through interactions.hold_id.
func holdInteraction(ctx context.Context, q querier, hold *models.Hold) (*models.Interaction, error) {
	if hold.InteractionID != "" {
		return getInteractionWhere(ctx, q, `tenant_id = ? AND id = ?`, hold.TenantID, hold.InteractionID)
	}
	return getInteractionWhere(ctx, q, `tenant_id = ? AND hold_id = ?`, hold.TenantID, hold.ID)
}

func (s *Store) GetHold(ctx context.Context, tenantID, holdID string) (*models.Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	h, err := getHold(ctx, s.db, tenantID, holdID)
	return h, wrapErr("get hold", err)
}

func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE status = 'active' AND expires_at <= ?
		ORDER BY expires_at LIMIT ?`, toMillis(now), limit)
	if err != nil {
		return nil, wrapErr("list expired holds", err)
	}
	defer rows.Close()

	var holds []models.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, wrapErr("scan hold", err)
		}
		holds = append(holds, *h)
	}
	return holds, wrapErr("list expired holds", rows.Err())
}

func (s *Store) CommitHold(ctx context.Context, req repository.CommitRequest) (*models.Appointment, error) {
	var out *models.Appointment
	err := s.withTx(ctx, "commit hold", func(ctx context.Context, tx *sql.Tx) error {
		hold, err := getHold(ctx, tx, req.TenantID, req.HoldID)
		if err != nil {
			return err
		}
		if hold.Status == models.HoldCommitted {
			out, err = getAppointmentWhere(ctx, tx, `tenant_id = ? AND hold_id = ?`, req.TenantID, hold.ID)
			return err
		}
		if !hold.IsActive(req.Now) {
			return utils.Expired("hold is no longer active")
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE holds SET status = 'committed'
			WHERE tenant_id = ? AND id = ? AND status = 'active' AND expires_at > ?`,
			req.TenantID, req.HoldID, toMillis(req.Now))
		if err != nil {
			return err
		}
		if n, err := affected(res); err != nil {
			return err
		} else if n == 0 {
			return utils.Expired("hold is no longer active")
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE slots SET status = 'booked', version = version + 1, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND status = 'held' AND hold_id = ?`,
			toMillis(req.Now), req.TenantID, hold.SlotID, hold.ID)
		if err != nil {
			return err
		}
		if n, err := affected(res); err != nil {
			return err
		} else if n == 0 {
			return utils.Conflict("slot is no longer held by this hold")
		}

		slot, err := getSlot(ctx, tx, req.TenantID, hold.SlotID)
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
		if err := insertAppointment(ctx, tx, appt); err != nil {
			return err
		}

		if req.InteractionID != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE interactions SET appointment_id = ? WHERE tenant_id = ? AND id = ?`,
				appt.ID, req.TenantID, req.InteractionID); err != nil {
				return err
			}
			if _, err := transitionInteraction(ctx, tx, repository.TransitionRequest{
				TenantID:      req.TenantID,
				InteractionID: req.InteractionID,
				From:          []models.InteractionState{models.StateConfirming},
				To:            models.StateBooked,
				Now:           req.Now,
			}); err != nil {
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
	err := s.withTx(ctx, "cancel appointment", func(ctx context.Context, tx *sql.Tx) error {
		appt, err := getAppointmentWhere(ctx, tx, `tenant_id = ? AND id = ?`, tenantID, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status == models.AppointmentCancelled {
			out = appt
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE appointments SET status = 'cancelled', cancelled_at = ?
			WHERE tenant_id = ? AND id = ? AND status = 'confirmed'`,
			toMillis(now), tenantID, appointmentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE slots SET status = 'available', holder_id = '', hold_id = '', version = version + 1, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND status = 'booked' AND hold_id = ?`,
			toMillis(now), tenantID, appt.SlotID, appt.HoldID); err != nil {
			return err
		}

		out, err = getAppointmentWhere(ctx, tx, `tenant_id = ? AND id = ?`, tenantID, appointmentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	appt, err := getAppointmentWhere(ctx, s.db, `tenant_id = ? AND id = ?`, tenantID, appointmentID)
	return appt, wrapErr("get appointment", err)
}

const appointmentColumns = `tenant_id, id, slot_id, hold_id, interaction_id, resource_id, start_at, end_at,
	contact_name, contact_phone, contact_email, confirmation_token, status, created_at, cancelled_at`

func insertAppointment(ctx context.Context, tx *sql.Tx, a *models.Appointment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TenantID, a.ID, a.SlotID, a.HoldID, a.InteractionID, a.ResourceID,
		toMillis(a.Start), toMillis(a.End), a.Contact.Name, a.Contact.Phone, a.Contact.Email,
		a.ConfirmationToken, string(a.Status), toMillis(a.CreatedAt), nullMillis(a.CancelledAt))
	if isUniqueViolation(err) {
		return utils.Conflict("hold already produced an appointment")
	}
	return err
}

func getAppointmentWhere(ctx context.Context, q querier, where string, args ...any) (*models.Appointment, error) {
	var (
		a                         models.Appointment
		status                    string
		startAt, endAt, createdAt int64
		cancelledAt               sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE `+where, args...).Scan(
		&a.TenantID, &a.ID, &a.SlotID, &a.HoldID, &a.InteractionID, &a.ResourceID, &startAt, &endAt,
		&a.Contact.Name, &a.Contact.Phone, &a.Contact.Email, &a.ConfirmationToken, &status,
		&createdAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Validation("appointment not found")
	}
	if err != nil {
		return nil, err
	}
	a.Status = models.AppointmentStatus(status)
	a.Start = fromMillis(startAt)
	a.End = fromMillis(endAt)
	a.CreatedAt = fromMillis(createdAt)
	a.CancelledAt = fromNullMillis(cancelledAt)
	return &a, nil
}
