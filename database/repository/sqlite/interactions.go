package sqliteRepo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/utils"
)

const interactionColumns = `tenant_id, id, correlation_id, state, hold_id, slot_id, appointment_id,
	contact_name, contact_phone, contact_email, confirm_attempts, failure_reason, version,
	created_at, updated_at`

func scanInteraction(row scanner) (*models.Interaction, error) {
	var (
		in                   models.Interaction
		state                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&in.TenantID, &in.ID, &in.CorrelationID, &state, &in.HoldID, &in.SlotID,
		&in.AppointmentID, &in.Contact.Name, &in.Contact.Phone, &in.Contact.Email,
		&in.ConfirmAttempts, &in.FailureReason, &in.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	in.State = models.InteractionState(state)
	in.CreatedAt = fromMillis(createdAt)
	in.UpdatedAt = fromMillis(updatedAt)
	return &in, nil
}

func getInteractionWhere(ctx context.Context, q querier, where string, args ...any) (*models.Interaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE `+where, args...)
	in, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Validation("interaction not found")
	}
	return in, err
}

func (s *Store) EnsureInteraction(ctx context.Context, in models.Interaction) (*models.Interaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (tenant_id, id, correlation_id, state, contact_name, contact_phone,
			contact_email, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(tenant_id, correlation_id) DO NOTHING`,
		in.TenantID, in.ID, in.CorrelationID, string(in.State), in.Contact.Name, in.Contact.Phone,
		in.Contact.Email, toMillis(in.CreatedAt), toMillis(in.UpdatedAt))
	if err != nil {
		return nil, false, wrapErr("ensure interaction", err)
	}
	n, err := affected(res)
	if err != nil {
		return nil, false, wrapErr("ensure interaction", err)
	}

	stored, err := getInteractionWhere(ctx, s.db, `tenant_id = ? AND correlation_id = ?`, in.TenantID, in.CorrelationID)
	if err != nil {
		return nil, false, wrapErr("ensure interaction", err)
	}
	return stored, n == 1, nil
}

func (s *Store) GetInteraction(ctx context.Context, tenantID, correlationID string) (*models.Interaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	in, err := getInteractionWhere(ctx, s.db, `tenant_id = ? AND correlation_id = ?`, tenantID, correlationID)
	return in, wrapErr("get interaction", err)
}

func (s *Store) GetInteractionByID(ctx context.Context, tenantID, interactionID string) (*models.Interaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	in, err := getInteractionWhere(ctx, s.db, `tenant_id = ? AND id = ?`, tenantID, interactionID)
	return in, wrapErr("get interaction", err)
}

func (s *Store) TransitionInteraction(ctx context.Context, req repository.TransitionRequest) (*models.Interaction, error) {
	var out *models.Interaction
	err := s.withTx(ctx, "transition interaction", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = transitionInteraction(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transitionInteraction is the conditional update shared by the standalone
// transition and the claim, release and commit transactions.
func transitionInteraction(ctx context.Context, tx *sql.Tx, req repository.TransitionRequest) (*models.Interaction, error) {
	if len(req.From) == 0 {
		return nil, utils.Validation("transition needs at least one source state")
	}

	sets := []string{"state = ?", "version = version + 1", "updated_at = ?",
		"confirm_attempts = confirm_attempts + ?"}
	args := []any{string(req.To), toMillis(req.Now), req.AttemptsDelta}
	if req.FailureReason != "" {
		sets = append(sets, "failure_reason = ?")
		args = append(args, req.FailureReason)
	}
	if req.Contact != nil {
		sets = append(sets, "contact_name = ?", "contact_phone = ?", "contact_email = ?")
		args = append(args, req.Contact.Name, req.Contact.Phone, req.Contact.Email)
	}
	if req.ClearHold {
		sets = append(sets, "hold_id = ''", "slot_id = ''")
	}

	args = append(args, req.TenantID, req.InteractionID)
	for _, st := range req.From {
		args = append(args, string(st))
	}

	res, err := tx.ExecContext(ctx, `UPDATE interactions SET `+strings.Join(sets, ", ")+`
		WHERE tenant_id = ? AND id = ? AND state IN (`+placeholders(len(req.From))+`)`, args...)
	if err != nil {
		return nil, err
	}
	n, err := affected(res)
	if err != nil {
		return nil, err
	}

	current, err := getInteractionWhere(ctx, tx, `tenant_id = ? AND id = ?`, req.TenantID, req.InteractionID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return current, utils.Transition("interaction is " + string(current.State) + ", cannot move to " + string(req.To))
	}
	return current, nil
}
