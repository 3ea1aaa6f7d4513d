package sqliteRepo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"slotkeeper/models"
	"slotkeeper/utils"
)

const slotColumns = `tenant_id, id, resource_id, start_at, end_at, status, version, holder_id, hold_id, updated_at`

func scanSlot(row scanner) (*models.Slot, error) {
	var (
		sl                        models.Slot
		status                    string
		startAt, endAt, updatedAt int64
	)
	if err := row.Scan(&sl.TenantID, &sl.ID, &sl.ResourceID, &startAt, &endAt,
		&status, &sl.Version, &sl.HolderID, &sl.HoldID, &updatedAt); err != nil {
		return nil, err
	}
	sl.Status = models.SlotStatus(status)
	sl.Start = fromMillis(startAt)
	sl.End = fromMillis(endAt)
	sl.UpdatedAt = fromMillis(updatedAt)
	return &sl, nil
}

func getSlot(ctx context.Context, q querier, tenantID, slotID string) (*models.Slot, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE tenant_id = ? AND id = ?`, tenantID, slotID)
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Validation("slot " + slotID + " not found")
	}
	if err != nil {
		return nil, err
	}
	return sl, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) UpsertSlots(ctx context.Context, slots []models.Slot) (int, error) {
	var changed int
	err := s.withTx(ctx, "upsert slots", func(ctx context.Context, tx *sql.Tx) error {
		for _, sl := range slots {
			status := sl.Status
			if status == "" {
				status = models.SlotAvailable
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO slots (tenant_id, id, resource_id, start_at, end_at, status, version, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, 0, ?)
				ON CONFLICT(tenant_id, id) DO UPDATE SET
					resource_id = excluded.resource_id,
					start_at = excluded.start_at,
					end_at = excluded.end_at,
					updated_at = excluded.updated_at
				WHERE slots.status = 'available'`,
				sl.TenantID, sl.ID, sl.ResourceID, toMillis(sl.Start), toMillis(sl.End),
				string(status), toMillis(sl.UpdatedAt))
			if err != nil {
				return err
			}
			n, err := affected(res)
			if err != nil {
				return err
			}
			changed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *Store) GetSlot(ctx context.Context, tenantID, slotID string) (*models.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sl, err := getSlot(ctx, s.db, tenantID, slotID)
	if err != nil {
		return nil, wrapErr("get slot", err)
	}
	return sl, nil
}

func (s *Store) ListAvailableSlots(ctx context.Context, q models.SlotQuery) ([]models.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		where = []string{"tenant_id = ?", "status = 'available'", "start_at >= ?"}
		args  = []any{q.TenantID, toMillis(q.From)}
	)
	if q.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, q.ResourceID)
	}
	query := `SELECT ` + slotColumns + ` FROM slots WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY start_at, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list available slots", err)
	}
	defer rows.Close()

	var slots []models.Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, wrapErr("scan slot", err)
		}
		slots = append(slots, *sl)
	}
	return slots, wrapErr("list available slots", rows.Err())
}

func (s *Store) SetSlotBlocked(ctx context.Context, tenantID, slotID string, blocked bool, now time.Time) (*models.Slot, error) {
	from, to := models.SlotBlocked, models.SlotAvailable
	if blocked {
		from, to = models.SlotAvailable, models.SlotBlocked
	}

	var out *models.Slot
	err := s.withTx(ctx, "set slot blocked", func(ctx context.Context, tx *sql.Tx) error {
		current, err := getSlot(ctx, tx, tenantID, slotID)
		if err != nil {
			return err
		}
		if current.Status == to {
			out = current
			return nil
		}
		if current.Status != from {
			return utils.Conflict("slot is " + string(current.Status))
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE slots SET status = ?, version = version + 1, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND status = ? AND version = ?`,
			string(to), toMillis(now), tenantID, slotID, string(from), current.Version)
		if err != nil {
			return err
		}
		if n, err := affected(res); err != nil {
			return err
		} else if n == 0 {
			return utils.Conflict("slot changed concurrently")
		}
		out, err = getSlot(ctx, tx, tenantID, slotID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
