package sqliteRepo

import (
	"context"
	"strings"
	"time"

	"slotkeeper/database/repository"
	"slotkeeper/models"
)

func (s *Store) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, kind, outcome, slot_id, holder_id, hold_id,
			interaction_id, event_id, from_state, to_state, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, string(e.Kind), e.Outcome, e.SlotID, e.HolderID, e.HoldID,
		e.InteractionID, e.EventID, e.FromState, e.ToState, e.Detail, toMillis(e.At))
	return wrapErr("append audit", err)
}

func (s *Store) ListAudit(ctx context.Context, q repository.AuditQuery) ([]models.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where := []string{"tenant_id = ?"}
	args := []any{q.TenantID}
	if q.SlotID != "" {
		where = append(where, "slot_id = ?")
		args = append(args, q.SlotID)
	}
	if q.InteractionID != "" {
		where = append(where, "interaction_id = ?")
		args = append(args, q.InteractionID)
	}
	if !q.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, toMillis(q.Since))
	}
	query := `SELECT id, tenant_id, kind, outcome, slot_id, holder_id, hold_id, interaction_id,
		event_id, from_state, to_state, detail, at
		FROM audit_log WHERE ` + strings.Join(where, " AND ") + ` ORDER BY at, seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list audit", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e    models.AuditEntry
			kind string
			at   int64
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &kind, &e.Outcome, &e.SlotID, &e.HolderID, &e.HoldID,
			&e.InteractionID, &e.EventID, &e.FromState, &e.ToState, &e.Detail, &at); err != nil {
			return nil, wrapErr("scan audit", err)
		}
		e.Kind = models.AuditKind(kind)
		e.At = fromMillis(at)
		entries = append(entries, e)
	}
	return entries, wrapErr("list audit", rows.Err())
}

func (s *Store) CountConflictsByHolder(ctx context.Context, tenantID string, since time.Time, minConflicts int) ([]models.HolderConflicts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if minConflicts < 1 {
		minConflicts = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT holder_id, COUNT(*), MAX(at) FROM audit_log
		WHERE tenant_id = ? AND kind = ? AND outcome = ? AND at >= ? AND holder_id <> ''
		GROUP BY holder_id
		HAVING COUNT(*) >= ?
		ORDER BY COUNT(*) DESC, holder_id`,
		tenantID, string(models.AuditClaim), models.AuditConflict, toMillis(since), minConflicts)
	if err != nil {
		return nil, wrapErr("count conflicts", err)
	}
	defer rows.Close()

	var out []models.HolderConflicts
	for rows.Next() {
		var (
			hc   models.HolderConflicts
			last int64
		)
		if err := rows.Scan(&hc.HolderID, &hc.Conflicts, &last); err != nil {
			return nil, wrapErr("scan conflicts", err)
		}
		hc.LastAt = fromMillis(last)
		out = append(out, hc)
	}
	return out, wrapErr("count conflicts", rows.Err())
}
