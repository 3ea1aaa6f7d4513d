package sqliteRepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"slotkeeper/models"
	"slotkeeper/utils"
)

func (s *Store) InsertProcessedEvent(ctx context.Context, ev models.ProcessedEvent) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcome, err := json.Marshal(ev.Outcome)
	if err != nil {
		return false, utils.Validation("outcome is not serializable")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_events (tenant_id, event_id, event_type, status, outcome, owner, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, event_id) DO NOTHING`,
		ev.TenantID, ev.EventID, ev.EventType, string(ev.Status), string(outcome), ev.Owner, toMillis(ev.CreatedAt))
	if err != nil {
		return false, wrapErr("insert processed event", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, wrapErr("insert processed event", err)
	}
	return n == 1, nil
}

func (s *Store) GetProcessedEvent(ctx context.Context, tenantID, eventID string) (*models.ProcessedEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		ev          models.ProcessedEvent
		status      string
		outcome     string
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, event_id, event_type, status, outcome, owner, created_at, completed_at
		FROM processed_events WHERE tenant_id = ? AND event_id = ?`, tenantID, eventID,
	).Scan(&ev.TenantID, &ev.EventID, &ev.EventType, &status, &outcome, &ev.Owner, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Validation("event " + eventID + " not found")
	}
	if err != nil {
		return nil, wrapErr("get processed event", err)
	}
	if err := json.Unmarshal([]byte(outcome), &ev.Outcome); err != nil {
		return nil, utils.Infrastructure("decode event outcome", err)
	}
	ev.Status = models.EventStatus(status)
	ev.CreatedAt = fromMillis(createdAt)
	ev.CompletedAt = fromNullMillis(completedAt)
	return &ev, nil
}

func (s *Store) CompleteProcessedEvent(ctx context.Context, tenantID, eventID string, outcome models.EventOutcome, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := json.Marshal(outcome)
	if err != nil {
		return utils.Validation("outcome is not serializable")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE processed_events SET status = 'completed', outcome = ?, completed_at = ?
		WHERE tenant_id = ? AND event_id = ? AND status = 'pending'`,
		string(raw), toMillis(now), tenantID, eventID)
	if err != nil {
		return wrapErr("complete processed event", err)
	}
	if n, err := affected(res); err != nil {
		return wrapErr("complete processed event", err)
	} else if n == 0 {
		return utils.Conflict("event " + eventID + " is not pending")
	}
	return nil
}

func (s *Store) PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE created_at < ?`, toMillis(olderThan))
	if err != nil {
		return 0, wrapErr("prune processed events", err)
	}
	n, err := affected(res)
	return n, wrapErr("prune processed events", err)
}
