package sqliteRepo

import (
	"context"
	"database/sql"
	"errors"

	"slotkeeper/models"
	"slotkeeper/utils"
)

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		t         models.Tenant
		active    int
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, active, created_at FROM tenants WHERE id = ?`, tenantID,
	).Scan(&t.ID, &t.Name, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.Unauthorized("unknown tenant", nil)
	}
	if err != nil {
		return nil, wrapErr("get tenant", err)
	}
	t.Active = active == 1
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

func (s *Store) UpsertTenant(ctx context.Context, tenant models.Tenant) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	active := 0
	if tenant.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, active, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		tenant.ID, tenant.Name, active, toMillis(tenant.CreatedAt))
	return wrapErr("upsert tenant", err)
}
