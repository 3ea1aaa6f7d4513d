package tenant

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/utils"
)

// Resolver turns a caller credential into a tenant id. It fails closed.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// JWTResolver validates HS256 tenant tokens against the tenant registry.
type JWTResolver struct {
	Secret  []byte
	Tenants repository.TenantRepository
	Logger  *zap.Logger
}

var _ Resolver = (*JWTResolver)(nil)

func NewJWTResolver(secret string, tenants repository.TenantRepository, logger *zap.Logger) *JWTResolver {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &JWTResolver{Secret: []byte(secret), Tenants: tenants, Logger: logger}
}

func (r *JWTResolver) Resolve(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return "", utils.Unauthorized("missing tenant credential", nil)
	}

	tenantID, err := utils.ExtractTenantID(r.Secret, credential)
	if err != nil {
		r.Logger.Debug("Tenant credential rejected", zap.Error(err))
		return "", utils.Unauthorized("invalid tenant credential", err)
	}

	t, err := r.Tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if utils.IsInfrastructure(err) {
			r.Logger.Error("Tenant registry unavailable", zap.String("tenant", tenantID), zap.Error(err))
			return "", err
		}
		return "", utils.Unauthorized("unknown tenant", err)
	}
	if !t.Active {
		return "", utils.Unauthorized("tenant is inactive", nil)
	}
	return t.ID, nil
}

// Register creates or updates a tenant and issues a credential for it.
func Register(ctx context.Context, tenants repository.TenantRepository, secret string, t models.Tenant, ttl time.Duration) (string, error) {
	if t.ID == "" {
		return "", utils.Validation("tenant id is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if err := tenants.UpsertTenant(ctx, t); err != nil {
		return "", err
	}
	token, err := utils.GenerateTenantToken([]byte(secret), t.ID, ttl)
	if err != nil {
		return "", utils.Validation(err.Error())
	}
	return token, nil
}
