package tenant

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sqliteRepo "slotkeeper/database/repository/sqlite"
	"slotkeeper/models"
	"slotkeeper/utils"
)

const secret = "test-secret"

func newTestResolver(t *testing.T) (*JWTResolver, *sqliteRepo.Store) {
	t.Helper()
	store, err := sqliteRepo.Open(filepath.Join(t.TempDir(), "tenants.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return NewJWTResolver(secret, store, zap.NewNop()), store
}

func TestResolve(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()

	token, err := Register(ctx, store, secret, models.Tenant{ID: "clinic-a", Name: "Clinic A", Active: true}, time.Hour)
	require.NoError(t, err)

	_, err = Register(ctx, store, secret, models.Tenant{ID: "clinic-off", Name: "Closed", Active: false}, time.Hour)
	require.NoError(t, err)
	inactive, err := utils.GenerateTenantToken([]byte(secret), "clinic-off", time.Hour)
	require.NoError(t, err)

	ghost, err := utils.GenerateTenantToken([]byte(secret), "clinic-ghost", time.Hour)
	require.NoError(t, err)
	wrongKey, err := utils.GenerateTenantToken([]byte("other"), "clinic-a", time.Hour)
	require.NoError(t, err)
	expired, err := utils.GenerateTenantToken([]byte(secret), "clinic-a", -time.Minute)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{utils.TenantClaim: "clinic-a"}).
		SignedString([]byte(secret))
	require.NoError(t, err)
	noTid, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}).
		SignedString([]byte(secret))
	require.NoError(t, err)

	cases := []struct {
		name       string
		credential string
		want       string
	}{
		{"valid", token, "clinic-a"},
		{"bearer prefix", "Bearer " + token, "clinic-a"},
		{"empty", "", ""},
		{"garbage", "not-a-token", ""},
		{"wrong key", wrongKey, ""},
		{"expired", expired, ""},
		{"no expiry", noExp, ""},
		{"no tenant claim", noTid, ""},
		{"unknown tenant", ghost, ""},
		{"inactive tenant", inactive, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tc.credential)
			if tc.want == "" {
				assert.True(t, utils.IsUnauthorized(err), "expected unauthorized, got %v", err)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

type brokenRegistry struct{}

func (brokenRegistry) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return nil, utils.Infrastructure("registry timeout", errors.New("context deadline exceeded"))
}

func (brokenRegistry) UpsertTenant(ctx context.Context, tenant models.Tenant) error { return nil }

func TestResolve_RegistryDown(t *testing.T) {
	r := NewJWTResolver(secret, brokenRegistry{}, zap.NewNop())
	token, err := utils.GenerateTenantToken([]byte(secret), "clinic-a", time.Hour)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), token)
	assert.True(t, utils.IsInfrastructure(err))
}

func TestRegister_RequiresID(t *testing.T) {
	_, store := newTestResolver(t)
	_, err := Register(context.Background(), store, secret, models.Tenant{Name: "x"}, time.Hour)
	assert.True(t, utils.IsValidation(err))
}
