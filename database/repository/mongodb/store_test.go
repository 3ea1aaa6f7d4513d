package mongoRepo

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"slotkeeper/database/repository"
	"slotkeeper/models"
	"slotkeeper/utils"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// createTestStore needs a replica set, e.g. MONGO_TEST_URI=mongodb://localhost:27017/?replicaSet=rs0
func createTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	dbName := "slotkeeper_test_" + uuid.NewString()[:8]
	s, err := NewMongoStore(client, dbName, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Database(dbName).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return s
}

func seedSlot(t *testing.T, s *Store, tenantID, slotID string) {
	t.Helper()
	_, err := s.UpsertSlots(context.Background(), []models.Slot{{
		TenantID: tenantID, ID: slotID, ResourceID: "dr-lee",
		Start: t0.Add(24 * time.Hour), End: t0.Add(24*time.Hour + 30*time.Minute), UpdatedAt: t0,
	}})
	require.NoError(t, err)
}

func TestClaimSlot_ConcurrentSingleWinner(t *testing.T) {
	s := createTestStore(t)
	seedSlot(t, s, "t1", "s1")

	const claimants = 5
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := fmt.Sprintf("h%d", i)
			err := utils.RetryInfra(context.Background(), utils.RetryPolicy{Attempts: 5, Backoff: 10 * time.Millisecond}, "claim",
				func(ctx context.Context) error {
					_, err := s.ClaimSlot(ctx, repository.ClaimRequest{
						TenantID: "t1", SlotID: "s1", HolderID: holder, HoldID: "hold-" + holder,
						TTL: 7 * time.Minute, Now: t0,
					})
					return err
				})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, utils.IsConflict(err), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	slot, err := s.GetSlot(context.Background(), "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SlotHeld, slot.Status)
	assert.Equal(t, int64(1), slot.Version)
}

func TestReleaseAndCommit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSlot(t, s, "t1", "s1")

	_, err := s.ClaimSlot(ctx, repository.ClaimRequest{
		TenantID: "t1", SlotID: "s1", HolderID: "h1", HoldID: "hold-1", TTL: time.Minute, Now: t0,
	})
	require.NoError(t, err)

	rel, err := s.ReleaseHold(ctx, repository.ReleaseRequest{TenantID: "t1", HoldID: "hold-1", Now: t0})
	require.NoError(t, err)
	assert.True(t, rel.Released)
	rel, err = s.ReleaseHold(ctx, repository.ReleaseRequest{TenantID: "t1", HoldID: "hold-1", Now: t0})
	require.NoError(t, err)
	assert.False(t, rel.Released)

	_, err = s.ClaimSlot(ctx, repository.ClaimRequest{
		TenantID: "t1", SlotID: "s1", HolderID: "h2", HoldID: "hold-2", TTL: time.Minute, Now: t0,
	})
	require.NoError(t, err)
	appt, err := s.CommitHold(ctx, repository.CommitRequest{
		TenantID: "t1", HoldID: "hold-2", AppointmentID: "a1", ConfirmationToken: "tok", Now: t0.Add(time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentConfirmed, appt.Status)

	slot, err := s.GetSlot(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SlotBooked, slot.Status)
}

func TestProcessedEvents_UniquePerTenant(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ev := models.ProcessedEvent{TenantID: "t1", EventID: "evt-1", Status: models.EventPending, CreatedAt: t0}

	inserted, err := s.InsertProcessedEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.InsertProcessedEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted)
}
