package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slotkeeper/models"
	"slotkeeper/services/idempotency"
	"slotkeeper/services/reservation"
	"slotkeeper/services/tasks"
)

type stubEngine struct {
	reservation.ReservationEngine
	reaps int
	err   error
}

func (s *stubEngine) Reap(ctx context.Context) (reservation.ReapReport, error) {
	s.reaps++
	return reservation.ReapReport{Released: 1}, s.err
}

type stubGuard struct {
	idempotency.Guard
	prunes int
}

func (g *stubGuard) Prune(ctx context.Context) (int64, error) {
	g.prunes++
	return 3, nil
}

type recordingHandler struct {
	got []models.AppointmentCommitted
}

func (r *recordingHandler) Notify(ctx context.Context, ev models.AppointmentCommitted) error {
	r.got = append(r.got, ev)
	return nil
}

func TestHandleReap(t *testing.T) {
	engine := &stubEngine{}
	jobs := Jobs{Engine: engine, Logger: zap.NewNop()}

	require.NoError(t, jobs.handleReap(context.Background(), asynq.NewTask(tasks.TypeReapHolds, nil)))
	assert.Equal(t, 1, engine.reaps)

	engine.err = errors.New("store down")
	assert.Error(t, jobs.handleReap(context.Background(), nil))
}

func TestHandlePrune(t *testing.T) {
	guard := &stubGuard{}
	jobs := Jobs{Guard: guard, Logger: zap.NewNop()}
	require.NoError(t, jobs.handlePrune(context.Background(), asynq.NewTask(tasks.TypePruneEvents, nil)))
	assert.Equal(t, 1, guard.prunes)
}

func TestHandleCommitted(t *testing.T) {
	handler := &recordingHandler{}
	jobs := Jobs{Committed: handler, Logger: zap.NewNop()}

	ev := models.AppointmentCommitted{
		AppointmentID: "appt-1",
		TenantID:      "t1",
		Start:         time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
		Contact:       models.ContactInfo{Phone: "+15551234567"},
	}
	task, opts, err := tasks.NewCommittedTask(ev)
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	require.NoError(t, jobs.handleCommitted(context.Background(), task))
	require.Len(t, handler.got, 1)
	assert.Equal(t, ev.AppointmentID, handler.got[0].AppointmentID)
	assert.True(t, ev.Start.Equal(handler.got[0].Start))

	err = jobs.handleCommitted(context.Background(), asynq.NewTask(tasks.TypeAppointmentCommitted, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 15s", every(15*time.Second))
	assert.Equal(t, "@every 1h0m0s", every(time.Hour))
}
