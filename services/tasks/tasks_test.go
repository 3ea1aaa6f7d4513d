package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/models"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	if r.err != nil {
		return nil, r.err
	}
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func TestCommittedTaskRoundTrip(t *testing.T) {
	ev := models.AppointmentCommitted{
		AppointmentID: "appt-1",
		TenantID:      "t1",
		Start:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Contact:       models.ContactInfo{Phone: "+14155550100"},
	}
	task, opts, err := NewCommittedTask(ev)
	require.NoError(t, err)
	assert.Equal(t, TypeAppointmentCommitted, task.Type())
	assert.Len(t, opts, 3)

	got, err := ParseCommitted(task)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = ParseCommitted(asynq.NewTask(TypeAppointmentCommitted, []byte("{")))
	assert.Error(t, err)
}

func TestAsynqPublisher(t *testing.T) {
	ctx := context.Background()
	ev := models.AppointmentCommitted{AppointmentID: "appt-1", TenantID: "t1"}

	q := &recordingEnqueuer{}
	require.NoError(t, AsynqPublisher{Client: q}.PublishCommitted(ctx, ev))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeAppointmentCommitted, q.tasks[0].Type())

	// A second publish of the same appointment is already queued.
	dup := &recordingEnqueuer{err: asynq.ErrTaskIDConflict}
	assert.NoError(t, AsynqPublisher{Client: dup}.PublishCommitted(ctx, ev))

	down := &recordingEnqueuer{err: errors.New("dial tcp: connection refused")}
	assert.Error(t, AsynqPublisher{Client: down}.PublishCommitted(ctx, ev))
}

func TestPeriodicTasks(t *testing.T) {
	reap, reapOpts := NewReapTask(30 * time.Second)
	assert.Equal(t, TypeReapHolds, reap.Type())
	assert.Len(t, reapOpts, 3)

	prune, pruneOpts := NewPruneTask()
	assert.Equal(t, TypePruneEvents, prune.Type())
	assert.Len(t, pruneOpts, 2)
}
