package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"slotkeeper/models"
)

const (
	TypeReapHolds            = "holds:reap"
	TypePruneEvents          = "events:prune"
	TypeAppointmentCommitted = "appointment:committed"
)

// NewReapTask sweeps expired holds. Periodic runs are deduplicated by asynq.Unique.
func NewReapTask(interval time.Duration) (*asynq.Task, []asynq.Option) {
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(interval),
		asynq.Unique(interval),
	}
	return asynq.NewTask(TypeReapHolds, nil), opts
}

func NewPruneTask() (*asynq.Task, []asynq.Option) {
	opts := []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	}
	return asynq.NewTask(TypePruneEvents, nil), opts
}

// NewCommittedTask uses the appointment id as task id, so one commit yields one task.
func NewCommittedTask(ev models.AppointmentCommitted) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeAppointmentCommitted, b)
	opts := []asynq.Option{
		asynq.TaskID(ev.AppointmentID),
		asynq.MaxRetry(10),
		asynq.Retention(24 * time.Hour),
	}
	return task, opts, nil
}

// ParseCommitted decodes the payload of an appointment:committed task.
func ParseCommitted(task *asynq.Task) (models.AppointmentCommitted, error) {
	var ev models.AppointmentCommitted
	err := json.Unmarshal(task.Payload(), &ev)
	return ev, err
}

// Enqueuer is the part of *asynq.Client the publisher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqPublisher emits committed events onto the task queue.
type AsynqPublisher struct {
	Client Enqueuer
}

func (p AsynqPublisher) PublishCommitted(ctx context.Context, ev models.AppointmentCommitted) error {
	task, opts, err := NewCommittedTask(ev)
	if err != nil {
		return err
	}
	_, err = p.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}
