package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"slotkeeper/models"
	"slotkeeper/utils"
)

// LogPublisher records committed events in the log when no queue is configured.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) PublishCommitted(ctx context.Context, ev models.AppointmentCommitted) error {
	logger := p.Logger
	if logger == nil {
		logger = utils.GetLogger()
	}
	logger.Info("Appointment committed",
		zap.String("tenant", ev.TenantID),
		zap.String("appointment", ev.AppointmentID),
		zap.Time("start", ev.Start))
	return nil
}

// CommittedNotifier tells the customer their appointment is booked. It is
// the receiver of appointment:committed tasks.
type CommittedNotifier struct {
	SMS    Sender
	Email  Sender
	Logger *zap.Logger
}

func (n CommittedNotifier) Notify(ctx context.Context, ev models.AppointmentCommitted) error {
	if !ev.Contact.Reachable() {
		return nil
	}
	body := "Your appointment on " + ev.Start.Format("Mon Jan 2 at 15:04 MST") + " is confirmed."
	sender := n.Email
	if ev.Contact.Phone != "" {
		sender = n.SMS
	}
	return sender.Deliver(ctx, ev.Contact, "Appointment confirmed", body)
}


// InlinePublisher sends confirmations in-process and at most once per
// appointment within Window. A queue dedupes on the task id; this is the
// equivalent for deployments without one.
type InlinePublisher struct {
	Notifier CommittedNotifier
	Clock    utils.Clock
	Window   time.Duration

	mu   sync.Mutex
	sent map[string]time.Time
}

func NewInlinePublisher(n CommittedNotifier, clock utils.Clock) *InlinePublisher {
	if clock == nil {
		clock = utils.SystemClock()
	}
	return &InlinePublisher{Notifier: n, Clock: clock, Window: 24 * time.Hour, sent: map[string]time.Time{}}
}

func (p *InlinePublisher) PublishCommitted(ctx context.Context, ev models.AppointmentCommitted) error {
	if !p.claim(ev.AppointmentID) {
		return nil
	}
	if err := p.Notifier.Notify(ctx, ev); err != nil {
		p.mu.Lock()
		delete(p.sent, ev.AppointmentID)
		p.mu.Unlock()
		return err
	}
	return nil
}

// claim marks the appointment as sent and reports whether it was not already.
func (p *InlinePublisher) claim(appointmentID string) bool {
	now := p.Clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, at := range p.sent {
		if now.Sub(at) > p.Window {
			delete(p.sent, id)
		}
	}
	if _, ok := p.sent[appointmentID]; ok {
		return false
	}
	p.sent[appointmentID] = now
	return true
}
