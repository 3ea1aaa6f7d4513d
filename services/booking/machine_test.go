package booking

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slotkeeper/database/repository"
	sqliteRepo "slotkeeper/database/repository/sqlite"
	"slotkeeper/models"
	"slotkeeper/services/audit"
	"slotkeeper/services/catalog"
	"slotkeeper/services/reservation"
	"slotkeeper/utils"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const goodCode = "123456"

type fakeChannel struct {
	mu        sync.Mutex
	sent      int
	verifyErr error
}

func (f *fakeChannel) Send(ctx context.Context, tenantID, interactionID string, contact models.ContactInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeChannel) Verify(ctx context.Context, tenantID, interactionID, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return code == goodCode, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.AppointmentCommitted
}

func (p *fakePublisher) PublishCommitted(ctx context.Context, ev models.AppointmentCommitted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type harness struct {
	store     *sqliteRepo.Store
	clock     *utils.FakeClock
	engine    *reservation.Engine
	channel   *fakeChannel
	publisher *fakePublisher
	machine   *Machine
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	store, err := sqliteRepo.Open(filepath.Join(t.TempDir(), "booking.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	logger := zap.NewNop()
	clock := utils.NewFakeClock(t0)
	retry := utils.RetryPolicy{Attempts: 1}
	auditSvc := audit.NewDefaultAuditService(store, clock, logger)
	engine := reservation.NewEngine(store, nil, auditSvc, clock, logger, 7*time.Minute, 10, retry)
	catalogSvc := catalog.NewDefaultCatalogService(store, clock, logger)

	h := &harness{
		store:     store,
		clock:     clock,
		engine:    engine,
		channel:   &fakeChannel{},
		publisher: &fakePublisher{},
	}
	h.machine = NewMachine(store, store, engine, catalogSvc, h.channel, h.publisher, auditSvc, clock, logger, settings, retry)

	var slots []models.Slot
	for i, id := range []string{"s1", "s2", "s3", "s4"} {
		start := t0.Add(24*time.Hour + time.Duration(i)*30*time.Minute)
		slots = append(slots, models.Slot{
			TenantID:   "t1",
			ID:         id,
			ResourceID: "dr-lee",
			Start:      start,
			End:        start.Add(30 * time.Minute),
		})
	}
	_, err = catalogSvc.Sync(context.Background(), staticSource(slots))
	require.NoError(t, err)
	return h
}

type staticSource []models.Slot

func (s staticSource) Fetch(ctx context.Context) ([]models.Slot, error) { return s, nil }

func defaultSettings() Settings {
	return Settings{MaxConfirmAttempts: 3, VerifyTimeout: time.Second, Alternatives: 2}
}

func (h *harness) call(intent models.Intent, correlationID string, mutate ...func(*models.ToolCallRequest)) models.ToolCallResponse {
	req := models.ToolCallRequest{CorrelationID: correlationID, Intent: intent}
	for _, fn := range mutate {
		fn(&req)
	}
	return h.machine.Handle(context.Background(), "t1", req)
}

func (h *harness) reserve(correlationID, slotID string) models.ToolCallResponse {
	return h.call(models.IntentReserve, correlationID, func(r *models.ToolCallRequest) {
		r.SlotID = slotID
		r.ContactInfo = &models.ContactInfo{Name: "jane doe", Phone: "(555) 123-4567"}
	})
}

func (h *harness) confirm(correlationID, code string) models.ToolCallResponse {
	return h.call(models.IntentConfirm, correlationID, func(r *models.ToolCallRequest) {
		r.ConfirmationCode = code
	})
}

func (h *harness) interaction(t *testing.T, correlationID string) *models.Interaction {
	t.Helper()
	it, err := h.store.GetInteraction(context.Background(), "t1", correlationID)
	require.NoError(t, err)
	return it
}

func (h *harness) slot(t *testing.T, slotID string) *models.Slot {
	t.Helper()
	s, err := h.store.GetSlot(context.Background(), "t1", slotID)
	require.NoError(t, err)
	return s
}

func TestHandle_HappyPath(t *testing.T) {
	h := newHarness(t, defaultSettings())

	avail := h.call(models.IntentCheckAvailability, "call-1", func(r *models.ToolCallRequest) { r.ResourceID = "dr-lee" })
	assert.Equal(t, models.OutcomeAvailable, avail.Outcome)
	assert.Len(t, avail.Data.AlternativeSlots, 4)
	assert.Equal(t, models.StateCheckingAvailability, h.interaction(t, "call-1").State)

	held := h.reserve("call-1", "s1")
	require.Equal(t, models.OutcomeHeld, held.Outcome, held.Message)
	assert.NotEmpty(t, held.Data.HoldID)
	assert.Equal(t, 1, h.channel.sent)

	it := h.interaction(t, "call-1")
	assert.Equal(t, models.StateHeld, it.State)
	assert.Equal(t, "+15551234567", it.Contact.Phone)
	assert.Equal(t, "Jane Doe", it.Contact.Name)
	assert.Equal(t, models.SlotHeld, h.slot(t, "s1").Status)

	wrong := h.confirm("call-1", "000000")
	assert.Equal(t, models.OutcomeHeld, wrong.Outcome)
	assert.Contains(t, wrong.Message, "2 attempts left")

	booked := h.confirm("call-1", goodCode)
	require.Equal(t, models.OutcomeBooked, booked.Outcome, booked.Message)
	require.NotEmpty(t, booked.Data.AppointmentID)

	it = h.interaction(t, "call-1")
	assert.Equal(t, models.StateBooked, it.State)
	assert.Equal(t, booked.Data.AppointmentID, it.AppointmentID)
	assert.Equal(t, models.SlotBooked, h.slot(t, "s1").Status)

	hold, err := h.store.GetHold(context.Background(), "t1", held.Data.HoldID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldCommitted, hold.Status)

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, booked.Data.AppointmentID, h.publisher.events[0].AppointmentID)
	assert.Equal(t, "+15551234567", h.publisher.events[0].Contact.Phone)

	again := h.confirm("call-1", goodCode)
	assert.Equal(t, models.OutcomeBooked, again.Outcome)
	assert.Equal(t, booked.Data.AppointmentID, again.Data.AppointmentID)
	assert.Len(t, h.publisher.events, 1, "replayed confirm must not publish again")
}

func TestHandle_ConflictOffersAlternatives(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)

	resp := h.reserve("call-2", "s1")
	assert.Equal(t, models.OutcomeConflict, resp.Outcome)
	require.Len(t, resp.Data.AlternativeSlots, 2)
	for _, alt := range resp.Data.AlternativeSlots {
		assert.NotEqual(t, "s1", alt.ID)
	}
	assert.Equal(t, "s2", resp.Data.AlternativeSlots[0].ID)
	assert.Equal(t, models.StateCheckingAvailability, h.interaction(t, "call-2").State)

	// The losing caller can still take an alternative.
	assert.Equal(t, models.OutcomeHeld, h.reserve("call-2", "s2").Outcome)
}

func TestHandle_ReserveSameSlotIsIdempotent(t *testing.T) {
	h := newHarness(t, defaultSettings())

	first := h.reserve("call-1", "s1")
	second := h.reserve("call-1", "s1")
	assert.Equal(t, models.OutcomeHeld, second.Outcome)
	assert.Equal(t, first.Data.HoldID, second.Data.HoldID)
	assert.Equal(t, int64(1), h.slot(t, "s1").Version)
}

func TestHandle_ReserveDifferentSlotReleasesFirst(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	resp := h.reserve("call-1", "s2")
	require.Equal(t, models.OutcomeHeld, resp.Outcome, resp.Message)

	assert.Equal(t, models.SlotAvailable, h.slot(t, "s1").Status)
	assert.Equal(t, models.SlotHeld, h.slot(t, "s2").Status)
	it := h.interaction(t, "call-1")
	assert.Equal(t, "s2", it.SlotID)
	assert.Equal(t, resp.Data.HoldID, it.HoldID)
}

func TestHandle_TooManyWrongCodes(t *testing.T) {
	settings := defaultSettings()
	settings.MaxConfirmAttempts = 2
	h := newHarness(t, settings)

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	assert.Equal(t, models.OutcomeHeld, h.confirm("call-1", "111111").Outcome)

	resp := h.confirm("call-1", "222222")
	assert.Equal(t, models.OutcomeError, resp.Outcome)
	assert.Equal(t, msgTooManyAttempts, resp.Message)

	assert.Equal(t, models.StateFailed, h.interaction(t, "call-1").State)
	assert.Equal(t, models.SlotAvailable, h.slot(t, "s1").Status)
}

func TestHandle_HoldExpiresBeforeConfirm(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	h.clock.Advance(8 * time.Minute)

	resp := h.confirm("call-1", goodCode)
	assert.Equal(t, models.OutcomeExpired, resp.Outcome)
	assert.NotEmpty(t, resp.Data.AlternativeSlots)

	assert.Equal(t, models.StateExpired, h.interaction(t, "call-1").State)
	assert.Equal(t, models.SlotAvailable, h.slot(t, "s1").Status)
	assert.Empty(t, h.publisher.events)
}

func TestHandle_ReaperExpiresInteraction(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	h.clock.Advance(8 * time.Minute)

	report, err := h.engine.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Released)

	it := h.interaction(t, "call-1")
	assert.Equal(t, models.StateExpired, it.State)
	assert.Equal(t, []string{"held>expired"}, h.transitionsFrom(t, it.ID, models.StateHeld))
	assert.Equal(t, models.OutcomeExpired, h.confirm("call-1", goodCode).Outcome)
}

func TestHandle_SwitchingSlotsAuditsReleaseOnce(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s2").Outcome)

	it := h.interaction(t, "call-1")
	assert.Equal(t, []string{"held>checking_availability"}, h.transitionsFrom(t, it.ID, models.StateHeld))
}

// transitionsFrom lists the successful audited moves out of a state.
func (h *harness) transitionsFrom(t *testing.T, interactionID string, from models.InteractionState) []string {
	t.Helper()
	entries, err := h.store.ListAudit(context.Background(), repository.AuditQuery{TenantID: "t1", InteractionID: interactionID})
	require.NoError(t, err)
	var moves []string
	for _, e := range entries {
		if e.Kind == models.AuditTransition && e.Outcome == models.AuditSuccess && e.FromState == string(from) {
			moves = append(moves, e.FromState+">"+e.ToState)
		}
	}
	return moves
}

func TestHandle_VerifierUnavailable(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.channel.verifyErr = utils.Infrastructure("verifier down", errors.New("dial tcp"))

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	resp := h.confirm("call-1", goodCode)
	assert.Equal(t, models.OutcomeHeld, resp.Outcome)
	assert.Equal(t, msgVerifyLater, resp.Message)

	it := h.interaction(t, "call-1")
	assert.Equal(t, models.StateHeld, it.State)
	assert.Equal(t, 0, it.ConfirmAttempts)

	h.channel.verifyErr = nil
	assert.Equal(t, models.OutcomeBooked, h.confirm("call-1", goodCode).Outcome)
}

func TestHandle_ConfirmWithoutCodeResends(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	resp := h.confirm("call-1", "")
	assert.Equal(t, models.OutcomeHeld, resp.Outcome)
	assert.Equal(t, msgCodeResent, resp.Message)
	assert.Equal(t, 2, h.channel.sent)
}

func TestHandle_CancelHeld(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	resp := h.call(models.IntentCancel, "call-1")
	assert.Equal(t, models.OutcomeCancelled, resp.Outcome)

	it := h.interaction(t, "call-1")
	assert.Equal(t, models.StateCheckingAvailability, it.State)
	assert.Empty(t, it.HoldID)
	assert.Equal(t, models.SlotAvailable, h.slot(t, "s1").Status)

	assert.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
}

func TestHandle_CancelBooked(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	booked := h.confirm("call-1", goodCode)
	require.Equal(t, models.OutcomeBooked, booked.Outcome)
	versionBefore := h.slot(t, "s1").Version

	resp := h.call(models.IntentCancel, "call-1")
	assert.Equal(t, models.OutcomeCancelled, resp.Outcome)
	assert.Equal(t, booked.Data.AppointmentID, resp.Data.AppointmentID)

	slot := h.slot(t, "s1")
	assert.Equal(t, models.SlotAvailable, slot.Status)
	assert.Equal(t, versionBefore+1, slot.Version)
	assert.Equal(t, models.StateBooked, h.interaction(t, "call-1").State)

	appt, err := h.store.GetAppointment(context.Background(), "t1", booked.Data.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCancelled, appt.Status)
}

func TestHandle_CancelNothing(t *testing.T) {
	h := newHarness(t, defaultSettings())
	resp := h.call(models.IntentCancel, "call-1")
	assert.Equal(t, models.OutcomeCancelled, resp.Outcome)
	assert.Equal(t, msgNothingToCancel, resp.Message)
}

func TestHandle_InvalidContactFailsInteraction(t *testing.T) {
	h := newHarness(t, defaultSettings())

	resp := h.call(models.IntentReserve, "call-1", func(r *models.ToolCallRequest) {
		r.SlotID = "s1"
		r.ContactInfo = &models.ContactInfo{Phone: "12"}
	})
	assert.Equal(t, models.OutcomeError, resp.Outcome)
	assert.NotContains(t, resp.Message, "12")

	assert.Equal(t, models.StateFailed, h.interaction(t, "call-1").State)
	assert.Equal(t, models.SlotAvailable, h.slot(t, "s1").Status)
}

func TestHandle_UnknownIntentFailsAndReleases(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	resp := h.call("teleport", "call-1")
	assert.Equal(t, models.OutcomeError, resp.Outcome)

	assert.Equal(t, models.StateFailed, h.interaction(t, "call-1").State)
	assert.Equal(t, models.SlotAvailable, h.slot(t, "s1").Status)
}

func TestHandle_MissingCorrelation(t *testing.T) {
	h := newHarness(t, defaultSettings())
	resp := h.call(models.IntentCheckAvailability, "  ")
	assert.Equal(t, models.OutcomeError, resp.Outcome)
	assert.Equal(t, msgMissingSession, resp.Message)
}

func TestHandle_ConcurrentReservesOneWinner(t *testing.T) {
	h := newHarness(t, defaultSettings())

	const callers = 5
	var wg sync.WaitGroup
	outcomes := make([]models.Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = h.reserve("call-"+string(rune('a'+i)), "s1").Outcome
		}(i)
	}
	wg.Wait()

	held := 0
	for _, o := range outcomes {
		if o == models.OutcomeHeld {
			held++
		} else {
			assert.Equal(t, models.OutcomeConflict, o)
		}
	}
	assert.Equal(t, 1, held)
}

func TestCompleteVerification(t *testing.T) {
	h := newHarness(t, defaultSettings())
	ctx := context.Background()

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)

	out, err := h.machine.CompleteVerification(ctx, "t1", "call-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.EventResultSucceeded, out.Result)
	assert.Equal(t, string(models.OutcomeBooked), out.Data["outcome"])
	assert.NotEmpty(t, out.Data["appointment_id"])
	assert.Equal(t, models.StateBooked, h.interaction(t, "call-1").State)

	out, err = h.machine.CompleteVerification(ctx, "t1", "call-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.EventResultIgnored, out.Result)

	out, err = h.machine.CompleteVerification(ctx, "t1", "missing", false)
	require.NoError(t, err)
	assert.Equal(t, models.EventResultIgnored, out.Result)
}

func TestCompleteVerification_Failed(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	out, err := h.machine.CompleteVerification(context.Background(), "t1", "call-1", false)
	require.NoError(t, err)
	assert.Equal(t, string(models.OutcomeHeld), out.Data["outcome"])

	it := h.interaction(t, "call-1")
	assert.Equal(t, models.StateHeld, it.State)
	assert.Equal(t, 1, it.ConfirmAttempts)
}

func TestCancelInteraction(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	out, err := h.machine.CancelInteraction(context.Background(), "t1", "call-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.OutcomeCancelled), out.Data["outcome"])
	assert.Equal(t, models.SlotAvailable, h.slot(t, "s1").Status)
}

func TestAuditRecordsTransitions(t *testing.T) {
	h := newHarness(t, defaultSettings())

	require.Equal(t, models.OutcomeHeld, h.reserve("call-1", "s1").Outcome)
	require.Equal(t, models.OutcomeBooked, h.confirm("call-1", goodCode).Outcome)

	it := h.interaction(t, "call-1")
	entries, err := h.store.ListAudit(context.Background(), repository.AuditQuery{TenantID: "t1", InteractionID: it.ID})
	require.NoError(t, err)

	var moves []string
	for _, e := range entries {
		if e.Kind == models.AuditTransition && e.Outcome == models.AuditSuccess {
			moves = append(moves, e.FromState+">"+e.ToState)
		}
	}
	assert.Equal(t, []string{
		">initiated",
		"initiated>checking_availability",
		"checking_availability>held",
		"held>confirming",
		"confirming>booked",
	}, moves)
}
