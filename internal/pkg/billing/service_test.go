package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/DanielKirsch/Faktura/app/models"
)

// fakeRepository is an in-memory Repository with the same freshness and
// conflict semantics as the GORM implementation.
type fakeRepository struct {
	mappings map[string]*models.CustomerMapping
	records  map[string]*models.SubscriptionRecord
	events   map[string]*models.BillingWebhookEvent
	settings map[uint]*models.UserSettings
	nextID   uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		mappings: make(map[string]*models.CustomerMapping),
		records:  make(map[string]*models.SubscriptionRecord),
		events:   make(map[string]*models.BillingWebhookEvent),
		settings: make(map[uint]*models.UserSettings),
	}
}

func customerKey(provider, externalCustomerID string) string {
	return provider + "|" + externalCustomerID
}

func (f *fakeRepository) Transaction(fn func(Repository) error) error {
	return fn(f)
}

func (f *fakeRepository) GetCustomerMapping(provider, externalCustomerID string) (*models.CustomerMapping, error) {
	if m, ok := f.mappings[customerKey(provider, externalCustomerID)]; ok {
		return m, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetCustomerMappingByUser(userID uint) (*models.CustomerMapping, error) {
	for _, m := range f.mappings {
		if m.UserID == userID {
			return m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) CreateCustomerMappingIfNotExists(mapping *models.CustomerMapping) error {
	key := customerKey(mapping.Provider, mapping.ExternalCustomerID)
	if existing, ok := f.mappings[key]; ok {
		*mapping = *existing
		return nil
	}
	f.nextID++
	mapping.ID = f.nextID
	stored := *mapping
	f.mappings[key] = &stored
	return nil
}

func (f *fakeRepository) GetSubscriptionRecord(provider, externalCustomerID string) (*models.SubscriptionRecord, error) {
	if r, ok := f.records[customerKey(provider, externalCustomerID)]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) ApplySubscriptionPatch(patch SubscriptionPatch) (bool, error) {
	key := customerKey(patch.Provider, patch.ExternalCustomerID)
	rec, ok := f.records[key]
	if !ok {
		insert := patch.Insert
		f.nextID++
		insert.ID = f.nextID
		f.records[key] = &insert
		return true, nil
	}
	if rec.LastEventAt != nil && rec.LastEventAt.After(patch.OrderedAt) {
		return false, nil
	}
	for column, value := range patch.Assignments {
		switch column {
		case "last_event_at":
			t := value.(time.Time)
			rec.LastEventAt = &t
		case "status":
			rec.Status = value.(string)
		case "plan_id":
			rec.PlanID = value.(string)
		case "external_subscription_id":
			rec.ExternalSubscriptionID = value.(string)
		case "current_period_start":
			t := value.(time.Time)
			rec.CurrentPeriodStart = &t
		case "current_period_end":
			t := value.(time.Time)
			rec.CurrentPeriodEnd = &t
		case "cancel_at_period_end":
			rec.CancelAtPeriodEnd = value.(bool)
		case "removed_at":
			if value == nil {
				rec.RemovedAt = nil
			} else {
				t := value.(time.Time)
				rec.RemovedAt = &t
			}
		default:
			return false, fmt.Errorf("unexpected assignment column %q", column)
		}
	}
	return true, nil
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	key := customerKey(event.Provider, event.ProviderEventID)
	if existing, ok := f.events[key]; ok {
		copied := *existing
		return false, &copied, nil
	}
	f.nextID++
	event.ID = f.nextID
	stored := *event
	f.events[key] = &stored
	copied := stored
	return true, &copied, nil
}

func (f *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	for _, e := range f.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	if us, ok := f.settings[userID]; ok {
		return us, nil
	}
	f.nextID++
	us := &models.UserSettings{ID: f.nextID, UserID: userID, Plan: "free"}
	f.settings[userID] = us
	return us, nil
}

func (f *fakeRepository) SaveUserSettings(us *models.UserSettings) error {
	f.settings[us.UserID] = us
	return nil
}

func (f *fakeRepository) addMapping(userID uint, externalCustomerID string) {
	f.nextID++
	m := &models.CustomerMapping{
		ID:                 f.nextID,
		UserID:             userID,
		Provider:           models.BillingProviderStripe,
		ExternalCustomerID: externalCustomerID,
	}
	f.mappings[customerKey(m.Provider, m.ExternalCustomerID)] = m
}

func subscriptionEvent(eventID, customerID, status string, at time.Time) *NormalizedEvent {
	s := status
	return &NormalizedEvent{
		EventID:                eventID,
		Kind:                   KindSubscriptionUpdated,
		RawType:                string(KindSubscriptionUpdated),
		ExternalCustomerID:     customerID,
		ExternalSubscriptionID: "sub_1",
		Status:                 &s,
		EventAt:                at,
		ReceivedAt:             at.Add(time.Second),
	}
}

func TestProcessEventAppliesSubscriptionUpdate(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	repo.addMapping(7, "cus_1")
	svc := NewService(repo)

	at := time.Unix(1700000000, 0)
	ev := subscriptionEvent("evt_1", "cus_1", models.SubStatusActive, at)
	plan := "price_premium"
	ev.PlanID = &plan
	periodEnd := at.Add(30 * 24 * time.Hour)
	ev.CurrentPeriodEnd = &periodEnd

	outcome, err := svc.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	rec, err := repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusActive, rec.Status)
	assert.Equal(t, "price_premium", rec.PlanID)
	require.NotNil(t, rec.LastEventAt)
	assert.Equal(t, at.Unix(), rec.LastEventAt.Unix())

	// The cached plan on the user's settings follows the record.
	us, err := repo.GetOrCreateUserSettings(7)
	require.NoError(t, err)
	assert.Equal(t, "premium", us.Plan)
}

func TestProcessEventIdempotentReplay(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	repo.addMapping(7, "cus_1")
	svc := NewService(repo)

	at := time.Unix(1700000000, 0)
	ev := subscriptionEvent("evt_1", "cus_1", models.SubStatusActive, at)

	for i := 0; i < 3; i++ {
		outcome, err := svc.ProcessEvent(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome, "equal timestamps re-apply onto identical state")
	}

	rec, err := repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusActive, rec.Status)
	assert.Equal(t, at.Unix(), rec.LastEventAt.Unix())
}

func TestProcessEventStaleDeliveryDoesNotRegress(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	repo.addMapping(7, "cus_1")
	svc := NewService(repo)

	fresh := time.Unix(1700000600, 0)
	outcome, err := svc.ProcessEvent(context.Background(), subscriptionEvent("evt_2", "cus_1", models.SubStatusActive, fresh))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	// The older event arrives late; the record must not move backwards.
	stale := time.Unix(1700000000, 0)
	outcome, err = svc.ProcessEvent(context.Background(), subscriptionEvent("evt_1", "cus_1", models.SubStatusTrialing, stale))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	rec, err := repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusActive, rec.Status)
	assert.Equal(t, fresh.Unix(), rec.LastEventAt.Unix())
}

func TestProcessEventDeletionThenLateUpdate(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	repo.addMapping(7, "cus_1")
	svc := NewService(repo)

	deletedAt := time.Unix(1700000600, 0)
	deletion := &NormalizedEvent{
		EventID:            "evt_del",
		Kind:               KindSubscriptionDeleted,
		RawType:            string(KindSubscriptionDeleted),
		ExternalCustomerID: "cus_1",
		EventAt:            deletedAt,
	}
	outcome, err := svc.ProcessEvent(context.Background(), deletion)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	rec, err := repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusCanceled, rec.Status)
	assert.True(t, rec.IsRemoved())

	// A delayed update predating the deletion must not resurrect the record.
	outcome, err = svc.ProcessEvent(context.Background(), subscriptionEvent("evt_old", "cus_1", models.SubStatusActive, deletedAt.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	rec, err = repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_1")
	require.NoError(t, err)
	assert.True(t, rec.IsRemoved())
	assert.Equal(t, models.SubStatusCanceled, rec.Status)

	us, err := repo.GetOrCreateUserSettings(7)
	require.NoError(t, err)
	assert.Equal(t, "free", us.Plan, "deletion downgrades the cached plan")
}

func TestProcessEventNewSubscriptionRestartsCycle(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	repo.addMapping(7, "cus_1")
	svc := NewService(repo)

	deletedAt := time.Unix(1700000000, 0)
	_, err := svc.ProcessEvent(context.Background(), &NormalizedEvent{
		EventID:            "evt_del",
		Kind:               KindSubscriptionDeleted,
		RawType:            string(KindSubscriptionDeleted),
		ExternalCustomerID: "cus_1",
		EventAt:            deletedAt,
	})
	require.NoError(t, err)

	// The same customer subscribes again later; the record restarts.
	ev := subscriptionEvent("evt_new", "cus_1", models.SubStatusActive, deletedAt.Add(time.Hour))
	ev.Kind = KindSubscriptionCreated
	outcome, err := svc.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	rec, err := repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_1")
	require.NoError(t, err)
	assert.False(t, rec.IsRemoved())
	assert.Equal(t, models.SubStatusActive, rec.Status)

	us, err := repo.GetOrCreateUserSettings(7)
	require.NoError(t, err)
	assert.Equal(t, "premium", us.Plan)
}

func TestProcessEventBootstrapsMappingFromMetadata(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := NewService(repo)

	ev := subscriptionEvent("evt_1", "cus_new", models.SubStatusTrialing, time.Unix(1700000000, 0))
	ev.AccountID = 42

	outcome, err := svc.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	mapping, err := repo.GetCustomerMapping(models.BillingProviderStripe, "cus_new")
	require.NoError(t, err)
	assert.Equal(t, uint(42), mapping.UserID)

	us, err := repo.GetOrCreateUserSettings(42)
	require.NoError(t, err)
	assert.Equal(t, "premium", us.Plan)
}

func TestProcessEventOrphanedCustomerIsAckedNoOp(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := NewService(repo)

	ev := subscriptionEvent("evt_1", "cus_unknown", models.SubStatusActive, time.Unix(1700000000, 0))

	outcome, err := svc.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOrphaned, outcome)

	_, err = repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_unknown")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound, "no record may be written for an unmapped customer")
	assert.Empty(t, repo.mappings)
}

func TestProcessEventIgnoresUnrecognizedKind(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := NewService(repo)

	outcome, err := svc.ProcessEvent(context.Background(), &NormalizedEvent{
		EventID: "evt_1",
		Kind:    KindUnrecognized,
		RawType: "charge.refunded",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, repo.records)
}

func TestProcessEventPartialInvoiceKeepsPlan(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	repo.addMapping(7, "cus_1")
	svc := NewService(repo)

	at := time.Unix(1700000000, 0)
	full := subscriptionEvent("evt_1", "cus_1", models.SubStatusPastDue, at)
	plan := "price_premium"
	full.PlanID = &plan
	_, err := svc.ProcessEvent(context.Background(), full)
	require.NoError(t, err)

	// A later invoice payment flips status and periods but carries no plan;
	// the stored plan id must survive.
	active := models.SubStatusActive
	periodEnd := at.Add(30 * 24 * time.Hour)
	invoice := &NormalizedEvent{
		EventID:            "evt_2",
		Kind:               KindInvoicePaid,
		RawType:            string(KindInvoicePaid),
		ExternalCustomerID: "cus_1",
		Status:             &active,
		CurrentPeriodEnd:   &periodEnd,
		EventAt:            at.Add(time.Hour),
	}
	outcome, err := svc.ProcessEvent(context.Background(), invoice)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	rec, err := repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusActive, rec.Status)
	assert.Equal(t, "price_premium", rec.PlanID)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.Equal(t, periodEnd.Unix(), rec.CurrentPeriodEnd.Unix())
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)

	// Unique per run so the Redis fast path from earlier runs cannot
	// interfere when a local cache server is around.
	eventID := fmt.Sprintf("evt_%d", time.Now().UnixNano())
	ev := subscriptionEvent(eventID, "cus_1", models.SubStatusActive, time.Now())
	ev.RawPayload = []byte(`{}`)

	created, stored, err := svc.RecordWebhookEvent(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, stored)
	assert.Equal(t, eventID, stored.ProviderEventID)

	created, _, err = svc.RecordWebhookEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, created, "replayed delivery must not count as created")
}

func TestRecordWebhookEventRequiresEventID(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeRepository())
	_, _, err := svc.RecordWebhookEvent(context.Background(), &NormalizedEvent{})
	assert.Error(t, err)
}

func TestReconcileUserPlanWithoutSubscription(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	svc := NewService(repo)

	plan, err := svc.ReconcileUserPlan(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "free", plan)
}

func TestGetOverview(t *testing.T) {
	t.Parallel()

	repo := newFakeRepository()
	repo.addMapping(7, "cus_1")
	svc := NewService(repo)

	at := time.Now().Add(-time.Hour)
	ev := subscriptionEvent("evt_1", "cus_1", models.SubStatusActive, at)
	plan := "price_premium"
	ev.PlanID = &plan
	periodEnd := time.Now().Add(29 * 24 * time.Hour)
	ev.CurrentPeriodEnd = &periodEnd
	_, err := svc.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)

	overview, err := svc.GetOverview(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "premium", overview.Plan)
	assert.True(t, overview.Entitled)
	assert.Equal(t, "active", overview.Reason)
	assert.Equal(t, "cus_1", overview.ExternalCustomerID)
	assert.Equal(t, "price_premium", overview.PlanID)

	// An account with no subscription still gets a well-formed projection.
	empty, err := svc.GetOverview(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, "free", empty.Plan)
	assert.False(t, empty.Entitled)
	assert.Equal(t, "none", empty.Reason)
}

// flakyRepository fails the first failPatches patch applications, standing in
// for a datastore that drops the reducer transaction mid-flight.
type flakyRepository struct {
	*fakeRepository
	failPatches int
}

func (f *flakyRepository) Transaction(fn func(Repository) error) error {
	return fn(f)
}

func (f *flakyRepository) ApplySubscriptionPatch(patch SubscriptionPatch) (bool, error) {
	if f.failPatches > 0 {
		f.failPatches--
		return false, errors.New("driver: bad connection")
	}
	return f.fakeRepository.ApplySubscriptionPatch(patch)
}

func TestWebhookRedeliveryAfterTransientFailure(t *testing.T) {
	repo := newFakeRepository()
	repo.addMapping(7, "cus_1")
	flaky := &flakyRepository{fakeRepository: repo, failPatches: 1}
	svc := NewService(flaky)

	ctx := context.Background()
	// Unique per run so the Redis fast path from earlier runs cannot
	// interfere when a local cache server is around.
	eventID := fmt.Sprintf("evt_retry_%d", time.Now().UnixNano())
	ev := subscriptionEvent(eventID, "cus_1", models.SubStatusActive, time.Unix(1700000000, 0))
	ev.RawPayload = []byte(`{}`)

	// First delivery: the event is recorded but the reducer transaction dies.
	created, stored, err := svc.RecordWebhookEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, stored)

	_, processErr := svc.ProcessEvent(ctx, ev)
	require.Error(t, processErr)
	require.NoError(t, svc.MarkWebhookProcessed(ctx, stored.ID, ev.EventID, processErr))

	_, err = repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_1")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// The provider retries the 500. The delivery is a durable duplicate, but
	// the stored row carries the failure, so it must run the reducer again.
	created, redelivered, err := svc.RecordWebhookEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, redelivered, "a failed delivery must not be absorbed by the fast path")
	assert.False(t, redelivered.IsProcessed())

	outcome, processErr := svc.ProcessEvent(ctx, ev)
	require.NoError(t, processErr)
	assert.Equal(t, OutcomeApplied, outcome)
	require.NoError(t, svc.MarkWebhookProcessed(ctx, redelivered.ID, ev.EventID, nil))

	rec, err := repo.GetSubscriptionRecord(models.BillingProviderStripe, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusActive, rec.Status)

	// A third delivery after the clean run is an ordinary duplicate.
	created, replayed, err := svc.RecordWebhookEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, created)
	if replayed != nil {
		assert.True(t, replayed.IsProcessed())
	}
}
